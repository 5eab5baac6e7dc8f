package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// imageExtensions are the file types picked up from an image directory.
var imageExtensions = map[string]bool{
	".jpg": true,
	".png": true,
	".gif": true,
}

// ImageFile is a decoded image ready to attach.
type ImageFile struct {
	Name   string
	Path   string
	Width  int
	Height int
}

// ImageLoader reads image directories named in the images column.
// Relative directories resolve against Root.
type ImageLoader struct {
	Root string
}

func (l ImageLoader) resolve(dir string) string {
	if filepath.IsAbs(dir) || l.Root == "" {
		return filepath.Clean(dir)
	}
	return filepath.Join(l.Root, dir)
}

// Load lists and decodes the images in dir, sorted by file name. A missing
// directory or an undecodable image is an error.
func (l ImageLoader) Load(dir string) ([]ImageFile, error) {
	path := l.resolve(dir)

	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("image directory %s not found", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read image directory %s: %w", dir, err)
	}

	var files []ImageFile
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		full := filepath.Join(path, e.Name())
		img, err := imaging.Open(full)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", e.Name(), err)
		}
		b := img.Bounds()
		files = append(files, ImageFile{Name: e.Name(), Path: full, Width: b.Dx(), Height: b.Dy()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// attachImages adds the directory's images to a variant. Files already
// attached under the same name are skipped, so re-imports do not duplicate.
func (l ImageLoader) attachImages(ctx context.Context, tx catalog.Tx, variantID int64, dir string) error {
	if dir == "" {
		return nil
	}
	files, err := l.Load(dir)
	if err != nil {
		return err
	}

	existing, err := tx.ListImages(ctx, variantID)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	attached := make(map[string]bool, len(existing))
	for _, img := range existing {
		attached[strings.ToLower(img.FileName)] = true
	}

	position := len(existing)
	for _, f := range files {
		if attached[strings.ToLower(f.Name)] {
			continue
		}
		position++
		img := &catalog.Image{
			VariantID: variantID,
			FileName:  f.Name,
			Path:      f.Path,
			Width:     f.Width,
			Height:    f.Height,
			Position:  position,
		}
		if err := tx.CreateImage(ctx, img); err != nil {
			return fmt.Errorf("attach image %s: %w", f.Name, err)
		}
	}
	return nil
}
