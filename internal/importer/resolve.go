package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// DefaultShippingCategory is used when a product row names none.
const DefaultShippingCategory = "Default"

// resolver finds or creates the reference entities rows point at. All
// lookups are case-insensitive, so resolving the same name twice yields
// the same entity.
type resolver struct {
	tx catalog.Tx
}

// taxCategory returns nil for a blank name.
func (r resolver) taxCategory(ctx context.Context, name string) (*catalog.TaxCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	c, err := r.tx.FindTaxCategory(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("find tax category %q: %w", name, err)
	}
	c = &catalog.TaxCategory{Name: name}
	if err := r.tx.CreateTaxCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("create tax category %q: %w", name, err)
	}
	return c, nil
}

// shippingCategory never returns nil. A blank name falls back to the
// "Default" category, then to any existing one; it never creates.
func (r resolver) shippingCategory(ctx context.Context, name string) (*catalog.ShippingCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		c, err := r.tx.FindShippingCategory(ctx, DefaultShippingCategory)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("find default shipping category: %w", err)
		}
		c, err = r.tx.FirstShippingCategory(ctx)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, errors.New("no shipping category available")
		}
		if err != nil {
			return nil, fmt.Errorf("find shipping category: %w", err)
		}
		return c, nil
	}

	c, err := r.tx.FindShippingCategory(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("find shipping category %q: %w", name, err)
	}
	c = &catalog.ShippingCategory{Name: name}
	if err := r.tx.CreateShippingCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("create shipping category %q: %w", name, err)
	}
	return c, nil
}

// optionType stores names lower-cased and keeps the given text as the
// presentation.
func (r resolver) optionType(ctx context.Context, name string) (*catalog.OptionType, error) {
	presentation := strings.TrimSpace(name)
	key := strings.ToLower(presentation)
	if key == "" {
		return nil, errors.New("option type name is blank")
	}
	t, err := r.tx.FindOptionType(ctx, key)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("find option type %q: %w", key, err)
	}
	t = &catalog.OptionType{Name: key, Presentation: presentation}
	if err := r.tx.CreateOptionType(ctx, t); err != nil {
		return nil, fmt.Errorf("create option type %q: %w", key, err)
	}
	return t, nil
}

// optionValue resolves a value within its option type.
func (r resolver) optionValue(ctx context.Context, optionType *catalog.OptionType, name string) (*catalog.OptionValue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &OptionValueMissingError{OptionType: optionType.Name}
	}
	v, err := r.tx.FindOptionValue(ctx, optionType.ID, name)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("find option value %q: %w", name, err)
	}
	v = &catalog.OptionValue{OptionTypeID: optionType.ID, Name: name, Presentation: name}
	if err := r.tx.CreateOptionValue(ctx, v); err != nil {
		return nil, fmt.Errorf("create option value %q: %w", name, err)
	}
	return v, nil
}

// taxon walks a "Root->Child->Leaf" chain and returns the leaf. Taxons are
// never created; a missing segment yields catalog.ErrNotFound.
func (r resolver) taxon(ctx context.Context, path string) (*catalog.Taxon, error) {
	segments := SplitTaxonPath(path)
	if len(segments) == 0 {
		return nil, catalog.ErrNotFound
	}

	current, err := r.tx.FindRootTaxon(ctx, segments[0])
	if err != nil {
		return nil, err
	}
	for _, name := range segments[1:] {
		current, err = r.tx.FindChildTaxon(ctx, current.ID, name)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// property finds or creates a property definition.
func (r resolver) property(ctx context.Context, name string) (*catalog.Property, error) {
	name = strings.TrimSpace(name)
	p, err := r.tx.FindProperty(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("find property %q: %w", name, err)
	}
	p = &catalog.Property{Name: name, Presentation: name}
	if err := r.tx.CreateProperty(ctx, p); err != nil {
		return nil, fmt.Errorf("create property %q: %w", name, err)
	}
	return p, nil
}

// stockLocation resolves a named location, or the single default location
// when name is blank.
func (r resolver) stockLocation(ctx context.Context, name string) (*catalog.StockLocation, error) {
	if name != "" {
		l, err := r.tx.FindStockLocation(ctx, name)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("stock location %s not found", name)
		}
		if err != nil {
			return nil, fmt.Errorf("find stock location %q: %w", name, err)
		}
		return l, nil
	}

	defaults, err := r.tx.DefaultStockLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("find default stock location: %w", err)
	}
	switch len(defaults) {
	case 0:
		return nil, ErrNoDefaultLocation
	case 1:
		return &defaults[0], nil
	default:
		return nil, fmt.Errorf("%d default stock locations, name one explicitly", len(defaults))
	}
}

// applyStock parses each stocks item and overwrites the variant's count at
// the resolved location.
func (r resolver) applyStock(ctx context.Context, variantID int64, entries []string) error {
	for _, raw := range entries {
		entry, err := ParseStockEntry(raw)
		if err != nil {
			return err
		}
		loc, err := r.stockLocation(ctx, entry.Location)
		if err != nil {
			return err
		}
		if err := r.tx.SetStock(ctx, variantID, loc.ID, entry.Count); err != nil {
			return fmt.Errorf("set stock at %s: %w", loc.Label(), err)
		}
	}
	return nil
}
