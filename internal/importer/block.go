package importer

import (
	"errors"
	"io"
)

// Block is one product row plus the variant rows that follow it. It is the
// unit of transactional reconciliation.
type Block struct {
	Index       int        // 1-based position in the file
	ProductRow  *SourceRow // nil for orphan and variants-only blocks
	VariantRows []SourceRow

	// Orphan marks variant rows that appeared before any product row.
	Orphan bool
}

// FirstLine is the source line the block starts on.
func (b *Block) FirstLine() int {
	if b.ProductRow != nil {
		return b.ProductRow.Line
	}
	if len(b.VariantRows) > 0 {
		return b.VariantRows[0].Line
	}
	return 0
}

// Label identifies the block in logs and notifications.
func (b *Block) Label() string {
	if b.ProductRow != nil {
		if slug := b.ProductRow.Get(ColSlug); slug != "" {
			return slug
		}
		return b.ProductRow.Get(ColName)
	}
	if len(b.VariantRows) > 0 {
		return b.VariantRows[0].Get(ColSKU)
	}
	return ""
}

// IsProductRow classifies a row: a non-blank slug or name marks a product.
func IsProductRow(row SourceRow) bool {
	return row.Get(ColSlug) != "" || row.Get(ColName) != ""
}

// RowSource is anything that yields rows until io.EOF; *RowReader is one.
type RowSource interface {
	Next() (SourceRow, error)
}

// GroupOptions configures block grouping.
type GroupOptions struct {
	// VariantsOnly treats every row as a standalone variant of an existing
	// product named by its slug column.
	VariantsOnly bool
}

// Grouper turns a row stream into blocks, holding at most one block and
// one lookahead row in memory.
type Grouper struct {
	rows    RowSource
	opts    GroupOptions
	pending *SourceRow
	index   int
	done    bool
}

// NewGrouper returns a grouper over rows.
func NewGrouper(rows RowSource, opts GroupOptions) *Grouper {
	return &Grouper{rows: rows, opts: opts}
}

// Next returns the next block, or io.EOF once every row has been grouped.
// Fully blank rows are skipped.
func (g *Grouper) Next() (*Block, error) {
	if g.done && g.pending == nil {
		return nil, io.EOF
	}

	first, err := g.take()
	if err != nil {
		return nil, err
	}

	g.index++
	b := &Block{Index: g.index}

	if g.opts.VariantsOnly {
		b.VariantRows = []SourceRow{first}
		return b, nil
	}

	if IsProductRow(first) {
		b.ProductRow = &first
	} else {
		b.Orphan = true
		b.VariantRows = append(b.VariantRows, first)
	}

	for {
		row, err := g.take()
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return nil, err
		}
		if IsProductRow(row) {
			g.pending = &row
			return b, nil
		}
		b.VariantRows = append(b.VariantRows, row)
	}
}

// take returns the lookahead row if one is held, else the next non-blank row.
func (g *Grouper) take() (SourceRow, error) {
	if g.pending != nil {
		row := *g.pending
		g.pending = nil
		return row, nil
	}
	if g.done {
		return SourceRow{}, io.EOF
	}
	for {
		row, err := g.rows.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				g.done = true
			}
			return SourceRow{}, err
		}
		if !row.Blank() {
			return row, nil
		}
	}
}
