package importer

import (
	"errors"
	"io"
	"testing"
)

// sliceRows is a RowSource over prepared rows.
type sliceRows struct {
	rows []SourceRow
}

func (s *sliceRows) Next() (SourceRow, error) {
	if len(s.rows) == 0 {
		return SourceRow{}, io.EOF
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row, nil
}

var blockHeader = []string{"slug", "name", "sku"}

func rowsOf(values ...[]string) *sliceRows {
	s := &sliceRows{}
	for i, v := range values {
		s.rows = append(s.rows, NewSourceRow(blockHeader, v, i+2))
	}
	return s
}

func collectBlocks(t *testing.T, g *Grouper) []*Block {
	t.Helper()
	var out []*Block
	for {
		b, err := g.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, b)
	}
}

func TestGrouper(t *testing.T) {
	rows := rowsOf(
		[]string{"tee", "T-Shirt", ""},
		[]string{"", "", "TEE-S"},
		[]string{"", "", "TEE-M"},
		[]string{"mug", "", ""},
		[]string{"", "", ""},
		[]string{"", "Blue Cap", ""},
		[]string{"", "", "CAP-1"},
	)
	blocks := collectBlocks(t, NewGrouper(rows, GroupOptions{}))

	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	tests := []struct {
		label    string
		variants int
		line     int
	}{
		{"tee", 2, 2},
		{"mug", 0, 5},
		{"Blue Cap", 1, 7},
	}
	for i, tt := range tests {
		b := blocks[i]
		if b.Index != i+1 {
			t.Errorf("block %d Index = %d", i, b.Index)
		}
		if b.Label() != tt.label {
			t.Errorf("block %d Label() = %q, want %q", i, b.Label(), tt.label)
		}
		if len(b.VariantRows) != tt.variants {
			t.Errorf("block %d has %d variants, want %d", i, len(b.VariantRows), tt.variants)
		}
		if b.FirstLine() != tt.line {
			t.Errorf("block %d FirstLine() = %d, want %d", i, b.FirstLine(), tt.line)
		}
		if b.Orphan {
			t.Errorf("block %d marked orphan", i)
		}
	}
}

func TestGrouper_Orphan(t *testing.T) {
	rows := rowsOf(
		[]string{"", "", "LOST-1"},
		[]string{"", "", "LOST-2"},
		[]string{"tee", "", ""},
	)
	blocks := collectBlocks(t, NewGrouper(rows, GroupOptions{}))

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if !blocks[0].Orphan || blocks[0].ProductRow != nil || len(blocks[0].VariantRows) != 2 {
		t.Errorf("first block = %+v, want orphan with 2 variant rows", blocks[0])
	}
	if blocks[0].Label() != "LOST-1" {
		t.Errorf("orphan Label() = %q", blocks[0].Label())
	}
	if blocks[1].Orphan || blocks[1].ProductRow == nil {
		t.Errorf("second block = %+v", blocks[1])
	}
}

func TestGrouper_VariantsOnly(t *testing.T) {
	rows := rowsOf(
		[]string{"tee", "", "TEE-L"},
		[]string{"", "", ""},
		[]string{"tee", "", "TEE-XL"},
	)
	blocks := collectBlocks(t, NewGrouper(rows, GroupOptions{VariantsOnly: true}))

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	for _, b := range blocks {
		if b.ProductRow != nil || len(b.VariantRows) != 1 {
			t.Errorf("block %d = %+v, want a single variant row", b.Index, b)
		}
	}
	if blocks[1].Label() != "TEE-XL" {
		t.Errorf("Label() = %q", blocks[1].Label())
	}
}

func TestGrouper_Empty(t *testing.T) {
	g := NewGrouper(rowsOf(), GroupOptions{})
	if _, err := g.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}
	if _, err := g.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("second Next() error = %v, want io.EOF", err)
	}
}

// failingRows returns its rows then a fixed error.
type failingRows struct {
	sliceRows
	err error
}

func (f *failingRows) Next() (SourceRow, error) {
	if len(f.rows) == 0 {
		return SourceRow{}, f.err
	}
	return f.sliceRows.Next()
}

func TestGrouper_ReadError(t *testing.T) {
	boom := &MalformedInputError{Line: 3, Reason: "bad quote"}
	src := &failingRows{sliceRows: *rowsOf([]string{"tee", "", ""}), err: boom}

	_, err := NewGrouper(src, GroupOptions{}).Next()
	if !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v, want %v", err, boom)
	}
}

func TestIsProductRow(t *testing.T) {
	tests := []struct {
		values []string
		want   bool
	}{
		{[]string{"tee", "", ""}, true},
		{[]string{"", "Name only", ""}, true},
		{[]string{"", "", "SKU-1"}, false},
		{[]string{" ", " ", "SKU-1"}, false},
	}
	for _, tt := range tests {
		if got := IsProductRow(NewSourceRow(blockHeader, tt.values, 2)); got != tt.want {
			t.Errorf("IsProductRow(%q) = %v, want %v", tt.values, got, tt.want)
		}
	}
}
