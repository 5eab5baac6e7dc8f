package importer

// fields.go declares the columns a catalog file may carry and parses them
// into typed row values.
//
// Cells come from spreadsheets edited by hand, so the numeric and date
// parsers accept the usual variants: currency symbols, thousands
// separators, accounting negatives, and several date layouts.

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column keys, as they appear after header normalization.
const (
	ColSlug             = "slug"
	ColSKU              = "sku"
	ColName             = "name"
	ColPrice            = "price"
	ColCostPrice        = "cost_price"
	ColAvailableOn      = "available_on"
	ColShippingCategory = "shipping_category"
	ColTaxCategory      = "tax_category"
	ColTaxons           = "taxons"
	ColOptionTypes      = "option_types"
	ColProperties       = "properties"
	ColDescription      = "description"
	ColOptionValues     = "option_values"
	ColImages           = "images"
	ColStocks           = "stocks"
	ColWeight           = "weight"
	ColHeight           = "height"
	ColWidth            = "width"
	ColDepth            = "depth"
)

// Separators of the multi-value cell syntax.
const (
	ItemSeparator = ","
	PairSeparator = "->"
	PathSeparator = "/"
)

// FieldKind is the value parser a column is declared with.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldDecimal
	FieldDate
	FieldList  // comma-separated items
	FieldPairs // comma-separated Name->Value items
	FieldHTML  // text that may carry HTML entities
)

// FieldSpec declares one recognized column.
type FieldSpec struct {
	Key  string
	Kind FieldKind
}

// ProductFieldSpecs lists the columns read from product rows, in export order.
var ProductFieldSpecs = []FieldSpec{
	{ColSlug, FieldText},
	{ColSKU, FieldText},
	{ColName, FieldText},
	{ColPrice, FieldDecimal},
	{ColCostPrice, FieldDecimal},
	{ColAvailableOn, FieldDate},
	{ColShippingCategory, FieldText},
	{ColTaxCategory, FieldText},
	{ColTaxons, FieldList},
	{ColOptionTypes, FieldList},
	{ColProperties, FieldPairs},
	{ColDescription, FieldHTML},
	{ColOptionValues, FieldPairs},
	{ColImages, FieldText},
	{ColStocks, FieldList},
	{ColWeight, FieldDecimal},
	{ColHeight, FieldDecimal},
	{ColWidth, FieldDecimal},
	{ColDepth, FieldDecimal},
}

// VariantFieldSpecs lists the columns read from variant rows.
var VariantFieldSpecs = []FieldSpec{
	{ColSKU, FieldText},
	{ColPrice, FieldDecimal},
	{ColCostPrice, FieldDecimal},
	{ColTaxCategory, FieldText},
	{ColOptionValues, FieldPairs},
	{ColImages, FieldText},
	{ColStocks, FieldList},
	{ColWeight, FieldDecimal},
	{ColHeight, FieldDecimal},
	{ColWidth, FieldDecimal},
	{ColDepth, FieldDecimal},
}

// Pair is a Name->Value item.
type Pair struct {
	Name  string
	Value string
}

// Dimensions are the optional physical measurements of a variant.
type Dimensions struct {
	Weight *decimal.Decimal
	Height *decimal.Decimal
	Width  *decimal.Decimal
	Depth  *decimal.Decimal
}

// ProductFields is a parsed product row. Empty cells parse to zero values
// (nil pointers, empty strings and slices).
type ProductFields struct {
	Slug             string
	SKU              string
	Name             string
	Price            *decimal.Decimal
	CostPrice        *decimal.Decimal
	AvailableOn      *time.Time
	ShippingCategory string
	TaxCategory      string
	Taxons           []string
	OptionTypes      []string
	Properties       []Pair
	Description      string
	HasDescription   bool
	OptionValues     []Pair
	Images           string
	Stocks           []string
	Dimensions
}

// VariantFields is a parsed variant row.
type VariantFields struct {
	Slug         string // variants-only files locate the product by slug
	SKU          string
	Price        *decimal.Decimal
	CostPrice    *decimal.Decimal
	TaxCategory  string
	OptionValues []Pair
	Images       string
	Stocks       []string
	Dimensions
}

// ParseProductRow parses a product row. The error names the offending column.
func ParseProductRow(row SourceRow) (ProductFields, error) {
	f := ProductFields{
		Slug:             row.Get(ColSlug),
		SKU:              row.Get(ColSKU),
		Name:             row.Get(ColName),
		ShippingCategory: row.Get(ColShippingCategory),
		TaxCategory:      row.Get(ColTaxCategory),
		Taxons:           SplitList(row.Get(ColTaxons)),
		OptionTypes:      SplitList(row.Get(ColOptionTypes)),
		Images:           row.Get(ColImages),
		Stocks:           SplitList(row.Get(ColStocks)),
	}

	var err error
	if f.Price, err = decimalField(row, ColPrice); err != nil {
		return f, err
	}
	if f.CostPrice, err = decimalField(row, ColCostPrice); err != nil {
		return f, err
	}
	if f.AvailableOn, err = dateField(row, ColAvailableOn); err != nil {
		return f, err
	}
	if f.Properties, err = pairsField(row, ColProperties); err != nil {
		return f, err
	}
	if f.OptionValues, err = pairsField(row, ColOptionValues); err != nil {
		return f, err
	}
	if f.Dimensions, err = dimensionFields(row); err != nil {
		return f, err
	}

	if d := row.Get(ColDescription); d != "" {
		f.Description = UnescapeHTML(d)
		f.HasDescription = true
	}

	return f, nil
}

// ParseVariantRow parses a variant row.
func ParseVariantRow(row SourceRow) (VariantFields, error) {
	f := VariantFields{
		Slug:        row.Get(ColSlug),
		SKU:         row.Get(ColSKU),
		TaxCategory: row.Get(ColTaxCategory),
		Images:      row.Get(ColImages),
		Stocks:      SplitList(row.Get(ColStocks)),
	}

	var err error
	if f.Price, err = decimalField(row, ColPrice); err != nil {
		return f, err
	}
	if f.CostPrice, err = decimalField(row, ColCostPrice); err != nil {
		return f, err
	}
	if f.OptionValues, err = pairsField(row, ColOptionValues); err != nil {
		return f, err
	}
	if f.Dimensions, err = dimensionFields(row); err != nil {
		return f, err
	}
	return f, nil
}

func decimalField(row SourceRow, key string) (*decimal.Decimal, error) {
	raw := row.Get(key)
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &d, nil
}

func dateField(row SourceRow, key string) (*time.Time, error) {
	raw := row.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &t, nil
}

func pairsField(row SourceRow, key string) ([]Pair, error) {
	items := SplitList(row.Get(key))
	if len(items) == 0 {
		return nil, nil
	}
	pairs := make([]Pair, 0, len(items))
	for _, item := range items {
		p, ok := SplitPair(item)
		if !ok || p.Name == "" {
			return nil, fmt.Errorf("invalid %s entry %q, expected Name%sValue", key, item, PairSeparator)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func dimensionFields(row SourceRow) (Dimensions, error) {
	var (
		d   Dimensions
		err error
	)
	if d.Weight, err = decimalField(row, ColWeight); err != nil {
		return d, err
	}
	if d.Height, err = decimalField(row, ColHeight); err != nil {
		return d, err
	}
	if d.Width, err = decimalField(row, ColWidth); err != nil {
		return d, err
	}
	if d.Depth, err = decimalField(row, ColDepth); err != nil {
		return d, err
	}
	return d, nil
}

// ============================================================================
// Multi-value syntax
// ============================================================================

// SplitList splits a comma-separated cell into trimmed, non-empty items.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ItemSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitPair splits "Name->Value" at the first separator.
func SplitPair(s string) (Pair, bool) {
	name, value, ok := strings.Cut(s, PairSeparator)
	if !ok {
		return Pair{Name: strings.TrimSpace(s)}, false
	}
	return Pair{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}, true
}

// SplitTaxonPath splits "A->B->C" or "A/B/C" into its segment names.
func SplitTaxonPath(s string) []string {
	s = strings.ReplaceAll(s, PairSeparator, PathSeparator)
	var out []string
	for _, seg := range strings.Split(s, PathSeparator) {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// StockEntry is a parsed stocks item. Location is empty for a bare count.
type StockEntry struct {
	Location string
	Count    int
}

// ParseStockEntry parses "Location->Count" or a bare "Count".
func ParseStockEntry(s string) (StockEntry, error) {
	var e StockEntry
	countText := strings.TrimSpace(s)
	if p, ok := SplitPair(s); ok {
		if p.Name == "" {
			return e, fmt.Errorf("invalid stock entry %q: missing location", s)
		}
		e.Location = p.Name
		countText = p.Value
	}
	n, err := strconv.Atoi(strings.ReplaceAll(countText, ",", ""))
	if err != nil {
		return e, fmt.Errorf("invalid stock count %q", countText)
	}
	e.Count = n
	return e, nil
}

// UnescapeHTML decodes entities such as &amp; and &lt;p&gt; left by exports
// and normalizes line endings.
func UnescapeHTML(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n")
	return html.UnescapeString(s)
}

// ============================================================================
// Scalar parsers
// ============================================================================

// numericPattern validates a number after currency and separator cleanup.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ParseDecimal parses a money or measurement cell. It accepts currency
// symbols, thousands separators and accounting negatives like "(12.50)".
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "\u20ac", "", "\u00a3", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}

	if !numericPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("not a number: %q", s)
	}
	return decimal.NewFromString(s)
}

// TwoDigitYearPivot bounds how far in the future a two-digit year may land
// before it is read as the previous century.
var TwoDigitYearPivot = 20

var (
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
)

// ParseDate parses an availability date. ISO dates are tried first.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
