// Package catalog defines the product catalog entities touched by an import
// and the repository interfaces the import engine works through.
//
// Implementations live in the postgres (production) and memory (tests, dry
// runs) subpackages. All name lookups are case-insensitive.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Find*/Get* lookups that match nothing.
var ErrNotFound = errors.New("not found")

// TaxCategory classifies products and variants for tax purposes.
type TaxCategory struct {
	ID   int64
	Name string
}

// ShippingCategory classifies products for shipping rules.
type ShippingCategory struct {
	ID   int64
	Name string
}

// OptionType is a variant axis such as size or color. Names are stored
// lower-cased; Presentation keeps the text the catalog was given.
type OptionType struct {
	ID           int64
	Name         string
	Presentation string
}

// OptionValue is one value of an OptionType, e.g. "Small" for size.
type OptionValue struct {
	ID           int64
	OptionTypeID int64
	Name         string
	Presentation string
}

// Taxon is a node of the navigation tree. Roots have no parent.
type Taxon struct {
	ID       int64
	ParentID *int64
	Name     string
}

// Property is a named attribute definition (e.g. "Material").
type Property struct {
	ID           int64
	Name         string
	Presentation string
}

// ProductProperty binds a Property to a product with a value.
type ProductProperty struct {
	PropertyID int64
	Value      string
	Position   int
}

// StockLocation is a place stock is counted in. Exactly one location
// should carry Default for bare stock counts to resolve.
type StockLocation struct {
	ID        int64
	Name      string
	AdminName string
	Default   bool
}

// Label is the name stock entries refer to: the admin name when present.
func (l StockLocation) Label() string {
	if l.AdminName != "" {
		return l.AdminName
	}
	return l.Name
}

// Product is a sellable item. Price, SKU and dimensions live on its
// master variant.
type Product struct {
	ID                 int64
	Slug               string
	Name               string
	Description        string
	AvailableOn        *time.Time
	ShippingCategoryID int64
	TaxCategoryID      *int64
	OptionTypeIDs      []int64
	TaxonIDs           []int64
	Properties         []ProductProperty
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (p Product) Clone() Product {
	c := p
	c.OptionTypeIDs = append([]int64(nil), p.OptionTypeIDs...)
	c.TaxonIDs = append([]int64(nil), p.TaxonIDs...)
	c.Properties = append([]ProductProperty(nil), p.Properties...)
	if p.AvailableOn != nil {
		t := *p.AvailableOn
		c.AvailableOn = &t
	}
	if p.TaxCategoryID != nil {
		id := *p.TaxCategoryID
		c.TaxCategoryID = &id
	}
	return c
}

// Equal reports whether two products carry the same data. Timestamps are
// ignored.
func (p Product) Equal(o Product) bool {
	return p.ID == o.ID &&
		p.Slug == o.Slug &&
		p.Name == o.Name &&
		p.Description == o.Description &&
		equalTime(p.AvailableOn, o.AvailableOn) &&
		p.ShippingCategoryID == o.ShippingCategoryID &&
		equalIDPtr(p.TaxCategoryID, o.TaxCategoryID) &&
		equalIDs(p.OptionTypeIDs, o.OptionTypeIDs) &&
		equalIDs(p.TaxonIDs, o.TaxonIDs) &&
		equalProperties(p.Properties, o.Properties)
}

// HasOptionType reports whether the product carries the option type.
func (p *Product) HasOptionType(id int64) bool {
	return containsID(p.OptionTypeIDs, id)
}

// HasTaxon reports whether the product is classified under the taxon.
func (p *Product) HasTaxon(id int64) bool {
	return containsID(p.TaxonIDs, id)
}

// Variant is a purchasable configuration of a product. The master variant
// stands in for the product itself when it has no other variants.
type Variant struct {
	ID             int64
	ProductID      int64
	SKU            string
	IsMaster       bool
	Price          *decimal.Decimal
	CostPrice      *decimal.Decimal
	Weight         *decimal.Decimal
	Height         *decimal.Decimal
	Width          *decimal.Decimal
	Depth          *decimal.Decimal
	TaxCategoryID  *int64
	OptionValueIDs []int64
	Position       int
}

// Clone returns a deep copy of the variant.
func (v Variant) Clone() Variant {
	c := v
	c.OptionValueIDs = append([]int64(nil), v.OptionValueIDs...)
	c.Price = cloneDecimal(v.Price)
	c.CostPrice = cloneDecimal(v.CostPrice)
	c.Weight = cloneDecimal(v.Weight)
	c.Height = cloneDecimal(v.Height)
	c.Width = cloneDecimal(v.Width)
	c.Depth = cloneDecimal(v.Depth)
	if v.TaxCategoryID != nil {
		id := *v.TaxCategoryID
		c.TaxCategoryID = &id
	}
	return c
}

// Equal reports whether two variants carry the same data. Decimals compare
// by value, so 20 and 20.00 are equal.
func (v Variant) Equal(o Variant) bool {
	return v.ID == o.ID &&
		v.ProductID == o.ProductID &&
		v.SKU == o.SKU &&
		v.IsMaster == o.IsMaster &&
		EqualDecimal(v.Price, o.Price) &&
		EqualDecimal(v.CostPrice, o.CostPrice) &&
		EqualDecimal(v.Weight, o.Weight) &&
		EqualDecimal(v.Height, o.Height) &&
		EqualDecimal(v.Width, o.Width) &&
		EqualDecimal(v.Depth, o.Depth) &&
		equalIDPtr(v.TaxCategoryID, o.TaxCategoryID) &&
		equalIDs(v.OptionValueIDs, o.OptionValueIDs) &&
		v.Position == o.Position
}

// StockItem is the on-hand count of a variant at a location.
type StockItem struct {
	VariantID       int64
	StockLocationID int64
	CountOnHand     int
}

// Image is a picture attached to a variant.
type Image struct {
	ID        int64
	VariantID int64
	FileName  string
	Path      string
	Width     int
	Height    int
	Position  int
}

// Store runs catalog work inside transactions. A failed fn leaves the
// catalog untouched; a nil return commits everything fn did.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the narrow lookups and writes an import needs. Writes are
// visible to later reads in the same transaction.
type Tx interface {
	FindTaxCategory(ctx context.Context, name string) (*TaxCategory, error)
	CreateTaxCategory(ctx context.Context, c *TaxCategory) error
	GetTaxCategory(ctx context.Context, id int64) (*TaxCategory, error)

	FindShippingCategory(ctx context.Context, name string) (*ShippingCategory, error)
	FirstShippingCategory(ctx context.Context) (*ShippingCategory, error)
	CreateShippingCategory(ctx context.Context, c *ShippingCategory) error
	GetShippingCategory(ctx context.Context, id int64) (*ShippingCategory, error)

	FindOptionType(ctx context.Context, name string) (*OptionType, error)
	CreateOptionType(ctx context.Context, t *OptionType) error
	GetOptionType(ctx context.Context, id int64) (*OptionType, error)

	FindOptionValue(ctx context.Context, optionTypeID int64, name string) (*OptionValue, error)
	CreateOptionValue(ctx context.Context, v *OptionValue) error
	GetOptionValue(ctx context.Context, id int64) (*OptionValue, error)

	FindRootTaxon(ctx context.Context, name string) (*Taxon, error)
	FindChildTaxon(ctx context.Context, parentID int64, name string) (*Taxon, error)
	CreateTaxon(ctx context.Context, t *Taxon) error
	GetTaxon(ctx context.Context, id int64) (*Taxon, error)

	FindProperty(ctx context.Context, name string) (*Property, error)
	CreateProperty(ctx context.Context, p *Property) error
	GetProperty(ctx context.Context, id int64) (*Property, error)

	FindStockLocation(ctx context.Context, name string) (*StockLocation, error)
	DefaultStockLocations(ctx context.Context) ([]StockLocation, error)
	CreateStockLocation(ctx context.Context, l *StockLocation) error
	GetStockLocation(ctx context.Context, id int64) (*StockLocation, error)

	FindProductBySlug(ctx context.Context, slug string) (*Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
	ListProducts(ctx context.Context) ([]Product, error)

	// ListVariants returns the product's variants, master first.
	ListVariants(ctx context.Context, productID int64) ([]Variant, error)
	// FindVariantBySKU searches the product's non-master variants.
	FindVariantBySKU(ctx context.Context, productID int64, sku string) (*Variant, error)
	CreateVariant(ctx context.Context, v *Variant) error
	UpdateVariant(ctx context.Context, v *Variant) error

	// SetStock upserts the on-hand count, overwriting any previous count.
	SetStock(ctx context.Context, variantID, locationID int64, count int) error
	ListStock(ctx context.Context, variantID int64) ([]StockItem, error)

	ListImages(ctx context.Context, variantID int64) ([]Image, error)
	CreateImage(ctx context.Context, img *Image) error
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// EqualDecimal compares optional decimals by value.
func EqualDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalIDPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalProperties(a, b []ProductProperty) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
