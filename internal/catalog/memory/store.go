// Package memory provides an in-memory transactional catalog store.
//
// Each transaction works on a deep copy of the catalog state and swaps it in
// on success, so a failed transaction leaves nothing behind. The store lock
// is held for the whole transaction, which serializes writers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

type stockKey struct {
	variantID  int64
	locationID int64
}

type state struct {
	nextID             int64
	taxCategories      map[int64]catalog.TaxCategory
	shippingCategories map[int64]catalog.ShippingCategory
	optionTypes        map[int64]catalog.OptionType
	optionValues       map[int64]catalog.OptionValue
	taxons             map[int64]catalog.Taxon
	properties         map[int64]catalog.Property
	stockLocations     map[int64]catalog.StockLocation
	products           map[int64]catalog.Product
	variants           map[int64]catalog.Variant
	stock              map[stockKey]int
	images             map[int64]catalog.Image
}

func newState() *state {
	return &state{
		taxCategories:      map[int64]catalog.TaxCategory{},
		shippingCategories: map[int64]catalog.ShippingCategory{},
		optionTypes:        map[int64]catalog.OptionType{},
		optionValues:       map[int64]catalog.OptionValue{},
		taxons:             map[int64]catalog.Taxon{},
		properties:         map[int64]catalog.Property{},
		stockLocations:     map[int64]catalog.StockLocation{},
		products:           map[int64]catalog.Product{},
		variants:           map[int64]catalog.Variant{},
		stock:              map[stockKey]int{},
		images:             map[int64]catalog.Image{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.taxCategories {
		c.taxCategories[k] = v
	}
	for k, v := range s.shippingCategories {
		c.shippingCategories[k] = v
	}
	for k, v := range s.optionTypes {
		c.optionTypes[k] = v
	}
	for k, v := range s.optionValues {
		c.optionValues[k] = v
	}
	for k, v := range s.taxons {
		c.taxons[k] = cloneTaxon(v)
	}
	for k, v := range s.properties {
		c.properties[k] = v
	}
	for k, v := range s.stockLocations {
		c.stockLocations[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v.Clone()
	}
	for k, v := range s.variants {
		c.variants[k] = v.Clone()
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.images {
		c.images[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is an in-memory catalog.Store and catalog.ImportStore.
type Store struct {
	mu    sync.Mutex
	state *state

	importsMu sync.RWMutex
	imports   map[string]catalog.ImportRecord
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state:   newState(),
		imports: map[string]catalog.ImportRecord{},
		now:     time.Now,
	}
}

// RunInTx runs fn against a private copy of the catalog and commits the copy
// only when fn returns nil. A panic in fn propagates without committing.
func (s *Store) RunInTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Counts reports how many entities of each kind the store holds.
type Counts struct {
	TaxCategories      int
	ShippingCategories int
	OptionTypes        int
	OptionValues       int
	Taxons             int
	Properties         int
	StockLocations     int
	Products           int
	Variants           int
	StockItems         int
	Images             int
}

// Counts returns the current entity counts.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	return Counts{
		TaxCategories:      len(st.taxCategories),
		ShippingCategories: len(st.shippingCategories),
		OptionTypes:        len(st.optionTypes),
		OptionValues:       len(st.optionValues),
		Taxons:             len(st.taxons),
		Properties:         len(st.properties),
		StockLocations:     len(st.stockLocations),
		Products:           len(st.products),
		Variants:           len(st.variants),
		StockItems:         len(st.stock),
		Images:             len(st.images),
	}
}

type tx struct {
	st  *state
	now func() time.Time
}

var _ catalog.Tx = (*tx)(nil)

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// findFirst returns the lowest-ID entry matching pred, for deterministic lookups.
func findFirst[T any](m map[int64]T, pred func(T) bool) (T, bool) {
	var (
		best   T
		bestID int64
		found  bool
	)
	for id, v := range m {
		if pred(v) && (!found || id < bestID) {
			best, bestID, found = v, id, true
		}
	}
	return best, found
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, catalog.ErrNotFound)
}

func notFoundID(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, catalog.ErrNotFound)
}

// ============================================================================
// Categories
// ============================================================================

func (t *tx) FindTaxCategory(_ context.Context, name string) (*catalog.TaxCategory, error) {
	c, ok := findFirst(t.st.taxCategories, func(c catalog.TaxCategory) bool { return equalFold(c.Name, name) })
	if !ok {
		return nil, notFound("tax category", name)
	}
	return &c, nil
}

func (t *tx) CreateTaxCategory(_ context.Context, c *catalog.TaxCategory) error {
	c.ID = t.st.id()
	t.st.taxCategories[c.ID] = *c
	return nil
}

func (t *tx) GetTaxCategory(_ context.Context, id int64) (*catalog.TaxCategory, error) {
	c, ok := t.st.taxCategories[id]
	if !ok {
		return nil, notFoundID("tax category", id)
	}
	return &c, nil
}

func (t *tx) FindShippingCategory(_ context.Context, name string) (*catalog.ShippingCategory, error) {
	c, ok := findFirst(t.st.shippingCategories, func(c catalog.ShippingCategory) bool { return equalFold(c.Name, name) })
	if !ok {
		return nil, notFound("shipping category", name)
	}
	return &c, nil
}

func (t *tx) FirstShippingCategory(_ context.Context) (*catalog.ShippingCategory, error) {
	c, ok := findFirst(t.st.shippingCategories, func(catalog.ShippingCategory) bool { return true })
	if !ok {
		return nil, notFound("shipping category", "")
	}
	return &c, nil
}

func (t *tx) CreateShippingCategory(_ context.Context, c *catalog.ShippingCategory) error {
	c.ID = t.st.id()
	t.st.shippingCategories[c.ID] = *c
	return nil
}

func (t *tx) GetShippingCategory(_ context.Context, id int64) (*catalog.ShippingCategory, error) {
	c, ok := t.st.shippingCategories[id]
	if !ok {
		return nil, notFoundID("shipping category", id)
	}
	return &c, nil
}

// ============================================================================
// Option types and values
// ============================================================================

func (t *tx) FindOptionType(_ context.Context, name string) (*catalog.OptionType, error) {
	o, ok := findFirst(t.st.optionTypes, func(o catalog.OptionType) bool { return equalFold(o.Name, name) })
	if !ok {
		return nil, notFound("option type", name)
	}
	return &o, nil
}

func (t *tx) CreateOptionType(_ context.Context, o *catalog.OptionType) error {
	o.ID = t.st.id()
	t.st.optionTypes[o.ID] = *o
	return nil
}

func (t *tx) GetOptionType(_ context.Context, id int64) (*catalog.OptionType, error) {
	o, ok := t.st.optionTypes[id]
	if !ok {
		return nil, notFoundID("option type", id)
	}
	return &o, nil
}

func (t *tx) FindOptionValue(_ context.Context, optionTypeID int64, name string) (*catalog.OptionValue, error) {
	v, ok := findFirst(t.st.optionValues, func(v catalog.OptionValue) bool {
		return v.OptionTypeID == optionTypeID && equalFold(v.Name, name)
	})
	if !ok {
		return nil, notFound("option value", name)
	}
	return &v, nil
}

func (t *tx) CreateOptionValue(_ context.Context, v *catalog.OptionValue) error {
	if _, ok := t.st.optionTypes[v.OptionTypeID]; !ok {
		return notFoundID("option type", v.OptionTypeID)
	}
	v.ID = t.st.id()
	t.st.optionValues[v.ID] = *v
	return nil
}

func (t *tx) GetOptionValue(_ context.Context, id int64) (*catalog.OptionValue, error) {
	v, ok := t.st.optionValues[id]
	if !ok {
		return nil, notFoundID("option value", id)
	}
	return &v, nil
}

// ============================================================================
// Taxons and properties
// ============================================================================

func (t *tx) FindRootTaxon(_ context.Context, name string) (*catalog.Taxon, error) {
	x, ok := findFirst(t.st.taxons, func(x catalog.Taxon) bool { return x.ParentID == nil && equalFold(x.Name, name) })
	if !ok {
		return nil, notFound("taxon", name)
	}
	x = cloneTaxon(x)
	return &x, nil
}

func (t *tx) FindChildTaxon(_ context.Context, parentID int64, name string) (*catalog.Taxon, error) {
	x, ok := findFirst(t.st.taxons, func(x catalog.Taxon) bool {
		return x.ParentID != nil && *x.ParentID == parentID && equalFold(x.Name, name)
	})
	if !ok {
		return nil, notFound("taxon", name)
	}
	x = cloneTaxon(x)
	return &x, nil
}

func (t *tx) CreateTaxon(_ context.Context, x *catalog.Taxon) error {
	if x.ParentID != nil {
		if _, ok := t.st.taxons[*x.ParentID]; !ok {
			return notFoundID("taxon", *x.ParentID)
		}
	}
	x.ID = t.st.id()
	t.st.taxons[x.ID] = cloneTaxon(*x)
	return nil
}

func (t *tx) GetTaxon(_ context.Context, id int64) (*catalog.Taxon, error) {
	x, ok := t.st.taxons[id]
	if !ok {
		return nil, notFoundID("taxon", id)
	}
	x = cloneTaxon(x)
	return &x, nil
}

func (t *tx) FindProperty(_ context.Context, name string) (*catalog.Property, error) {
	p, ok := findFirst(t.st.properties, func(p catalog.Property) bool { return equalFold(p.Name, name) })
	if !ok {
		return nil, notFound("property", name)
	}
	return &p, nil
}

func (t *tx) CreateProperty(_ context.Context, p *catalog.Property) error {
	p.ID = t.st.id()
	t.st.properties[p.ID] = *p
	return nil
}

func (t *tx) GetProperty(_ context.Context, id int64) (*catalog.Property, error) {
	p, ok := t.st.properties[id]
	if !ok {
		return nil, notFoundID("property", id)
	}
	return &p, nil
}

// ============================================================================
// Stock locations
// ============================================================================

func (t *tx) FindStockLocation(_ context.Context, name string) (*catalog.StockLocation, error) {
	l, ok := findFirst(t.st.stockLocations, func(l catalog.StockLocation) bool { return equalFold(l.Label(), name) })
	if !ok {
		return nil, notFound("stock location", name)
	}
	return &l, nil
}

func (t *tx) DefaultStockLocations(_ context.Context) ([]catalog.StockLocation, error) {
	var out []catalog.StockLocation
	for _, l := range t.st.stockLocations {
		if l.Default {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) CreateStockLocation(_ context.Context, l *catalog.StockLocation) error {
	l.ID = t.st.id()
	t.st.stockLocations[l.ID] = *l
	return nil
}

func (t *tx) GetStockLocation(_ context.Context, id int64) (*catalog.StockLocation, error) {
	l, ok := t.st.stockLocations[id]
	if !ok {
		return nil, notFoundID("stock location", id)
	}
	return &l, nil
}

// ============================================================================
// Products and variants
// ============================================================================

func (t *tx) FindProductBySlug(_ context.Context, slug string) (*catalog.Product, error) {
	p, ok := findFirst(t.st.products, func(p catalog.Product) bool { return equalFold(p.Slug, slug) })
	if !ok {
		return nil, notFound("product", slug)
	}
	p = p.Clone()
	return &p, nil
}

func (t *tx) CreateProduct(ctx context.Context, p *catalog.Product) error {
	if _, err := t.FindProductBySlug(ctx, p.Slug); err == nil {
		return fmt.Errorf("product slug %q already taken", p.Slug)
	}
	if _, ok := t.st.shippingCategories[p.ShippingCategoryID]; !ok {
		return notFoundID("shipping category", p.ShippingCategoryID)
	}
	p.ID = t.st.id()
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.products[p.ID] = p.Clone()
	return nil
}

func (t *tx) UpdateProduct(_ context.Context, p *catalog.Product) error {
	if _, ok := t.st.products[p.ID]; !ok {
		return notFoundID("product", p.ID)
	}
	if _, ok := t.st.shippingCategories[p.ShippingCategoryID]; !ok {
		return notFoundID("shipping category", p.ShippingCategoryID)
	}
	p.UpdatedAt = t.now()
	t.st.products[p.ID] = p.Clone()
	return nil
}

func (t *tx) ListProducts(_ context.Context) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) ListVariants(_ context.Context, productID int64) ([]catalog.Variant, error) {
	var out []catalog.Variant
	for _, v := range t.st.variants {
		if v.ProductID == productID {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsMaster != out[j].IsMaster {
			return out[i].IsMaster
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) FindVariantBySKU(_ context.Context, productID int64, sku string) (*catalog.Variant, error) {
	v, ok := findFirst(t.st.variants, func(v catalog.Variant) bool {
		return v.ProductID == productID && !v.IsMaster && equalFold(v.SKU, sku)
	})
	if !ok {
		return nil, notFound("variant", sku)
	}
	v = v.Clone()
	return &v, nil
}

func (t *tx) CreateVariant(_ context.Context, v *catalog.Variant) error {
	if _, ok := t.st.products[v.ProductID]; !ok {
		return notFoundID("product", v.ProductID)
	}
	v.ID = t.st.id()
	t.st.variants[v.ID] = v.Clone()
	return nil
}

func (t *tx) UpdateVariant(_ context.Context, v *catalog.Variant) error {
	if _, ok := t.st.variants[v.ID]; !ok {
		return notFoundID("variant", v.ID)
	}
	t.st.variants[v.ID] = v.Clone()
	return nil
}

// ============================================================================
// Stock and images
// ============================================================================

func (t *tx) SetStock(_ context.Context, variantID, locationID int64, count int) error {
	if _, ok := t.st.variants[variantID]; !ok {
		return notFoundID("variant", variantID)
	}
	if _, ok := t.st.stockLocations[locationID]; !ok {
		return notFoundID("stock location", locationID)
	}
	t.st.stock[stockKey{variantID: variantID, locationID: locationID}] = count
	return nil
}

func (t *tx) ListStock(_ context.Context, variantID int64) ([]catalog.StockItem, error) {
	var out []catalog.StockItem
	for k, count := range t.st.stock {
		if k.variantID == variantID {
			out = append(out, catalog.StockItem{VariantID: k.variantID, StockLocationID: k.locationID, CountOnHand: count})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockLocationID < out[j].StockLocationID })
	return out, nil
}

func (t *tx) ListImages(_ context.Context, variantID int64) ([]catalog.Image, error) {
	var out []catalog.Image
	for _, img := range t.st.images {
		if img.VariantID == variantID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) CreateImage(_ context.Context, img *catalog.Image) error {
	if _, ok := t.st.variants[img.VariantID]; !ok {
		return notFoundID("variant", img.VariantID)
	}
	img.ID = t.st.id()
	t.st.images[img.ID] = *img
	return nil
}

func cloneTaxon(x catalog.Taxon) catalog.Taxon {
	if x.ParentID != nil {
		id := *x.ParentID
		x.ParentID = &id
	}
	return x
}
