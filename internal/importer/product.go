package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// productState is what the variant phase of a block needs from the product
// phase.
type productState struct {
	product     *catalog.Product
	master      *catalog.Variant
	optionTypes []catalog.OptionType

	// stocks from the product row, applied to the master variant once the
	// block's variants are done.
	deferredStocks []string
}

// reconcileProduct creates or updates the product of a block from its
// product row. When the block has variant rows, stock counts on the product
// row are returned for the caller to apply after the variants.
func (e *Engine) reconcileProduct(ctx context.Context, tx catalog.Tx, row SourceRow, hasVariants bool, log *issueLog) (*productState, error) {
	f, err := ParseProductRow(row)
	if err != nil {
		return nil, err
	}
	res := resolver{tx: tx}

	// (1) locate or start the product
	var (
		product *catalog.Product
		isNew   bool
	)
	if f.Slug != "" {
		product, err = tx.FindProductBySlug(ctx, f.Slug)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			product, isNew = &catalog.Product{Slug: f.Slug}, true
		case err != nil:
			return nil, fmt.Errorf("find product %s: %w", f.Slug, err)
		}
	} else {
		product, isNew = &catalog.Product{}, true
	}
	if isNew && f.Name == "" {
		return nil, errors.New("Name can't be blank")
	}
	if product.Slug == "" {
		if product.Slug, err = uniqueSlug(ctx, tx, f.Name); err != nil {
			return nil, err
		}
	}
	before := product.Clone()

	// (2) description
	if f.HasDescription {
		product.Description = f.Description
	}

	// (3) categories
	if f.TaxCategory != "" {
		tc, err := res.taxCategory(ctx, f.TaxCategory)
		if err != nil {
			return nil, err
		}
		product.TaxCategoryID = &tc.ID
	}
	if f.ShippingCategory != "" || product.ShippingCategoryID == 0 {
		sc, err := res.shippingCategory(ctx, f.ShippingCategory)
		if err != nil {
			return nil, err
		}
		product.ShippingCategoryID = sc.ID
	}

	// (4) scalar fields
	if f.Name != "" {
		product.Name = f.Name
	}
	if f.AvailableOn != nil {
		product.AvailableOn = f.AvailableOn
	}

	master, err := loadMaster(ctx, tx, product)
	if err != nil {
		return nil, err
	}
	masterBefore := master.Clone()
	if f.SKU != "" {
		master.SKU = f.SKU
	}
	setDecimal(&master.Price, f.Price)
	setDecimal(&master.CostPrice, f.CostPrice)
	applyDimensions(master, f.Dimensions)

	// (5) option types
	for _, name := range f.OptionTypes {
		ot, err := res.optionType(ctx, name)
		if err != nil {
			return nil, err
		}
		if !product.HasOptionType(ot.ID) {
			product.OptionTypeIDs = append(product.OptionTypeIDs, ot.ID)
		}
	}

	// (6) properties
	for _, pair := range f.Properties {
		prop, err := res.property(ctx, pair.Name)
		if err != nil {
			return nil, err
		}
		setProperty(product, prop.ID, pair.Value)
	}

	// (7) taxons; unknown chains only warn
	for _, item := range f.Taxons {
		taxon, err := res.taxon(ctx, item)
		if errors.Is(err, catalog.ErrNotFound) {
			log.warn("%s not found", item)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve taxon %s: %w", item, err)
		}
		if !product.HasTaxon(taxon.ID) {
			product.TaxonIDs = append(product.TaxonIDs, taxon.ID)
		}
	}

	// (8) persist, then stock
	if isNew {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return nil, fmt.Errorf("create product %s: %w", product.Slug, err)
		}
	} else if !product.Equal(before) {
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return nil, fmt.Errorf("update product %s: %w", product.Slug, err)
		}
	}
	if master.ID == 0 {
		master.ProductID = product.ID
		if err := tx.CreateVariant(ctx, master); err != nil {
			return nil, fmt.Errorf("create master variant: %w", err)
		}
	} else if !master.Equal(masterBefore) {
		if err := tx.UpdateVariant(ctx, master); err != nil {
			return nil, fmt.Errorf("update master variant: %w", err)
		}
	}

	state := &productState{product: product, master: master}
	if hasVariants {
		state.deferredStocks = f.Stocks
	} else if err := res.applyStock(ctx, master.ID, f.Stocks); err != nil {
		return nil, err
	}

	// (9) images
	if err := e.images.attachImages(ctx, tx, master.ID, f.Images); err != nil {
		return nil, err
	}

	if hasVariants {
		if state.optionTypes, err = loadOptionTypes(ctx, tx, product); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// existingProductState loads a product for a variants-only block.
func existingProductState(ctx context.Context, tx catalog.Tx, slug string) (*productState, error) {
	if slug == "" {
		return nil, fmt.Errorf("%w: slug missing", ErrProductNotFound)
	}
	product, err := tx.FindProductBySlug(ctx, slug)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", slug, err)
	}
	master, err := loadMaster(ctx, tx, product)
	if err != nil {
		return nil, err
	}
	if master.ID == 0 {
		master.ProductID = product.ID
		if err := tx.CreateVariant(ctx, master); err != nil {
			return nil, fmt.Errorf("create master variant: %w", err)
		}
	}
	ots, err := loadOptionTypes(ctx, tx, product)
	if err != nil {
		return nil, err
	}
	return &productState{product: product, master: master, optionTypes: ots}, nil
}

// loadMaster returns the product's master variant, or an unsaved one for
// new products.
func loadMaster(ctx context.Context, tx catalog.Tx, product *catalog.Product) (*catalog.Variant, error) {
	if product.ID == 0 {
		return &catalog.Variant{IsMaster: true}, nil
	}
	variants, err := tx.ListVariants(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("list variants of %s: %w", product.Slug, err)
	}
	for i := range variants {
		if variants[i].IsMaster {
			return &variants[i], nil
		}
	}
	return &catalog.Variant{IsMaster: true, ProductID: product.ID}, nil
}

func loadOptionTypes(ctx context.Context, tx catalog.Tx, product *catalog.Product) ([]catalog.OptionType, error) {
	out := make([]catalog.OptionType, 0, len(product.OptionTypeIDs))
	for _, id := range product.OptionTypeIDs {
		ot, err := tx.GetOptionType(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load option type %d: %w", id, err)
		}
		out = append(out, *ot)
	}
	return out, nil
}

// setProperty overwrites the value of an existing association or appends
// a new one.
func setProperty(p *catalog.Product, propertyID int64, value string) {
	for i := range p.Properties {
		if p.Properties[i].PropertyID == propertyID {
			p.Properties[i].Value = value
			return
		}
	}
	p.Properties = append(p.Properties, catalog.ProductProperty{
		PropertyID: propertyID,
		Value:      value,
		Position:   len(p.Properties) + 1,
	})
}

// setDecimal assigns src when the cell was filled in. Equal values keep the
// stored representation.
func setDecimal(dst **decimal.Decimal, src *decimal.Decimal) {
	if src == nil {
		return
	}
	if *dst != nil && (*dst).Equal(*src) {
		return
	}
	v := *src
	*dst = &v
}

func applyDimensions(v *catalog.Variant, d Dimensions) {
	setDecimal(&v.Weight, d.Weight)
	setDecimal(&v.Height, d.Height)
	setDecimal(&v.Width, d.Width)
	setDecimal(&v.Depth, d.Depth)
}

// Slugify lower-cases name and collapses every run of other characters
// into a single hyphen.
func Slugify(name string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// uniqueSlug derives a slug from name, suffixing -2, -3, ... when taken.
func uniqueSlug(ctx context.Context, tx catalog.Tx, name string) (string, error) {
	base := Slugify(name)
	if base == "" {
		return "", fmt.Errorf("cannot derive a slug from name %q", name)
	}
	for i := 1; i <= 100; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		_, err := tx.FindProductBySlug(ctx, candidate)
		if errors.Is(err, catalog.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check slug %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free slug for %q", name)
}
