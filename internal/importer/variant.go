package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// reconcileVariant creates or updates one variant of the block's product.
// Every option type on the product must receive a value.
func (e *Engine) reconcileVariant(ctx context.Context, tx catalog.Tx, ps *productState, f VariantFields, log *issueLog) error {
	// (1) SKU
	if f.SKU == "" {
		return ErrSKUMissing
	}
	res := resolver{tx: tx}

	// (2) locate or start the variant
	variant, err := tx.FindVariantBySKU(ctx, ps.product.ID, f.SKU)
	isNew := false
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		position, err := nextVariantPosition(ctx, tx, ps.product.ID)
		if err != nil {
			return err
		}
		variant = &catalog.Variant{ProductID: ps.product.ID, SKU: f.SKU, Position: position}
		isNew = true
	case err != nil:
		return fmt.Errorf("find variant %s: %w", f.SKU, err)
	}
	before := variant.Clone()

	// (3) tax category
	if f.TaxCategory != "" {
		tc, err := res.taxCategory(ctx, f.TaxCategory)
		if err != nil {
			return err
		}
		variant.TaxCategoryID = &tc.ID
	}

	// (4) scalar fields; new variants start at the master price
	if isNew && f.Price == nil && ps.master.Price != nil {
		p := *ps.master.Price
		variant.Price = &p
	}
	setDecimal(&variant.Price, f.Price)
	setDecimal(&variant.CostPrice, f.CostPrice)
	applyDimensions(variant, f.Dimensions)

	// (5) option values
	provided := make(map[string]string, len(f.OptionValues))
	for _, pair := range f.OptionValues {
		provided[strings.ToLower(pair.Name)] = pair.Value
	}
	for _, ot := range ps.optionTypes {
		key := strings.ToLower(ot.Name)
		value, ok := provided[key]
		if !ok || value == "" {
			return &OptionValueMissingError{OptionType: ot.Name}
		}
		ov, err := res.optionValue(ctx, &ot, value)
		if err != nil {
			return err
		}
		if err := setOptionValue(ctx, tx, variant, ov); err != nil {
			return err
		}
		delete(provided, key)
	}
	for _, pair := range f.OptionValues {
		if _, extra := provided[strings.ToLower(pair.Name)]; extra {
			log.warn("option type %s is not assigned to %s", pair.Name, ps.product.Slug)
		}
	}

	// (6) persist
	if isNew {
		if err := tx.CreateVariant(ctx, variant); err != nil {
			return fmt.Errorf("create variant %s: %w", f.SKU, err)
		}
	} else if !variant.Equal(before) {
		if err := tx.UpdateVariant(ctx, variant); err != nil {
			return fmt.Errorf("update variant %s: %w", f.SKU, err)
		}
	}

	// (7) stock, (8) images
	if err := res.applyStock(ctx, variant.ID, f.Stocks); err != nil {
		return err
	}
	return e.images.attachImages(ctx, tx, variant.ID, f.Images)
}

// setOptionValue gives the variant ov for its option type, replacing any
// other value of the same type. Order of the remaining values is kept.
func setOptionValue(ctx context.Context, tx catalog.Tx, v *catalog.Variant, ov *catalog.OptionValue) error {
	out := make([]int64, 0, len(v.OptionValueIDs)+1)
	found := false
	for _, id := range v.OptionValueIDs {
		if id == ov.ID {
			out = append(out, id)
			found = true
			continue
		}
		current, err := tx.GetOptionValue(ctx, id)
		if err != nil {
			return fmt.Errorf("load option value %d: %w", id, err)
		}
		if current.OptionTypeID != ov.OptionTypeID {
			out = append(out, id)
		}
	}
	if !found {
		out = append(out, ov.ID)
	}
	v.OptionValueIDs = out
	return nil
}

func nextVariantPosition(ctx context.Context, tx catalog.Tx, productID int64) (int, error) {
	variants, err := tx.ListVariants(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("list variants: %w", err)
	}
	highest := 0
	for _, v := range variants {
		if !v.IsMaster && v.Position > highest {
			highest = v.Position
		}
	}
	return highest + 1, nil
}
