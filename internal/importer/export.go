package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// exportPairSeparator is the spaced form of PairSeparator used in exports.
const exportPairSeparator = " " + PairSeparator + " "

// ExportHeader is the column order of exported catalogs.
func ExportHeader() []string {
	h := make([]string, len(ProductFieldSpecs))
	for i, spec := range ProductFieldSpecs {
		h[i] = spec.Key
	}
	return h
}

// ExportCatalog writes every product and its variants in the import format,
// so the file can be edited and imported back. It returns the number of
// products written.
func ExportCatalog(ctx context.Context, store catalog.Store, w io.Writer, encodingName string) (int, error) {
	ew, err := newWriter(w, encodingName)
	if err != nil {
		return 0, err
	}
	out := csv.NewWriter(ew)
	header := ExportHeader()
	if err := out.Write(header); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}

	products := 0
	err = store.RunInTx(ctx, func(tx catalog.Tx) error {
		x := exporter{tx: tx, header: header}
		list, err := tx.ListProducts(ctx)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		for i := range list {
			rows, err := x.productRows(ctx, &list[i])
			if err != nil {
				return fmt.Errorf("export %s: %w", list[i].Slug, err)
			}
			if err := out.WriteAll(rows); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			products++
		}
		return nil
	})
	if err != nil {
		return products, err
	}

	out.Flush()
	return products, out.Error()
}

type exporter struct {
	tx     catalog.Tx
	header []string
}

func (x exporter) row(values map[string]string) []string {
	r := make([]string, len(x.header))
	for i, key := range x.header {
		r[i] = values[key]
	}
	return r
}

func (x exporter) productRows(ctx context.Context, p *catalog.Product) ([][]string, error) {
	variants, err := x.tx.ListVariants(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var (
		master *catalog.Variant
		others []catalog.Variant
	)
	for i := range variants {
		if variants[i].IsMaster {
			master = &variants[i]
		} else {
			others = append(others, variants[i])
		}
	}

	values := map[string]string{
		ColSlug:        p.Slug,
		ColName:        p.Name,
		ColDescription: html.EscapeString(p.Description),
	}
	if p.AvailableOn != nil {
		values[ColAvailableOn] = p.AvailableOn.Format("2006-01-02")
	}
	if sc, err := x.tx.GetShippingCategory(ctx, p.ShippingCategoryID); err == nil {
		values[ColShippingCategory] = sc.Name
	}
	if p.TaxCategoryID != nil {
		tc, err := x.tx.GetTaxCategory(ctx, *p.TaxCategoryID)
		if err != nil {
			return nil, err
		}
		values[ColTaxCategory] = tc.Name
	}
	if values[ColTaxons], err = x.taxons(ctx, p.TaxonIDs); err != nil {
		return nil, err
	}
	if values[ColOptionTypes], err = x.optionTypes(ctx, p.OptionTypeIDs); err != nil {
		return nil, err
	}
	if values[ColProperties], err = x.properties(ctx, p.Properties); err != nil {
		return nil, err
	}

	if master != nil {
		values[ColPrice] = formatDecimal(master.Price)
		values[ColCostPrice] = formatDecimal(master.CostPrice)
		if len(others) == 0 {
			values[ColSKU] = master.SKU
			if err := x.variantScalars(ctx, master, values); err != nil {
				return nil, err
			}
		}
	}

	rows := [][]string{x.row(values)}
	for i := range others {
		v := &others[i]
		vv := map[string]string{
			ColSKU:       v.SKU,
			ColPrice:     formatDecimal(v.Price),
			ColCostPrice: formatDecimal(v.CostPrice),
		}
		if v.TaxCategoryID != nil {
			tc, err := x.tx.GetTaxCategory(ctx, *v.TaxCategoryID)
			if err != nil {
				return nil, err
			}
			vv[ColTaxCategory] = tc.Name
		}
		if vv[ColOptionValues], err = x.optionValues(ctx, v.OptionValueIDs); err != nil {
			return nil, err
		}
		if err := x.variantScalars(ctx, v, vv); err != nil {
			return nil, err
		}
		rows = append(rows, x.row(vv))
	}
	return rows, nil
}

// variantScalars fills stocks and dimensions.
func (x exporter) variantScalars(ctx context.Context, v *catalog.Variant, values map[string]string) error {
	values[ColWeight] = formatDecimal(v.Weight)
	values[ColHeight] = formatDecimal(v.Height)
	values[ColWidth] = formatDecimal(v.Width)
	values[ColDepth] = formatDecimal(v.Depth)

	items, err := x.tx.ListStock(ctx, v.ID)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		loc, err := x.tx.GetStockLocation(ctx, item.StockLocationID)
		if err != nil {
			return err
		}
		parts = append(parts, loc.Label()+exportPairSeparator+strconv.Itoa(item.CountOnHand))
	}
	values[ColStocks] = strings.Join(parts, ItemSeparator+" ")
	return nil
}

func (x exporter) taxons(ctx context.Context, ids []int64) (string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		var chain []string
		for next := &id; next != nil; {
			t, err := x.tx.GetTaxon(ctx, *next)
			if err != nil {
				return "", err
			}
			chain = append([]string{t.Name}, chain...)
			next = t.ParentID
		}
		names = append(names, strings.Join(chain, exportPairSeparator))
	}
	return strings.Join(names, ItemSeparator+" "), nil
}

func (x exporter) optionTypes(ctx context.Context, ids []int64) (string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		ot, err := x.tx.GetOptionType(ctx, id)
		if err != nil {
			return "", err
		}
		names = append(names, ot.Name)
	}
	return strings.Join(names, ItemSeparator+" "), nil
}

func (x exporter) properties(ctx context.Context, props []catalog.ProductProperty) (string, error) {
	parts := make([]string, 0, len(props))
	for _, pp := range props {
		prop, err := x.tx.GetProperty(ctx, pp.PropertyID)
		if err != nil {
			return "", err
		}
		parts = append(parts, prop.Name+exportPairSeparator+pp.Value)
	}
	return strings.Join(parts, ItemSeparator+" "), nil
}

func (x exporter) optionValues(ctx context.Context, ids []int64) (string, error) {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		ov, err := x.tx.GetOptionValue(ctx, id)
		if err != nil {
			return "", err
		}
		ot, err := x.tx.GetOptionType(ctx, ov.OptionTypeID)
		if err != nil {
			return "", err
		}
		parts = append(parts, ot.Name+exportPairSeparator+ov.Name)
	}
	return strings.Join(parts, ItemSeparator+" "), nil
}

func formatDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
