package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// catalogTx implements catalog.Tx on one pgx transaction.
type catalogTx struct {
	db DBTX
}

var _ catalog.Tx = (*catalogTx)(nil)

// ----------------------------------------------------------------------------
// Categories
// ----------------------------------------------------------------------------

func (t *catalogTx) FindTaxCategory(ctx context.Context, name string) (*catalog.TaxCategory, error) {
	var c catalog.TaxCategory
	err := t.db.QueryRow(ctx,
		`SELECT id, name FROM tax_categories WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`,
		name).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, lookupErr(err, "tax category", name)
	}
	return &c, nil
}

func (t *catalogTx) CreateTaxCategory(ctx context.Context, c *catalog.TaxCategory) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO tax_categories (name) VALUES ($1) RETURNING id`, c.Name).Scan(&c.ID)
}

func (t *catalogTx) GetTaxCategory(ctx context.Context, id int64) (*catalog.TaxCategory, error) {
	var c catalog.TaxCategory
	err := t.db.QueryRow(ctx, `SELECT id, name FROM tax_categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, lookupErr(err, "tax category", id)
	}
	return &c, nil
}

func (t *catalogTx) FindShippingCategory(ctx context.Context, name string) (*catalog.ShippingCategory, error) {
	var c catalog.ShippingCategory
	err := t.db.QueryRow(ctx,
		`SELECT id, name FROM shipping_categories WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`,
		name).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, lookupErr(err, "shipping category", name)
	}
	return &c, nil
}

func (t *catalogTx) FirstShippingCategory(ctx context.Context) (*catalog.ShippingCategory, error) {
	var c catalog.ShippingCategory
	err := t.db.QueryRow(ctx, `SELECT id, name FROM shipping_categories ORDER BY id LIMIT 1`).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, lookupErr(err, "shipping category", "any")
	}
	return &c, nil
}

func (t *catalogTx) CreateShippingCategory(ctx context.Context, c *catalog.ShippingCategory) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO shipping_categories (name) VALUES ($1) RETURNING id`, c.Name).Scan(&c.ID)
}

func (t *catalogTx) GetShippingCategory(ctx context.Context, id int64) (*catalog.ShippingCategory, error) {
	var c catalog.ShippingCategory
	err := t.db.QueryRow(ctx, `SELECT id, name FROM shipping_categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, lookupErr(err, "shipping category", id)
	}
	return &c, nil
}

// ----------------------------------------------------------------------------
// Options
// ----------------------------------------------------------------------------

func (t *catalogTx) FindOptionType(ctx context.Context, name string) (*catalog.OptionType, error) {
	var o catalog.OptionType
	err := t.db.QueryRow(ctx,
		`SELECT id, name, presentation FROM option_types WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`,
		name).Scan(&o.ID, &o.Name, &o.Presentation)
	if err != nil {
		return nil, lookupErr(err, "option type", name)
	}
	return &o, nil
}

func (t *catalogTx) CreateOptionType(ctx context.Context, o *catalog.OptionType) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO option_types (name, presentation) VALUES ($1, $2) RETURNING id`,
		o.Name, o.Presentation).Scan(&o.ID)
}

func (t *catalogTx) GetOptionType(ctx context.Context, id int64) (*catalog.OptionType, error) {
	var o catalog.OptionType
	err := t.db.QueryRow(ctx,
		`SELECT id, name, presentation FROM option_types WHERE id = $1`, id).Scan(&o.ID, &o.Name, &o.Presentation)
	if err != nil {
		return nil, lookupErr(err, "option type", id)
	}
	return &o, nil
}

func (t *catalogTx) FindOptionValue(ctx context.Context, optionTypeID int64, name string) (*catalog.OptionValue, error) {
	var v catalog.OptionValue
	err := t.db.QueryRow(ctx,
		`SELECT id, option_type_id, name, presentation FROM option_values
		 WHERE option_type_id = $1 AND lower(name) = lower($2) ORDER BY id LIMIT 1`,
		optionTypeID, name).Scan(&v.ID, &v.OptionTypeID, &v.Name, &v.Presentation)
	if err != nil {
		return nil, lookupErr(err, "option value", name)
	}
	return &v, nil
}

func (t *catalogTx) CreateOptionValue(ctx context.Context, v *catalog.OptionValue) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO option_values (option_type_id, name, presentation) VALUES ($1, $2, $3) RETURNING id`,
		v.OptionTypeID, v.Name, v.Presentation).Scan(&v.ID)
}

func (t *catalogTx) GetOptionValue(ctx context.Context, id int64) (*catalog.OptionValue, error) {
	var v catalog.OptionValue
	err := t.db.QueryRow(ctx,
		`SELECT id, option_type_id, name, presentation FROM option_values WHERE id = $1`,
		id).Scan(&v.ID, &v.OptionTypeID, &v.Name, &v.Presentation)
	if err != nil {
		return nil, lookupErr(err, "option value", id)
	}
	return &v, nil
}

// ----------------------------------------------------------------------------
// Taxons and properties
// ----------------------------------------------------------------------------

func (t *catalogTx) FindRootTaxon(ctx context.Context, name string) (*catalog.Taxon, error) {
	var x catalog.Taxon
	err := t.db.QueryRow(ctx,
		`SELECT id, parent_id, name FROM taxons
		 WHERE parent_id IS NULL AND lower(name) = lower($1) ORDER BY id LIMIT 1`,
		name).Scan(&x.ID, &x.ParentID, &x.Name)
	if err != nil {
		return nil, lookupErr(err, "taxon", name)
	}
	return &x, nil
}

func (t *catalogTx) FindChildTaxon(ctx context.Context, parentID int64, name string) (*catalog.Taxon, error) {
	var x catalog.Taxon
	err := t.db.QueryRow(ctx,
		`SELECT id, parent_id, name FROM taxons
		 WHERE parent_id = $1 AND lower(name) = lower($2) ORDER BY id LIMIT 1`,
		parentID, name).Scan(&x.ID, &x.ParentID, &x.Name)
	if err != nil {
		return nil, lookupErr(err, "taxon", name)
	}
	return &x, nil
}

func (t *catalogTx) CreateTaxon(ctx context.Context, x *catalog.Taxon) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO taxons (parent_id, name) VALUES ($1, $2) RETURNING id`,
		x.ParentID, x.Name).Scan(&x.ID)
}

func (t *catalogTx) GetTaxon(ctx context.Context, id int64) (*catalog.Taxon, error) {
	var x catalog.Taxon
	err := t.db.QueryRow(ctx,
		`SELECT id, parent_id, name FROM taxons WHERE id = $1`, id).Scan(&x.ID, &x.ParentID, &x.Name)
	if err != nil {
		return nil, lookupErr(err, "taxon", id)
	}
	return &x, nil
}

func (t *catalogTx) FindProperty(ctx context.Context, name string) (*catalog.Property, error) {
	var p catalog.Property
	err := t.db.QueryRow(ctx,
		`SELECT id, name, presentation FROM properties WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`,
		name).Scan(&p.ID, &p.Name, &p.Presentation)
	if err != nil {
		return nil, lookupErr(err, "property", name)
	}
	return &p, nil
}

func (t *catalogTx) CreateProperty(ctx context.Context, p *catalog.Property) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO properties (name, presentation) VALUES ($1, $2) RETURNING id`,
		p.Name, p.Presentation).Scan(&p.ID)
}

func (t *catalogTx) GetProperty(ctx context.Context, id int64) (*catalog.Property, error) {
	var p catalog.Property
	err := t.db.QueryRow(ctx,
		`SELECT id, name, presentation FROM properties WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.Presentation)
	if err != nil {
		return nil, lookupErr(err, "property", id)
	}
	return &p, nil
}

// ----------------------------------------------------------------------------
// Stock locations
// ----------------------------------------------------------------------------

const stockLocationColumns = `id, name, admin_name, is_default`

func scanStockLocation(row pgx.Row) (catalog.StockLocation, error) {
	var l catalog.StockLocation
	err := row.Scan(&l.ID, &l.Name, &l.AdminName, &l.Default)
	return l, err
}

func (t *catalogTx) FindStockLocation(ctx context.Context, name string) (*catalog.StockLocation, error) {
	l, err := scanStockLocation(t.db.QueryRow(ctx,
		`SELECT `+stockLocationColumns+` FROM stock_locations
		 WHERE lower(COALESCE(NULLIF(admin_name, ''), name)) = lower($1) ORDER BY id LIMIT 1`, name))
	if err != nil {
		return nil, lookupErr(err, "stock location", name)
	}
	return &l, nil
}

func (t *catalogTx) DefaultStockLocations(ctx context.Context) ([]catalog.StockLocation, error) {
	rows, err := t.db.Query(ctx,
		`SELECT `+stockLocationColumns+` FROM stock_locations WHERE is_default ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query default stock locations: %w", err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (catalog.StockLocation, error) {
		return scanStockLocation(r)
	})
}

func (t *catalogTx) CreateStockLocation(ctx context.Context, l *catalog.StockLocation) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO stock_locations (name, admin_name, is_default) VALUES ($1, $2, $3) RETURNING id`,
		l.Name, l.AdminName, l.Default).Scan(&l.ID)
}

func (t *catalogTx) GetStockLocation(ctx context.Context, id int64) (*catalog.StockLocation, error) {
	l, err := scanStockLocation(t.db.QueryRow(ctx,
		`SELECT `+stockLocationColumns+` FROM stock_locations WHERE id = $1`, id))
	if err != nil {
		return nil, lookupErr(err, "stock location", id)
	}
	return &l, nil
}

// ----------------------------------------------------------------------------
// Products
// ----------------------------------------------------------------------------

const productColumns = `id, slug, name, description, available_on, shipping_category_id,
	tax_category_id, created_at, updated_at`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.AvailableOn,
		&p.ShippingCategoryID, &p.TaxCategoryID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// loadProductLinks fills the option types, taxons and properties of p.
func (t *catalogTx) loadProductLinks(ctx context.Context, p *catalog.Product) error {
	var err error
	if p.OptionTypeIDs, err = t.ids(ctx,
		`SELECT option_type_id FROM product_option_types WHERE product_id = $1 ORDER BY position`, p.ID); err != nil {
		return fmt.Errorf("load option types of %s: %w", p.Slug, err)
	}
	if p.TaxonIDs, err = t.ids(ctx,
		`SELECT taxon_id FROM product_taxons WHERE product_id = $1 ORDER BY position`, p.ID); err != nil {
		return fmt.Errorf("load taxons of %s: %w", p.Slug, err)
	}

	rows, err := t.db.Query(ctx,
		`SELECT property_id, value, position FROM product_properties WHERE product_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return fmt.Errorf("load properties of %s: %w", p.Slug, err)
	}
	p.Properties, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (catalog.ProductProperty, error) {
		var pp catalog.ProductProperty
		err := r.Scan(&pp.PropertyID, &pp.Value, &pp.Position)
		return pp, err
	})
	if err != nil {
		return fmt.Errorf("load properties of %s: %w", p.Slug, err)
	}
	return nil
}

func (t *catalogTx) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// saveProductLinks replaces the join rows of p with its current lists.
func (t *catalogTx) saveProductLinks(ctx context.Context, p *catalog.Product) error {
	for _, table := range []string{"product_option_types", "product_taxons", "product_properties"} {
		if _, err := t.db.Exec(ctx, `DELETE FROM `+table+` WHERE product_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i, id := range p.OptionTypeIDs {
		if _, err := t.db.Exec(ctx,
			`INSERT INTO product_option_types (product_id, option_type_id, position) VALUES ($1, $2, $3)`,
			p.ID, id, i+1); err != nil {
			return fmt.Errorf("link option type %d: %w", id, err)
		}
	}
	for i, id := range p.TaxonIDs {
		if _, err := t.db.Exec(ctx,
			`INSERT INTO product_taxons (product_id, taxon_id, position) VALUES ($1, $2, $3)`,
			p.ID, id, i+1); err != nil {
			return fmt.Errorf("link taxon %d: %w", id, err)
		}
	}
	for _, pp := range p.Properties {
		if _, err := t.db.Exec(ctx,
			`INSERT INTO product_properties (product_id, property_id, value, position) VALUES ($1, $2, $3, $4)`,
			p.ID, pp.PropertyID, pp.Value, pp.Position); err != nil {
			return fmt.Errorf("link property %d: %w", pp.PropertyID, err)
		}
	}
	return nil
}

func (t *catalogTx) FindProductBySlug(ctx context.Context, slug string) (*catalog.Product, error) {
	p, err := scanProduct(t.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE lower(slug) = lower($1)`, slug))
	if err != nil {
		return nil, lookupErr(err, "product", slug)
	}
	if err := t.loadProductLinks(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *catalogTx) CreateProduct(ctx context.Context, p *catalog.Product) error {
	err := t.db.QueryRow(ctx,
		`INSERT INTO products (slug, name, description, available_on, shipping_category_id, tax_category_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		p.Slug, p.Name, p.Description, p.AvailableOn, p.ShippingCategoryID, p.TaxCategoryID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return t.saveProductLinks(ctx, p)
}

func (t *catalogTx) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	err := t.db.QueryRow(ctx,
		`UPDATE products SET slug = $2, name = $3, description = $4, available_on = $5,
		     shipping_category_id = $6, tax_category_id = $7, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		p.ID, p.Slug, p.Name, p.Description, p.AvailableOn, p.ShippingCategoryID, p.TaxCategoryID,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return lookupErr(err, "product", p.ID)
	}
	return t.saveProductLinks(ctx, p)
}

func (t *catalogTx) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := t.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (catalog.Product, error) {
		return scanProduct(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	for i := range products {
		if err := t.loadProductLinks(ctx, &products[i]); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// ----------------------------------------------------------------------------
// Variants
// ----------------------------------------------------------------------------

const variantColumns = `id, product_id, sku, is_master, price::text, cost_price::text,
	weight::text, height::text, width::text, depth::text, tax_category_id, position`

func scanVariant(row pgx.Row) (catalog.Variant, error) {
	var (
		v                                         catalog.Variant
		price, cost, weight, height, width, depth *string
	)
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.IsMaster, &price, &cost,
		&weight, &height, &width, &depth, &v.TaxCategoryID, &v.Position)
	if err != nil {
		return v, err
	}
	if v.Price, err = numericValue(price); err != nil {
		return v, err
	}
	if v.CostPrice, err = numericValue(cost); err != nil {
		return v, err
	}
	if v.Weight, err = numericValue(weight); err != nil {
		return v, err
	}
	if v.Height, err = numericValue(height); err != nil {
		return v, err
	}
	if v.Width, err = numericValue(width); err != nil {
		return v, err
	}
	if v.Depth, err = numericValue(depth); err != nil {
		return v, err
	}
	return v, nil
}

func (t *catalogTx) loadOptionValues(ctx context.Context, v *catalog.Variant) error {
	var err error
	v.OptionValueIDs, err = t.ids(ctx,
		`SELECT option_value_id FROM variant_option_values WHERE variant_id = $1 ORDER BY position`, v.ID)
	if err != nil {
		return fmt.Errorf("load option values of variant %d: %w", v.ID, err)
	}
	return nil
}

func (t *catalogTx) saveOptionValues(ctx context.Context, v *catalog.Variant) error {
	if _, err := t.db.Exec(ctx, `DELETE FROM variant_option_values WHERE variant_id = $1`, v.ID); err != nil {
		return fmt.Errorf("clear option values: %w", err)
	}
	for i, id := range v.OptionValueIDs {
		if _, err := t.db.Exec(ctx,
			`INSERT INTO variant_option_values (variant_id, option_value_id, position) VALUES ($1, $2, $3)`,
			v.ID, id, i+1); err != nil {
			return fmt.Errorf("link option value %d: %w", id, err)
		}
	}
	return nil
}

func (t *catalogTx) ListVariants(ctx context.Context, productID int64) ([]catalog.Variant, error) {
	rows, err := t.db.Query(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE product_id = $1 ORDER BY is_master DESC, position, id`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (catalog.Variant, error) {
		return scanVariant(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan variants: %w", err)
	}
	for i := range variants {
		if err := t.loadOptionValues(ctx, &variants[i]); err != nil {
			return nil, err
		}
	}
	return variants, nil
}

func (t *catalogTx) FindVariantBySKU(ctx context.Context, productID int64, sku string) (*catalog.Variant, error) {
	v, err := scanVariant(t.db.QueryRow(ctx,
		`SELECT `+variantColumns+` FROM variants
		 WHERE product_id = $1 AND NOT is_master AND lower(sku) = lower($2) ORDER BY id LIMIT 1`,
		productID, sku))
	if err != nil {
		return nil, lookupErr(err, "variant", sku)
	}
	if err := t.loadOptionValues(ctx, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *catalogTx) CreateVariant(ctx context.Context, v *catalog.Variant) error {
	err := t.db.QueryRow(ctx,
		`INSERT INTO variants (product_id, sku, is_master, price, cost_price, weight, height, width, depth,
		     tax_category_id, position)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11)
		 RETURNING id`,
		v.ProductID, v.SKU, v.IsMaster,
		numericArg(v.Price), numericArg(v.CostPrice),
		numericArg(v.Weight), numericArg(v.Height), numericArg(v.Width), numericArg(v.Depth),
		v.TaxCategoryID, v.Position,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	return t.saveOptionValues(ctx, v)
}

func (t *catalogTx) UpdateVariant(ctx context.Context, v *catalog.Variant) error {
	tag, err := t.db.Exec(ctx,
		`UPDATE variants SET sku = $2, price = $3::numeric, cost_price = $4::numeric, weight = $5::numeric,
		     height = $6::numeric, width = $7::numeric, depth = $8::numeric, tax_category_id = $9, position = $10
		 WHERE id = $1`,
		v.ID, v.SKU,
		numericArg(v.Price), numericArg(v.CostPrice),
		numericArg(v.Weight), numericArg(v.Height), numericArg(v.Width), numericArg(v.Depth),
		v.TaxCategoryID, v.Position,
	)
	if err != nil {
		return fmt.Errorf("update variant %d: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return lookupErr(pgx.ErrNoRows, "variant", v.ID)
	}
	return t.saveOptionValues(ctx, v)
}

// ----------------------------------------------------------------------------
// Stock and images
// ----------------------------------------------------------------------------

func (t *catalogTx) SetStock(ctx context.Context, variantID, locationID int64, count int) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO stock_items (variant_id, stock_location_id, count_on_hand) VALUES ($1, $2, $3)
		 ON CONFLICT (variant_id, stock_location_id) DO UPDATE SET count_on_hand = EXCLUDED.count_on_hand`,
		variantID, locationID, count)
	if err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	return nil
}

func (t *catalogTx) ListStock(ctx context.Context, variantID int64) ([]catalog.StockItem, error) {
	rows, err := t.db.Query(ctx,
		`SELECT variant_id, stock_location_id, count_on_hand FROM stock_items
		 WHERE variant_id = $1 ORDER BY stock_location_id`, variantID)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (catalog.StockItem, error) {
		var s catalog.StockItem
		err := r.Scan(&s.VariantID, &s.StockLocationID, &s.CountOnHand)
		return s, err
	})
}

func (t *catalogTx) ListImages(ctx context.Context, variantID int64) ([]catalog.Image, error) {
	rows, err := t.db.Query(ctx,
		`SELECT id, variant_id, file_name, path, width, height, position FROM images
		 WHERE variant_id = $1 ORDER BY position, id`, variantID)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (catalog.Image, error) {
		var img catalog.Image
		err := r.Scan(&img.ID, &img.VariantID, &img.FileName, &img.Path, &img.Width, &img.Height, &img.Position)
		return img, err
	})
}

func (t *catalogTx) CreateImage(ctx context.Context, img *catalog.Image) error {
	return t.db.QueryRow(ctx,
		`INSERT INTO images (variant_id, file_name, path, width, height, position)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		img.VariantID, img.FileName, img.Path, img.Width, img.Height, img.Position).Scan(&img.ID)
}
