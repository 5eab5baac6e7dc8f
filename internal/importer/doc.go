// Package importer reconciles tabular catalog files against a catalog store.
//
// A catalog file interleaves product rows and variant rows: a row with a
// slug or name starts a product, and the rows after it (until the next
// product row) are that product's variants.
//
// # Flow
//
//  1. [NewRowReader] decodes the file (Latin-1 CSV by default, or XLSX) and
//     normalizes the header keys.
//  2. [Grouper] groups rows into [Block]s.
//  3. [Engine.Run] reconciles each block in its own store transaction: the
//     product first, then each variant row in order. The first error rolls
//     the whole block back; the run moves on to the next block.
//  4. [WriteReport] turns the failed blocks into a CSV shaped like the input
//     with an extra issues column.
//
// # Cell syntax
//
// Multi-value cells are comma-separated. Pairs use "->" (Size->Small,
// Material->Cotton, Warehouse->5). Taxon chains use "->" or "/"
// (Clothing->Shirts, Clothing/Shirts).
//
// Reference entities (categories, option types and values, properties) are
// looked up case-insensitively and created when missing. Taxons and stock
// locations are never created; an unknown taxon is a warning, an unknown
// stock location fails the block.
package importer
