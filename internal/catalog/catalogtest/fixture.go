// Package catalogtest seeds in-memory catalogs for tests.
package catalogtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/storage"
)

// Fixture is an in-memory catalog database with seeding helpers
type Fixture struct {
	t      testing.TB
	DB     *sql.DB
	Source *catalog.SQLiteSource
}

// New opens an empty in-memory catalog
func New(t testing.TB) *Fixture {
	t.Helper()
	db, err := storage.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.EnsureSchema(context.Background(), db))
	return &Fixture{t: t, DB: db, Source: catalog.NewSQLiteSource(db)}
}

// Exec runs a raw statement and fails the test on error
func (f *Fixture) Exec(query string, args ...interface{}) {
	f.t.Helper()
	_, err := f.DB.Exec(query, args...)
	require.NoError(f.t, err)
}

// Store adds a store view
func (f *Fixture) Store(code string, storeID, stockID int64) *Fixture {
	f.Exec(`INSERT INTO stores (code, store_id, stock_id) VALUES (?, ?, ?)`, code, storeID, stockID)
	return f
}

// Product adds a product with default-scope attributes
func (f *Fixture) Product(id int64, sku, typeID string, attrs map[string]string) *Fixture {
	f.Exec(`INSERT INTO products (id, sku, type_id) VALUES (?, ?, ?)`, id, sku, typeID)
	for code, value := range attrs {
		f.Attr(id, catalog.DefaultStoreID, code, value)
	}
	return f
}

// Enabled adds a visible, enabled product
func (f *Fixture) Enabled(id int64, sku, typeID string) *Fixture {
	return f.Product(id, sku, typeID, map[string]string{
		catalog.AttrStatus:     "1",
		catalog.AttrVisibility: "4",
		catalog.AttrName:       sku,
	})
}

// Attr sets one store-scoped attribute value
func (f *Fixture) Attr(productID, storeID int64, code, value string) *Fixture {
	f.Exec(`INSERT OR REPLACE INTO product_attributes (product_id, store_id, code, value) VALUES (?, ?, ?, ?)`,
		productID, storeID, code, value)
	return f
}

// Price sets indexed prices for a store
func (f *Fixture) Price(productID, storeID int64, final, regular, maxPrice float64) *Fixture {
	f.Exec(`INSERT OR REPLACE INTO product_prices (product_id, store_id, final_price, regular_price, max_price)
		VALUES (?, ?, ?, ?, ?)`, productID, storeID, final, regular, maxPrice)
	return f
}

// Relation links a child to a parent
func (f *Fixture) Relation(parentID, childID int64, relType string) *Fixture {
	f.Exec(`INSERT INTO product_relations (parent_id, child_id, type) VALUES (?, ?, ?)`, parentID, childID, relType)
	return f
}

// Attribute defines an attribute
func (f *Fixture) Attribute(code, input string, swatch, perProduct bool) *Fixture {
	f.Exec(`INSERT INTO attributes (code, frontend_input, is_swatch, uses_product_options) VALUES (?, ?, ?, ?)`,
		code, input, swatch, perProduct)
	return f
}

// Option adds an option label
func (f *Fixture) Option(code, optionID string, storeID int64, label string) *Fixture {
	f.Exec(`INSERT INTO attribute_options (attribute_code, option_id, store_id, label) VALUES (?, ?, ?, ?)`,
		code, optionID, storeID, label)
	return f
}

// ProductOption adds a per-product option label
func (f *Fixture) ProductOption(productID int64, code, value, label string) *Fixture {
	f.Exec(`INSERT INTO product_options (product_id, attribute_code, value, label) VALUES (?, ?, ?, ?)`,
		productID, code, value, label)
	return f
}

// ConfigurableAttribute registers a parent's super attribute
func (f *Fixture) ConfigurableAttribute(parentID int64, code string, position int) *Fixture {
	f.Exec(`INSERT INTO configurable_attributes (parent_id, attribute_code, position) VALUES (?, ?, ?)`,
		parentID, code, position)
	return f
}

// StockItem adds a legacy stock row
func (f *Fixture) StockItem(item catalog.StockItem) *Fixture {
	f.Exec(`INSERT INTO stock_items (product_id, qty, is_in_stock, manage_stock, min_qty) VALUES (?, ?, ?, ?, ?)`,
		item.ProductID, item.Qty, item.IsInStock, item.ManageStock, item.MinQty)
	return f
}

// SourceItem adds aggregated MSI stock for a SKU
func (f *Fixture) SourceItem(item catalog.SourceItem) *Fixture {
	var salable interface{}
	if item.IsSalable != nil {
		salable = *item.IsSalable
	}
	f.Exec(`INSERT INTO source_items (sku, stock_id, qty, is_salable, manage_stock, min_qty) VALUES (?, ?, ?, ?, ?, ?)`,
		item.SKU, item.StockID, item.Qty, salable, item.ManageStock, item.MinQty)
	return f
}

// Reservation adds a signed reservation
func (f *Fixture) Reservation(sku string, stockID int64, qty float64) *Fixture {
	f.Exec(`INSERT INTO reservations (sku, stock_id, quantity) VALUES (?, ?, ?)`, sku, stockID, qty)
	return f
}

// Module records a module flag
func (f *Fixture) Module(name string, enabled bool) *Fixture {
	f.Exec(`INSERT OR REPLACE INTO modules (name, enabled) VALUES (?, ?)`, name, enabled)
	return f
}
