package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the catalog layout read by SQLiteSource. The catalog is owned by the
// storefront; EnsureSchema exists for local development and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS stores (
    code TEXT PRIMARY KEY,
    store_id INTEGER NOT NULL UNIQUE,
    stock_id INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY,
    sku TEXT NOT NULL UNIQUE,
    type_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product_attributes (
    product_id INTEGER NOT NULL,
    store_id INTEGER NOT NULL DEFAULT 0,
    code TEXT NOT NULL,
    value TEXT,
    PRIMARY KEY (product_id, store_id, code)
);

CREATE TABLE IF NOT EXISTS attributes (
    code TEXT PRIMARY KEY,
    frontend_input TEXT NOT NULL DEFAULT 'text',
    is_swatch INTEGER NOT NULL DEFAULT 0,
    uses_product_options INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attribute_options (
    attribute_code TEXT NOT NULL,
    option_id TEXT NOT NULL,
    store_id INTEGER NOT NULL DEFAULT 0,
    label TEXT NOT NULL,
    PRIMARY KEY (attribute_code, option_id, store_id)
);

CREATE TABLE IF NOT EXISTS product_options (
    product_id INTEGER NOT NULL,
    attribute_code TEXT NOT NULL,
    value TEXT NOT NULL,
    label TEXT NOT NULL,
    PRIMARY KEY (product_id, attribute_code, value)
);

CREATE TABLE IF NOT EXISTS product_prices (
    product_id INTEGER NOT NULL,
    store_id INTEGER NOT NULL DEFAULT 0,
    final_price REAL,
    regular_price REAL,
    max_price REAL,
    PRIMARY KEY (product_id, store_id)
);

CREATE TABLE IF NOT EXISTS product_relations (
    parent_id INTEGER NOT NULL,
    child_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (parent_id, child_id, type)
);

CREATE INDEX IF NOT EXISTS idx_product_relations_child ON product_relations(child_id);

CREATE TABLE IF NOT EXISTS configurable_attributes (
    parent_id INTEGER NOT NULL,
    attribute_code TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (parent_id, attribute_code)
);

CREATE TABLE IF NOT EXISTS stock_items (
    product_id INTEGER PRIMARY KEY,
    qty REAL NOT NULL DEFAULT 0,
    is_in_stock INTEGER NOT NULL DEFAULT 0,
    manage_stock INTEGER NOT NULL DEFAULT 1,
    min_qty REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS source_items (
    sku TEXT NOT NULL,
    stock_id INTEGER NOT NULL,
    qty REAL NOT NULL DEFAULT 0,
    is_salable INTEGER,
    manage_stock INTEGER NOT NULL DEFAULT 1,
    min_qty REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (sku, stock_id)
);

CREATE TABLE IF NOT EXISTS reservations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sku TEXT NOT NULL,
    stock_id INTEGER NOT NULL,
    quantity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservations_sku ON reservations(sku, stock_id);

CREATE TABLE IF NOT EXISTS modules (
    name TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL DEFAULT 0
);
`

// EnsureSchema creates the catalog tables when they are missing
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return nil
}
