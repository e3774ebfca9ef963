package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/catalogfeed/pkg/types"
)

// chunkSize bounds the number of ids bound into one IN (...) clause
const chunkSize = 100

// ProductRef is the identity of a product without its store-scoped data
type ProductRef struct {
	ID     int64
	SKU    string
	TypeID string
}

// SQLiteSource reads the catalog in bulk. It never writes.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource wraps an open catalog database
func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

// DB exposes the underlying handle
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

// Stores lists every store view ordered by store id
func (s *SQLiteSource) Stores(ctx context.Context) ([]Store, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, store_id, stock_id FROM stores ORDER BY store_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stores []Store
	for rows.Next() {
		var st Store
		if err := rows.Scan(&st.Code, &st.StoreID, &st.StockID); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

// StoreByCode resolves one store view
func (s *SQLiteSource) StoreByCode(ctx context.Context, code string) (Store, error) {
	var st Store
	err := s.db.QueryRowContext(ctx, `SELECT code, store_id, stock_id FROM stores WHERE code = ?`, code).
		Scan(&st.Code, &st.StoreID, &st.StockID)
	if err == sql.ErrNoRows {
		return Store{}, fmt.Errorf("store %q: %w", code, types.ErrNotFound)
	}
	if err != nil {
		return Store{}, fmt.Errorf("failed to load store %q: %w", code, err)
	}
	return st, nil
}

// ProductRefs returns id, sku and type for the given ids. Unknown ids are omitted.
func (s *SQLiteSource) ProductRefs(ctx context.Context, ids []int64) (map[int64]ProductRef, error) {
	refs := make(map[int64]ProductRef, len(ids))
	err := forEachChunk(ids, func(chunk []int64) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, sku, type_id FROM products WHERE id IN (`+placeholders(len(chunk))+`)`,
			int64Args(chunk)...)
		if err != nil {
			return fmt.Errorf("failed to load product refs: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var ref ProductRef
			if err := rows.Scan(&ref.ID, &ref.SKU, &ref.TypeID); err != nil {
				return err
			}
			refs[ref.ID] = ref
		}
		return rows.Err()
	})
	return refs, err
}

// ProductIDs pages through every product id after afterID, ordered ascending
func (s *SQLiteSource) ProductIDs(ctx context.Context, afterID int64, limit int) ([]ProductRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sku, type_id FROM products WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page product ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []ProductRef
	for rows.Next() {
		var ref ProductRef
		if err := rows.Scan(&ref.ID, &ref.SKU, &ref.TypeID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Products loads full products for a store, in ascending id order. Unknown ids are omitted.
func (s *SQLiteSource) Products(ctx context.Context, ids []int64, storeID int64) ([]*Product, error) {
	refs, err := s.ProductRefs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	known := make([]int64, 0, len(refs))
	for id := range refs {
		known = append(known, id)
	}
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })

	attrs, err := s.attributes(ctx, known, storeID)
	if err != nil {
		return nil, err
	}
	prices, err := s.prices(ctx, known, storeID)
	if err != nil {
		return nil, err
	}

	products := make([]*Product, 0, len(known))
	for _, id := range known {
		ref := refs[id]
		p := &Product{
			ID:         ref.ID,
			SKU:        ref.SKU,
			TypeID:     ref.TypeID,
			StoreID:    storeID,
			Attributes: attrs[id],
			Prices:     prices[id],
		}
		if p.Attributes == nil {
			p.Attributes = map[string]string{}
		}
		products = append(products, p)
	}
	return products, nil
}

// attributes loads every attribute value, overlaying store values on the default scope
func (s *SQLiteSource) attributes(ctx context.Context, ids []int64, storeID int64) (map[int64]map[string]string, error) {
	out := make(map[int64]map[string]string, len(ids))
	err := forEachChunk(ids, func(chunk []int64) error {
		args := append([]interface{}{storeID}, int64Args(chunk)...)
		rows, err := s.db.QueryContext(ctx, `
			SELECT product_id, code, value, store_id
			FROM product_attributes
			WHERE store_id IN (0, ?) AND product_id IN (`+placeholders(len(chunk))+`)
			ORDER BY product_id, store_id`, args...)
		if err != nil {
			return fmt.Errorf("failed to load product attributes: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				productID int64
				code      string
				value     sql.NullString
				scope     int64
			)
			if err := rows.Scan(&productID, &code, &value, &scope); err != nil {
				return err
			}
			m := out[productID]
			if m == nil {
				m = make(map[string]string)
				out[productID] = m
			}
			// default scope rows sort first; a NULL store value keeps the default
			if value.Valid {
				m[code] = value.String
			}
		}
		return rows.Err()
	})
	return out, err
}

// AttributeValues returns one attribute's effective value per product for a store
func (s *SQLiteSource) AttributeValues(ctx context.Context, ids []int64, storeID int64, code string) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	err := forEachChunk(ids, func(chunk []int64) error {
		args := append([]interface{}{code, storeID}, int64Args(chunk)...)
		rows, err := s.db.QueryContext(ctx, `
			SELECT product_id, value
			FROM product_attributes
			WHERE code = ? AND store_id IN (0, ?) AND product_id IN (`+placeholders(len(chunk))+`)
			ORDER BY product_id, store_id`, args...)
		if err != nil {
			return fmt.Errorf("failed to load attribute %s: %w", code, err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				productID int64
				value     sql.NullString
			)
			if err := rows.Scan(&productID, &value); err != nil {
				return err
			}
			if value.Valid {
				out[productID] = value.String
			}
		}
		return rows.Err()
	})
	return out, err
}

// prices loads indexed prices with the same store-over-default overlay
func (s *SQLiteSource) prices(ctx context.Context, ids []int64, storeID int64) (map[int64]Prices, error) {
	out := make(map[int64]Prices, len(ids))
	err := forEachChunk(ids, func(chunk []int64) error {
		args := append([]interface{}{storeID}, int64Args(chunk)...)
		rows, err := s.db.QueryContext(ctx, `
			SELECT product_id, IFNULL(final_price, 0), IFNULL(regular_price, 0), IFNULL(max_price, 0)
			FROM product_prices
			WHERE store_id IN (0, ?) AND product_id IN (`+placeholders(len(chunk))+`)
			ORDER BY product_id, store_id`, args...)
		if err != nil {
			return fmt.Errorf("failed to load product prices: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				productID int64
				p         Prices
			)
			if err := rows.Scan(&productID, &p.Final, &p.Regular, &p.Max); err != nil {
				return err
			}
			out[productID] = p
		}
		return rows.Err()
	})
	return out, err
}

// Relations returns parent links for the children, ordered by child, position, then parent.
// An empty relTypes slice matches every relation type.
func (s *SQLiteSource) Relations(ctx context.Context, childIDs []int64, relTypes ...string) ([]Relation, error) {
	var out []Relation
	err := forEachChunk(childIDs, func(chunk []int64) error {
		query := `SELECT parent_id, child_id, type FROM product_relations WHERE child_id IN (` + placeholders(len(chunk)) + `)`
		args := int64Args(chunk)
		if len(relTypes) > 0 {
			query += ` AND type IN (` + placeholders(len(relTypes)) + `)`
			for _, t := range relTypes {
				args = append(args, t)
			}
		}
		query += ` ORDER BY child_id, position, parent_id`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to load product relations: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var r Relation
			if err := rows.Scan(&r.ParentID, &r.ChildID, &r.Type); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// AttributeDefinitions loads definitions by code. Unknown codes are omitted.
func (s *SQLiteSource) AttributeDefinitions(ctx context.Context, codes []string) (map[string]AttributeDefinition, error) {
	out := make(map[string]AttributeDefinition, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, frontend_input, is_swatch, uses_product_options
		FROM attributes WHERE code IN (`+placeholders(len(codes))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			def                  AttributeDefinition
			isSwatch, perProduct int
		)
		if err := rows.Scan(&def.Code, &def.FrontendInput, &isSwatch, &perProduct); err != nil {
			return nil, err
		}
		def.IsSwatch = isSwatch != 0
		def.UsesProductOptions = perProduct != 0
		out[def.Code] = def
	}
	return out, rows.Err()
}

// AttributeOptions returns option id to label for a store, falling back to default-scope labels
func (s *SQLiteSource) AttributeOptions(ctx context.Context, code string, storeID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT option_id, label FROM attribute_options
		WHERE attribute_code = ? AND store_id IN (0, ?)
		ORDER BY store_id`, code, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load options for %s: %w", code, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		out[id] = label
	}
	return out, rows.Err()
}

// ProductOptions returns the per-product option values and labels for one attribute
func (s *SQLiteSource) ProductOptions(ctx context.Context, productID int64, code string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, label FROM product_options
		WHERE product_id = ? AND attribute_code = ?`, productID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load product options for %d/%s: %w", productID, code, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var value, label string
		if err := rows.Scan(&value, &label); err != nil {
			return nil, err
		}
		out[value] = label
	}
	return out, rows.Err()
}

// ConfigurableAttributes returns each parent's attribute codes in their defined order
func (s *SQLiteSource) ConfigurableAttributes(ctx context.Context, parentIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(parentIDs))
	err := forEachChunk(parentIDs, func(chunk []int64) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT parent_id, attribute_code FROM configurable_attributes
			WHERE parent_id IN (`+placeholders(len(chunk))+`)
			ORDER BY parent_id, position, attribute_code`, int64Args(chunk)...)
		if err != nil {
			return fmt.Errorf("failed to load configurable attributes: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				parentID int64
				code     string
			)
			if err := rows.Scan(&parentID, &code); err != nil {
				return err
			}
			out[parentID] = append(out[parentID], code)
		}
		return rows.Err()
	})
	return out, err
}

// StockItems loads legacy stock rows by product id
func (s *SQLiteSource) StockItems(ctx context.Context, ids []int64) (map[int64]StockItem, error) {
	out := make(map[int64]StockItem, len(ids))
	err := forEachChunk(ids, func(chunk []int64) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT product_id, qty, is_in_stock, manage_stock, min_qty
			FROM stock_items WHERE product_id IN (`+placeholders(len(chunk))+`)`, int64Args(chunk)...)
		if err != nil {
			return fmt.Errorf("failed to load stock items: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				item            StockItem
				inStock, manage int
			)
			if err := rows.Scan(&item.ProductID, &item.Qty, &inStock, &manage, &item.MinQty); err != nil {
				return err
			}
			item.IsInStock = inStock != 0
			item.ManageStock = manage != 0
			out[item.ProductID] = item
		}
		return rows.Err()
	})
	return out, err
}

// SourceItemSet is the result of a bulk source item read. Rows whose columns cannot
// be read as numbers are reported in Invalid instead of failing the whole batch.
type SourceItemSet struct {
	Items   map[string]SourceItem
	Invalid map[string]error
}

// SourceItems loads aggregated multi-source stock for the SKUs within one stock.
// SKUs without a row are absent from both maps.
func (s *SQLiteSource) SourceItems(ctx context.Context, skus []string, stockID int64) (SourceItemSet, error) {
	set := SourceItemSet{Items: make(map[string]SourceItem, len(skus)), Invalid: make(map[string]error)}
	err := forEachChunk(skus, func(chunk []string) error {
		args := append(stringArgs(chunk), stockID)
		rows, err := s.db.QueryContext(ctx, `
			SELECT sku, qty, is_salable, manage_stock, min_qty
			FROM source_items WHERE sku IN (`+placeholders(len(chunk))+`) AND stock_id = ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to load source items: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				sku                          string
				qty, salable, manage, minQty interface{}
			)
			if err := rows.Scan(&sku, &qty, &salable, &manage, &minQty); err != nil {
				return err
			}
			item, err := sourceItemFromRow(sku, stockID, qty, salable, manage, minQty)
			if err != nil {
				set.Invalid[sku] = err
				continue
			}
			set.Items[sku] = item
		}
		return rows.Err()
	})
	return set, err
}

func sourceItemFromRow(sku string, stockID int64, qty, salable, manage, minQty interface{}) (SourceItem, error) {
	item := SourceItem{SKU: sku, StockID: stockID}
	var err error
	if item.Qty, err = numeric(qty); err != nil {
		return SourceItem{}, fmt.Errorf("source item %s qty: %w", sku, err)
	}
	if item.MinQty, err = numeric(minQty); err != nil {
		return SourceItem{}, fmt.Errorf("source item %s min_qty: %w", sku, err)
	}
	m, err := numeric(manage)
	if err != nil {
		return SourceItem{}, fmt.Errorf("source item %s manage_stock: %w", sku, err)
	}
	item.ManageStock = m != 0
	if salable != nil {
		v, err := numeric(salable)
		if err != nil {
			return SourceItem{}, fmt.Errorf("source item %s is_salable: %w", sku, err)
		}
		b := v != 0
		item.IsSalable = &b
	}
	return item, nil
}

// numeric reads a loosely typed SQLite value as a float
func numeric(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, fmt.Errorf("%w: value is null", types.ErrValidation)
	}
	return 0, fmt.Errorf("%w: unsupported value %T", types.ErrValidation, v)
}

// ReservationQtys sums open reservations per SKU. Reservations are signed:
// orders reserve negative quantities, cancellations compensate with positive ones.
// SKUs without reservations are absent.
func (s *SQLiteSource) ReservationQtys(ctx context.Context, skus []string, stockID int64) (map[string]float64, error) {
	out := make(map[string]float64, len(skus))
	err := forEachChunk(skus, func(chunk []string) error {
		args := append(stringArgs(chunk), stockID)
		rows, err := s.db.QueryContext(ctx, `
			SELECT sku, IFNULL(SUM(quantity), 0)
			FROM reservations WHERE sku IN (`+placeholders(len(chunk))+`) AND stock_id = ?
			GROUP BY sku`, args...)
		if err != nil {
			return fmt.Errorf("failed to sum reservations: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				sku string
				qty float64
			)
			if err := rows.Scan(&sku, &qty); err != nil {
				return err
			}
			out[sku] = qty
		}
		return rows.Err()
	})
	return out, err
}

// ModulesEnabled reports whether every named module is present and enabled
func (s *SQLiteSource) ModulesEnabled(ctx context.Context, names ...string) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM modules WHERE enabled = 1 AND name IN (`+placeholders(len(names))+`)`, args...).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("failed to check modules: %w", err)
	}
	return enabled == len(names), nil
}

// forEachChunk calls fn with consecutive slices of at most chunkSize values
func forEachChunk[T any](ids []T, fn func(chunk []T) error) error {
	for i := 0; i < len(ids); i += chunkSize {
		end := min(i+chunkSize, len(ids))
		if err := fn(ids[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
