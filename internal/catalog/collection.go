package catalog

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// DefaultBatchSize is used when a Query leaves BatchSize unset
const DefaultBatchSize = 500

// Query narrows a product collection. Modifiers edit it before the first batch is read.
type Query struct {
	StoreID      int64
	IncludeIDs   []int64
	ExcludeIDs   []int64
	ExcludeTypes []string
	OnlyEnabled  bool
	BatchSize    int
}

// AfterFetchHook transforms each loaded batch before it is yielded
type AfterFetchHook func(ctx context.Context, batch []*Product) ([]*Product, error)

// Collection streams products matching a Query in ascending id order
type Collection struct {
	source *SQLiteSource
	query  Query
	hooks  []AfterFetchHook
}

// NewCollection creates a collection over source
func NewCollection(source *SQLiteSource, query Query) *Collection {
	return &Collection{source: source, query: query}
}

// Query returns the mutable query
func (c *Collection) Query() *Query {
	return &c.query
}

// AddAfterFetch registers a hook run on every batch, in registration order
func (c *Collection) AddAfterFetch(hook AfterFetchHook) {
	c.hooks = append(c.hooks, hook)
}

// Batches pages through the collection with keyset pagination on product id.
// Only one batch is held in memory at a time. Batches emptied by hooks are skipped.
func (c *Collection) Batches(ctx context.Context) iter.Seq2[[]*Product, error] {
	return func(yield func([]*Product, error) bool) {
		limit := c.query.BatchSize
		if limit <= 0 {
			limit = DefaultBatchSize
		}

		var afterID int64
		for {
			ids, err := c.pageIDs(ctx, afterID, limit)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(ids) == 0 {
				return
			}
			afterID = ids[len(ids)-1]

			batch, err := c.source.Products(ctx, ids, c.query.StoreID)
			if err == nil {
				for _, hook := range c.hooks {
					if batch, err = hook(ctx, batch); err != nil {
						break
					}
				}
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) > 0 && !yield(batch, nil) {
				return
			}
			if len(ids) < limit {
				return
			}
		}
	}
}

// pageIDs selects the next page of matching ids
func (c *Collection) pageIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	clauses := []string{"p.id > ?"}
	args := []interface{}{afterID}

	if len(c.query.IncludeIDs) > 0 {
		clauses = append(clauses, "p.id IN ("+placeholders(len(c.query.IncludeIDs))+")")
		args = append(args, int64Args(c.query.IncludeIDs)...)
	}
	if len(c.query.ExcludeIDs) > 0 {
		clauses = append(clauses, "p.id NOT IN ("+placeholders(len(c.query.ExcludeIDs))+")")
		args = append(args, int64Args(c.query.ExcludeIDs)...)
	}
	if len(c.query.ExcludeTypes) > 0 {
		clauses = append(clauses, "p.type_id NOT IN ("+placeholders(len(c.query.ExcludeTypes))+")")
		for _, t := range c.query.ExcludeTypes {
			args = append(args, t)
		}
	}
	if c.query.OnlyEnabled {
		// store value wins over the default scope
		clauses = append(clauses, `COALESCE(
			(SELECT a.value FROM product_attributes a WHERE a.product_id = p.id AND a.code = ? AND a.store_id = ?),
			(SELECT a.value FROM product_attributes a WHERE a.product_id = p.id AND a.code = ? AND a.store_id = 0)
		) = '1'`)
		args = append(args, AttrStatus, c.query.StoreID, AttrStatus)
	}

	query := `SELECT p.id FROM products p WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY p.id LIMIT ?`
	args = append(args, limit)

	rows, err := c.source.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to page products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
