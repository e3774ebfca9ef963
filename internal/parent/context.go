// Package parent resolves child products to their configurable or grouped parents for one feed run.
package parent

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/catalogfeed/internal/catalog"
)

// Loader is the catalog access the context needs
type Loader interface {
	Relations(ctx context.Context, childIDs []int64, relTypes ...string) ([]catalog.Relation, error)
	Products(ctx context.Context, ids []int64, storeID int64) ([]*catalog.Product, error)
}

// Context memoizes parent relations and parent product data for one run in one store.
// It is not safe for concurrent use; create one per run or Reset between runs.
type Context struct {
	loader  Loader
	storeID int64

	parentsByChild map[int64][]int64
	resolved       map[int64]bool // children whose relations were queried
	parents        map[int64]*catalog.Product
	attempted      map[int64]bool // parent ids already sent to the loader
}

// New creates an empty context
func New(loader Loader, storeID int64) *Context {
	c := &Context{loader: loader, storeID: storeID}
	c.Reset()
	return c
}

// Reset drops every cached relation and parent
func (c *Context) Reset() {
	c.parentsByChild = make(map[int64][]int64)
	c.resolved = make(map[int64]bool)
	c.parents = make(map[int64]*catalog.Product)
	c.attempted = make(map[int64]bool)
}

// Build loads configurable and grouped parents for the children. Children and parents
// seen by an earlier call are not queried again.
func (c *Context) Build(ctx context.Context, childIDs []int64) error {
	var fresh []int64
	seen := make(map[int64]bool, len(childIDs))
	for _, id := range childIDs {
		if id <= 0 || seen[id] || c.resolved[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })

	relations, err := c.loader.Relations(ctx, fresh, catalog.RelationSuperLink, catalog.RelationGrouped)
	if err != nil {
		return fmt.Errorf("failed to load parent relations: %w", err)
	}

	// Nothing is cached until every load succeeded, so a failed call is retried in full
	var toLoad []int64
	queued := make(map[int64]bool)
	for _, r := range relations {
		if !c.attempted[r.ParentID] && !queued[r.ParentID] {
			queued[r.ParentID] = true
			toLoad = append(toLoad, r.ParentID)
		}
	}

	var products []*catalog.Product
	if len(toLoad) > 0 {
		products, err = c.loader.Products(ctx, toLoad, c.storeID)
		if err != nil {
			return fmt.Errorf("failed to load parent products: %w", err)
		}
	}

	for _, r := range relations {
		c.parentsByChild[r.ChildID] = append(c.parentsByChild[r.ChildID], r.ParentID)
	}
	for _, id := range fresh {
		c.resolved[id] = true
	}
	for _, id := range toLoad {
		c.attempted[id] = true
	}
	for _, p := range products {
		c.parents[p.ID] = p
	}
	return nil
}

// ParentOf returns the first registered parent of childID that has loaded data, or nil
func (c *Context) ParentOf(childID int64) *catalog.Product {
	for _, parentID := range c.parentsByChild[childID] {
		if p, ok := c.parents[parentID]; ok {
			return p
		}
	}
	return nil
}

// ParentIDs returns every registered parent id of childID in discovery order
func (c *Context) ParentIDs(childID int64) []int64 {
	return c.parentsByChild[childID]
}

// Parent returns a loaded parent by id
func (c *Context) Parent(id int64) *catalog.Product {
	return c.parents[id]
}
