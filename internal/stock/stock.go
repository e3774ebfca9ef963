// Package stock picks a stock backend and computes per-product stock for the feed.
package stock

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/pkg/types"
)

// Inventory modules that must all be enabled for multi-source stock
const (
	ModuleInventory         = "inventory"
	ModuleInventoryAPI      = "inventory_api"
	ModuleInventorySalesAPI = "inventory_sales_api"
)

// Stock is the feed view of one product's stock
type Stock struct {
	Qty            float64 `json:"qty"`
	InStock        bool    `json:"in_stock"`
	IsStockManaged bool    `json:"is_stock_managed"`
}

// Provider computes stock for a batch of products. Products it cannot resolve are omitted.
type Provider interface {
	GetStock(ctx context.Context, productIDs []int64) (map[int64]Stock, error)
}

// Resolver returns a provider for a store, or an error wrapping types.ErrNotFound when it has none
type Resolver interface {
	SortOrder() int
	Resolve(ctx context.Context, store catalog.Store, useMSI bool) (Provider, error)
}

// CompositeResolver tries resolvers in ascending sort order; the first one that
// does not report ErrNotFound wins
type CompositeResolver struct {
	resolvers []Resolver
	logger    *zap.Logger
}

// NewCompositeResolver sorts resolvers by SortOrder, keeping registration order for ties
func NewCompositeResolver(logger *zap.Logger, resolvers ...Resolver) *CompositeResolver {
	sorted := append([]Resolver(nil), resolvers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder() < sorted[j].SortOrder() })
	return &CompositeResolver{resolvers: sorted, logger: logging.OrNop(logger)}
}

func (c *CompositeResolver) SortOrder() int { return 0 }

func (c *CompositeResolver) Resolve(ctx context.Context, store catalog.Store, useMSI bool) (Provider, error) {
	for _, r := range c.resolvers {
		provider, err := r.Resolve(ctx, store, useMSI)
		if err == nil {
			return provider, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
		c.logger.Warn("stock resolver has no provider",
			zap.String("store", store.Code),
			zap.Int("sort_order", r.SortOrder()),
			zap.Error(err))
	}
	return nil, fmt.Errorf("no stock provider for store %s: %w", store.Code, types.ErrNotFound)
}

// ModuleChecker reports whether modules are enabled
type ModuleChecker interface {
	ModulesEnabled(ctx context.Context, names ...string) (bool, error)
}

// MSIResolver returns the multi-source provider when all inventory modules are enabled
// and the caller asked for it, otherwise the legacy provider
type MSIResolver struct {
	modules   ModuleChecker
	source    MSISource
	legacy    LegacySource
	sortOrder int
	logger    *zap.Logger
}

// NewMSIResolver creates the resolver
func NewMSIResolver(modules ModuleChecker, msi MSISource, legacy LegacySource, sortOrder int, logger *zap.Logger) *MSIResolver {
	return &MSIResolver{modules: modules, source: msi, legacy: legacy, sortOrder: sortOrder, logger: logging.OrNop(logger)}
}

func (r *MSIResolver) SortOrder() int { return r.sortOrder }

func (r *MSIResolver) Resolve(ctx context.Context, store catalog.Store, useMSI bool) (Provider, error) {
	enabled, err := r.modules.ModulesEnabled(ctx, ModuleInventory, ModuleInventoryAPI, ModuleInventorySalesAPI)
	if err != nil {
		return nil, err
	}
	if enabled && useMSI {
		return NewMSIProvider(r.source, store.StockID, r.logger), nil
	}
	return NewLegacyProvider(r.legacy), nil
}

// LegacyResolver always returns the legacy provider
type LegacyResolver struct {
	source    LegacySource
	sortOrder int
}

// NewLegacyResolver creates the resolver
func NewLegacyResolver(source LegacySource, sortOrder int) *LegacyResolver {
	return &LegacyResolver{source: source, sortOrder: sortOrder}
}

func (r *LegacyResolver) SortOrder() int { return r.sortOrder }

func (r *LegacyResolver) Resolve(context.Context, catalog.Store, bool) (Provider, error) {
	return NewLegacyProvider(r.source), nil
}
