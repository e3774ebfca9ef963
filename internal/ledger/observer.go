package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/pkg/types"
)

// CatalogSource is the catalog access needed to expand products into ledger candidates
type CatalogSource interface {
	ProductRefs(ctx context.Context, ids []int64) (map[int64]catalog.ProductRef, error)
	Relations(ctx context.Context, childIDs []int64, relTypes ...string) ([]catalog.Relation, error)
	ProductIDs(ctx context.Context, afterID int64, limit int) ([]catalog.ProductRef, error)
}

// Catalog change events accepted by Handle
const (
	EventProductSaved   = "product_saved"
	EventProductDeleted = "product_deleted"
	EventStockChanged   = "stock_changed"
)

// Events lists every event Handle accepts
var Events = []string{EventProductSaved, EventProductDeleted, EventStockChanged}

// StoreChecker decides whether a store takes part in live sync
type StoreChecker func(store config.Store) error

// SyncEnabled accepts stores with sync switched on and complete credentials
func SyncEnabled(store config.Store) error {
	if !store.SyncEnabled {
		return fmt.Errorf("%w: live sync disabled for store %s", types.ErrConfiguration, store.Code)
	}
	return store.SyncCredentials()
}

// Observer turns catalog change events into ledger writes. It never exports
// anything itself, so it is cheap enough to call inline with the change.
type Observer struct {
	ledger  *Ledger
	catalog CatalogSource
	stores  []config.Store
	check   StoreChecker
	logger  *zap.Logger
}

// NewObserver creates an observer over stores. A nil check uses SyncEnabled.
func NewObserver(l *Ledger, source CatalogSource, stores []config.Store, check StoreChecker) *Observer {
	if check == nil {
		check = SyncEnabled
	}
	return &Observer{ledger: l, catalog: source, stores: stores, check: check, logger: l.logger}
}

// Handle routes a named catalog change event to its hook
func (o *Observer) Handle(ctx context.Context, event string, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return types.NewValidationError("at least one product id is required")
	}
	switch event {
	case EventProductSaved:
		return o.ProductSaved(ctx, productIDs...)
	case EventProductDeleted:
		return o.ProductDeleted(ctx, productIDs...)
	case EventStockChanged:
		return o.StockChanged(ctx, productIDs...)
	}
	return types.NewValidationError(fmt.Sprintf("unknown event %q", event))
}

// ProductSaved ensures ledger rows for the products and queues an upsert in every syncing store
func (o *Observer) ProductSaved(ctx context.Context, productIDs ...int64) error {
	candidates, err := Candidates(ctx, o.catalog, productIDs)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	o.eachStore(ctx, "product_saved", func(store config.Store) error {
		if _, err := o.ledger.EnsureEntityExists(ctx, candidates, types.EntityProduct, store.SiteID); err != nil {
			return err
		}
		_, err := o.ledger.Mark(ctx, candidates, types.EntityProduct, store.SiteID, types.ActionUpsert)
		return err
	})
	return nil
}

// ProductDeleted queues a delete for every existing row of the products
func (o *Observer) ProductDeleted(ctx context.Context, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	o.eachStore(ctx, "product_deleted", func(store config.Store) error {
		_, err := o.ledger.MarkTargets(ctx, productIDs, types.EntityProduct, store.SiteID, types.ActionDelete)
		return err
	})
	return nil
}

// StockChanged queues an upsert for the products and the parents they belong to
func (o *Observer) StockChanged(ctx context.Context, productIDs ...int64) error {
	candidates, err := Candidates(ctx, o.catalog, productIDs)
	if err != nil {
		return err
	}
	var ids []int64
	seen := make(map[int64]bool)
	for _, c := range candidates {
		for _, id := range []int64{c.TargetID, c.ParentID} {
			if id > 0 && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	o.eachStore(ctx, "stock_changed", func(store config.Store) error {
		_, err := o.ledger.MarkTargets(ctx, ids, types.EntityProduct, store.SiteID, types.ActionUpsert)
		return err
	})
	return nil
}

// eachStore runs fn for every store that passes the check. Failures in one store are
// logged and do not stop the others.
func (o *Observer) eachStore(ctx context.Context, event string, fn func(store config.Store) error) {
	for _, store := range o.stores {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("ledger hook interrupted", zap.String("event", event), zap.Error(err))
			return
		}
		logger := o.logger.With(zap.String("event", event), zap.String("store", store.Code), zap.String("site_id", store.SiteID))
		if err := o.check(store); err != nil {
			logger.Debug("store skipped", zap.Error(err))
			continue
		}
		if err := fn(store); err != nil {
			logger.Warn("ledger hook failed for store", zap.Error(err))
		}
	}
}

// Candidates expands products into ledger candidates: one per configurable or grouped
// parent, or a single parentless candidate. Unknown products are dropped.
func Candidates(ctx context.Context, source CatalogSource, productIDs []int64) ([]Candidate, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	refs, err := source.ProductRefs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	relations, err := source.Relations(ctx, productIDs, catalog.RelationSuperLink, catalog.RelationGrouped)
	if err != nil {
		return nil, fmt.Errorf("failed to load relations: %w", err)
	}
	parents := make(map[int64][]int64)
	for _, r := range relations {
		parents[r.ChildID] = append(parents[r.ChildID], r.ParentID)
	}

	var out []Candidate
	seen := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		ref, ok := refs[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if len(parents[id]) == 0 {
			out = append(out, Candidate{TargetID: id, Subtype: ref.TypeID})
			continue
		}
		for _, parentID := range parents[id] {
			out = append(out, Candidate{TargetID: id, ParentID: parentID, Subtype: ref.TypeID})
		}
	}
	return out, nil
}
