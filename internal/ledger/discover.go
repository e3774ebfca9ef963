package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/pkg/types"
)

// DefaultDiscoverBatch is the page size used when Discover is given none
const DefaultDiscoverBatch = 500

// DiscoverResult counts what one discovery pass did for a store
type DiscoverResult struct {
	Store    string
	SiteID   string
	Scanned  int
	Inserted int
	Failed   int // candidates in pages whose insert failed
}

// Discover walks the whole catalog and ensures a ledger row for every product in store.
// A failed page insert is logged and counted; the walk carries on with the next page.
func (o *Observer) Discover(ctx context.Context, store config.Store, batchSize int) (DiscoverResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultDiscoverBatch
	}
	res := DiscoverResult{Store: store.Code, SiteID: store.SiteID}
	logger := o.logger.With(zap.String("store", store.Code), zap.String("site_id", store.SiteID))

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := o.catalog.ProductIDs(ctx, afterID, batchSize)
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			break
		}
		ids := make([]int64, len(page))
		for i, ref := range page {
			ids[i] = ref.ID
		}
		afterID = ids[len(ids)-1]
		res.Scanned += len(ids)

		candidates, err := Candidates(ctx, o.catalog, ids)
		if err != nil {
			return res, err
		}
		n, err := o.ledger.EnsureEntityExists(ctx, candidates, types.EntityProduct, store.SiteID)
		if err != nil {
			res.Failed += len(candidates)
		}
		res.Inserted += n

		if len(page) < batchSize {
			break
		}
	}

	logger.Info("ledger discovery completed",
		zap.Int("scanned", res.Scanned),
		zap.Int("inserted", res.Inserted),
		zap.Int("failed", res.Failed))
	return res, nil
}
