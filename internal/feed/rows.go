package feed

import (
	"context"
	"fmt"

	"github.com/dshills/catalogfeed/internal/sink"
	"github.com/dshills/catalogfeed/pkg/types"
)

// ProductRows builds rows for specific products outside a feed run, keyed by product id.
// Products that are missing or disabled in the store are absent from the result.
func (d Dependencies) ProductRows(ctx context.Context, payload Payload, ids []int64) (map[int64]sink.Row, error) {
	spec, err := NewRowSpecification(payload)
	if err != nil {
		return nil, err
	}
	store, err := d.Catalog.StoreByCode(ctx, spec.StoreCode())
	if err != nil {
		return nil, fmt.Errorf("resolve store %q: %w", spec.StoreCode(), err)
	}
	bound := spec.WithStore(store)

	products, err := d.Catalog.Products(ctx, ids, store.StoreID)
	if err != nil {
		return nil, err
	}
	batch := products[:0]
	for _, p := range products {
		if p.Status() == types.StatusEnabled {
			batch = append(batch, p)
		}
	}

	builder, err := d.NewRowBuilder(ctx, bound)
	if err != nil {
		return nil, err
	}
	rows, err := builder.Build(ctx, batch)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]sink.Row, len(rows))
	for i, p := range batch {
		out[p.ID] = rows[i]
	}
	return out, nil
}
