package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/catalog/catalogtest"
	"github.com/dshills/catalogfeed/pkg/types"
)

func collect(t *testing.T, c *catalog.Collection) ([][]int64, error) {
	t.Helper()
	var batches [][]int64
	for batch, err := range c.Batches(context.Background()) {
		if err != nil {
			return batches, err
		}
		ids := make([]int64, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		batches = append(batches, ids)
	}
	return batches, nil
}

func TestCollection_Paging(t *testing.T) {
	f := catalogtest.New(t)
	for id := int64(1); id <= 5; id++ {
		f.Enabled(id, "SKU-"+string(rune('A'+id)), types.TypeSimple)
	}

	batches, err := collect(t, catalog.NewCollection(f.Source, catalog.Query{BatchSize: 2}))
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, batches)
}

func TestCollection_Filters(t *testing.T) {
	f := catalogtest.New(t)
	f.Enabled(1, "A", types.TypeSimple).
		Enabled(2, "B", types.TypeConfigurable).
		Enabled(3, "C", types.TypeSimple).
		Enabled(4, "D", types.TypeSimple).
		Attr(4, 1, catalog.AttrStatus, "2"). // disabled in store 1 only
		Product(5, "E", types.TypeSimple, map[string]string{catalog.AttrStatus: "2"})

	coll := catalog.NewCollection(f.Source, catalog.Query{StoreID: 1, OnlyEnabled: true})
	coll.Query().ExcludeTypes = []string{types.TypeConfigurable}
	coll.Query().ExcludeIDs = []int64{3}

	batches, err := collect(t, coll)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1}}, batches)

	// Store 2 still sees product 4 enabled through the default scope
	coll = catalog.NewCollection(f.Source, catalog.Query{StoreID: 2, OnlyEnabled: true, IncludeIDs: []int64{4, 5}})
	batches, err = collect(t, coll)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{4}}, batches)
}

func TestCollection_AfterFetchHooks(t *testing.T) {
	f := catalogtest.New(t)
	f.Enabled(1, "A", types.TypeSimple).Enabled(2, "B", types.TypeSimple)

	coll := catalog.NewCollection(f.Source, catalog.Query{BatchSize: 1})
	coll.AddAfterFetch(func(ctx context.Context, batch []*catalog.Product) ([]*catalog.Product, error) {
		var out []*catalog.Product
		for _, p := range batch {
			if p.ID != 1 {
				out = append(out, p)
			}
		}
		return out, nil
	})

	batches, err := collect(t, coll)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{2}}, batches)

	boom := errors.New("boom")
	coll.AddAfterFetch(func(ctx context.Context, batch []*catalog.Product) ([]*catalog.Product, error) {
		return nil, boom
	})
	_, err = collect(t, coll)
	assert.ErrorIs(t, err, boom)
}
