package parent

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

type countingLoader struct {
	Loader
	relationCalls int
	productCalls  int
	loadedIDs     []int64
	failProducts  int // number of Products calls to fail
}

func (c *countingLoader) Relations(ctx context.Context, childIDs []int64, relTypes ...string) ([]catalog.Relation, error) {
	c.relationCalls++
	return c.Loader.Relations(ctx, childIDs, relTypes...)
}

func (c *countingLoader) Products(ctx context.Context, ids []int64, storeID int64) ([]*catalog.Product, error) {
	c.productCalls++
	if c.failProducts > 0 {
		c.failProducts--
		return nil, errors.New("catalog unavailable")
	}
	c.loadedIDs = append(c.loadedIDs, ids...)
	return c.Loader.Products(ctx, ids, storeID)
}

func seed(t *testing.T) *catalogtest.Fixture {
	f := catalogtest.New(t)
	f.Enabled(10, "CONF", types.TypeConfigurable).
		Enabled(20, "GRP", types.TypeGrouped).
		Enabled(1, "A", types.TypeSimple).
		Enabled(2, "B", types.TypeSimple).
		Enabled(3, "C", types.TypeSimple).
		Relation(10, 1, catalog.RelationSuperLink).
		Relation(10, 2, catalog.RelationSuperLink).
		Relation(20, 2, catalog.RelationGrouped).
		Relation(20, 3, catalog.RelationGrouped).
		Relation(30, 3, catalog.RelationSuperLink) // parent 30 does not exist
	return f
}

func TestBuild_MemoizesLoads(t *testing.T) {
	loader := &countingLoader{Loader: seed(t).Source}
	pc := New(loader, 0)
	ctx := context.Background()

	require.NoError(t, pc.Build(ctx, []int64{1, 2, 2, 1}))
	assert.Equal(t, 1, loader.productCalls)
	assert.ElementsMatch(t, []int64{10, 20}, loader.loadedIDs)

	// Same children again: no new queries at all
	require.NoError(t, pc.Build(ctx, []int64{2, 1}))
	assert.Equal(t, 1, loader.productCalls)
	assert.Equal(t, 1, loader.relationCalls)

	// Child 3 only adds parent 30; parent 20 is not reloaded
	require.NoError(t, pc.Build(ctx, []int64{1, 3}))
	assert.Equal(t, 2, loader.productCalls)
	assert.ElementsMatch(t, []int64{10, 20, 30}, loader.loadedIDs)
}

func TestBuild_RetriesAfterFailedLoad(t *testing.T) {
	loader := &countingLoader{Loader: seed(t).Source, failProducts: 1}
	pc := New(loader, 0)
	ctx := context.Background()

	require.Error(t, pc.Build(ctx, []int64{1, 2}))
	assert.Nil(t, pc.ParentOf(1))
	assert.Empty(t, pc.ParentIDs(1))

	require.NoError(t, pc.Build(ctx, []int64{1, 2}))
	assert.Equal(t, 2, loader.relationCalls)
	assert.Equal(t, 2, loader.productCalls)
	assert.ElementsMatch(t, []int64{10, 20}, loader.loadedIDs)
	assert.Equal(t, int64(10), pc.ParentOf(1).ID)
	assert.Equal(t, []int64{10, 20}, pc.ParentIDs(2))
}

func TestParentOf_FirstDiscoveredWins(t *testing.T) {
	pc := New(seed(t).Source, 0)
	require.NoError(t, pc.Build(context.Background(), []int64{1, 2, 3, 4}))

	assert.Equal(t, int64(10), pc.ParentOf(1).ID)
	assert.Equal(t, []int64{10, 20}, pc.ParentIDs(2))
	assert.Equal(t, int64(10), pc.ParentOf(2).ID)

	// 3 maps to 20 then 30; 30 never loads so 20 is used
	assert.Equal(t, int64(20), pc.ParentOf(3).ID)
	assert.Nil(t, pc.ParentOf(4))
	assert.Nil(t, pc.Parent(30))
}

func TestReset(t *testing.T) {
	loader := &countingLoader{Loader: seed(t).Source}
	pc := New(loader, 0)
	ctx := context.Background()

	require.NoError(t, pc.Build(ctx, []int64{1}))
	pc.Reset()
	assert.Nil(t, pc.ParentOf(1))

	require.NoError(t, pc.Build(ctx, []int64{1}))
	assert.Equal(t, 2, loader.productCalls)
	assert.NotNil(t, pc.ParentOf(1))
}
