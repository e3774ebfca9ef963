package modifier

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

type testSpec struct {
	storeID  int64
	excluded []int64
}

func (s testSpec) StoreID() int64              { return s.storeID }
func (s testSpec) ExcludedProductIDs() []int64 { return s.excluded }

func run(t *testing.T, f *catalogtest.Fixture, p *Pipeline, spec Spec) []*catalog.Product {
	t.Helper()
	coll := catalog.NewCollection(f.Source, catalog.Query{StoreID: spec.StoreID(), BatchSize: 2})
	require.NoError(t, p.Apply(context.Background(), coll, spec))

	var out []*catalog.Product
	for batch, err := range coll.Batches(context.Background()) {
		require.NoError(t, err)
		out = append(out, batch...)
	}
	return out
}

func ids(products []*catalog.Product) []int64 {
	out := make([]int64, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

// seedFamilies builds a configurable (10) with children 11, 12, a grouped (20) with child 21, and a lone simple 30
func seedFamilies(f *catalogtest.Fixture) {
	f.Enabled(10, "CONF", types.TypeConfigurable).
		Enabled(11, "CONF-S", types.TypeSimple).
		Enabled(12, "CONF-M", types.TypeSimple).
		Enabled(20, "GRP", types.TypeGrouped).
		Enabled(21, "GRP-A", types.TypeSimple).
		Enabled(30, "LONE", types.TypeVirtual).
		Relation(10, 11, catalog.RelationSuperLink).
		Relation(10, 12, catalog.RelationSuperLink).
		Relation(20, 21, catalog.RelationGrouped)
}

func TestProductTypeID_DropsCompositeKeepsChildren(t *testing.T) {
	f := catalogtest.New(t)
	seedFamilies(f)

	got := run(t, f, NewPipeline(ProductTypeID{}), testSpec{})
	assert.Equal(t, []int64{11, 12, 21, 30}, ids(got))
	for _, p := range got {
		assert.NotEqual(t, types.TypeConfigurable, p.TypeID)
		assert.NotEqual(t, types.TypeGrouped, p.TypeID)
	}
}

func TestProductTypeID_AfterFetchFilter(t *testing.T) {
	batch := []*catalog.Product{
		{ID: 1, TypeID: types.TypeConfigurable},
		{ID: 2, TypeID: types.TypeSimple},
		{ID: 3, TypeID: types.TypeGrouped},
	}
	out, err := ProductTypeID{}.ProcessAfterFetchItems(context.Background(), batch, testSpec{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(out))
}

func TestStatus(t *testing.T) {
	f := catalogtest.New(t)
	f.Enabled(1, "A", types.TypeSimple).
		Product(2, "B", types.TypeSimple, map[string]string{catalog.AttrStatus: "2"})

	got := run(t, f, NewPipeline(Status{}), testSpec{storeID: 1})
	assert.Equal(t, []int64{1}, ids(got))
}

func TestExcludeProductIDs(t *testing.T) {
	f := catalogtest.New(t)
	f.Enabled(1, "A", types.TypeSimple).Enabled(2, "B", types.TypeSimple).Enabled(3, "C", types.TypeSimple)

	spec := testSpec{excluded: []int64{2}}
	got := run(t, f, NewPipeline(ExcludeProductIDs{}), spec)
	assert.Equal(t, []int64{1, 3}, ids(got))
	assert.Equal(t, []int64{2}, spec.excluded)
}

func TestExcludeByVisibility(t *testing.T) {
	f := catalogtest.New(t)
	seedFamilies(f)
	// Parent 10 is not visible individually by default, but visible in store 2
	f.Attr(10, 0, catalog.AttrVisibility, "1").
		Attr(10, 2, catalog.AttrVisibility, "4")

	p := NewPipeline(NewExcludeByVisibility(f.Source))

	got := run(t, f, p, testSpec{storeID: 1})
	assert.Equal(t, []int64{10, 20, 21, 30}, ids(got))

	got = run(t, f, p, testSpec{storeID: 2})
	assert.Equal(t, []int64{10, 11, 12, 20, 21, 30}, ids(got))
}

func TestExcludeByVisibility_AnyVisibleParentKeepsChild(t *testing.T) {
	f := catalogtest.New(t)
	seedFamilies(f)
	f.Enabled(40, "CONF2", types.TypeConfigurable).
		Relation(40, 11, catalog.RelationSuperLink).
		Attr(10, 0, catalog.AttrVisibility, "1")

	got := run(t, f, NewPipeline(NewExcludeByVisibility(f.Source)), testSpec{storeID: 1})
	assert.Contains(t, ids(got), int64(11))
	assert.NotContains(t, ids(got), int64(12))
}

func TestDefaultPipeline(t *testing.T) {
	f := catalogtest.New(t)
	seedFamilies(f)
	f.Attr(21, 0, catalog.AttrStatus, "2")

	p := DefaultPipeline(f.Source)
	assert.Equal(t, []string{"status", "product_type_id", "exclude_product_ids", "exclude_by_visibility"}, p.Names())

	got := run(t, f, p, testSpec{storeID: 1, excluded: []int64{30}})
	assert.Equal(t, []int64{11, 12}, ids(got))
}

type failingModifier struct{ Nop }

func (failingModifier) Name() string { return "failing" }

func (failingModifier) ProcessAfterLoad(context.Context, *catalog.Collection, Spec) error {
	return errors.New("bad query")
}

func TestPipeline_PropagatesErrors(t *testing.T) {
	f := catalogtest.New(t)
	coll := catalog.NewCollection(f.Source, catalog.Query{})
	err := NewPipeline(failingModifier{}).Apply(context.Background(), coll, testSpec{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modifier failing")
}
