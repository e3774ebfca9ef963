package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalogfeed/internal/attribute"
	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/catalog/catalogtest"
	"github.com/dshills/catalogfeed/internal/grouping"
	"github.com/dshills/catalogfeed/internal/sink"
	"github.com/dshills/catalogfeed/internal/stock"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/internal/upload"
	"github.com/dshills/catalogfeed/pkg/types"
)

// seedCatalog builds one configurable with three simple children, a standalone
// simple and a disabled simple
func seedCatalog(t *testing.T) *catalogtest.Fixture {
	fx := catalogtest.New(t)
	fx.Store("default", 1, 1).
		Attribute("color", catalog.InputSelect, true, false).
		Option("color", "10", 0, "Red").
		Option("color", "11", 0, "Blue").
		Enabled(1, "S1", types.TypeSimple).Attr(1, 0, "color", "10").
		Enabled(2, "S2", types.TypeSimple).Attr(2, 0, "color", "11").
		Enabled(3, "S3", types.TypeSimple).Attr(3, 0, "color", "10").
		Enabled(10, "C1", types.TypeConfigurable).
		Relation(10, 1, catalog.RelationSuperLink).
		Relation(10, 2, catalog.RelationSuperLink).
		Relation(10, 3, catalog.RelationSuperLink).
		ConfigurableAttribute(10, "color", 0).
		Enabled(20, "LONE", types.TypeSimple).
		Product(30, "OFF", types.TypeSimple, map[string]string{catalog.AttrStatus: "2"}).
		Price(10, 0, 50, 60, 70).
		Price(1, 0, 40, 45, 0).
		Price(20, 0, 15, 15, 15).
		StockItem(catalog.StockItem{ProductID: 1, Qty: 5, IsInStock: true, ManageStock: true})
	return fx
}

func testDependencies(fx *catalogtest.Fixture) Dependencies {
	return Dependencies{
		Catalog:    fx.Source,
		Stock:      stock.NewCompositeResolver(nil, stock.NewLegacyResolver(fx.Source, 10)),
		Attributes: attribute.NewResolver(fx.Source, nil, 0),
		Grouping:   grouping.NewResolver(grouping.Config{AttributesToConsider: []string{"color"}, OnlySwatchAttributes: true}, fx.Source),
	}
}

type uploadTarget struct {
	srv    *httptest.Server
	body   []byte
	status int
}

func newUploadTarget(t *testing.T) *uploadTarget {
	u := &uploadTarget{status: http.StatusOK}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(u.status)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *uploadTarget) rows(t *testing.T) []map[string]interface{} {
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(u.body))
	for sc.Scan() {
		var row map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		out = append(out, row)
	}
	return out
}

func newTestGenerator(t *testing.T, fx *catalogtest.Fixture, tasks *storage.SQLiteStorage, tmpDir string, batchSize int) *Generator {
	formatters, writers := sink.DefaultRegistries()
	factory := func() Sink {
		return sink.New(formatters, writers, nil, upload.NewClient(0, nil), tasks, sink.Options{TmpDir: tmpDir}, nil)
	}
	return NewGenerator(testDependencies(fx), factory, batchSize)
}

func newTaskStore(t *testing.T) *storage.SQLiteStorage {
	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGenerator_Execute(t *testing.T) {
	ctx := context.Background()
	fx := seedCatalog(t)
	tasks := newTaskStore(t)
	target := newUploadTarget(t)
	tmp := t.TempDir()

	task := &storage.Task{Payload: []byte(`{}`)}
	require.NoError(t, tasks.CreateTask(ctx, task))

	spec, err := NewSpecification(Payload{
		Format:       sink.FormatJSON,
		Fields:       []string{FieldID, FieldSKU, "color", "final_price", FieldQty, FieldInStock, FieldIsGroupable, FieldParentID},
		ChildFields:  []string{"color"},
		StoreCode:    "default",
		PresignedURL: target.srv.URL + "/feeds/default.json?sig=abc",
	})
	require.NoError(t, err)

	res, err := newTestGenerator(t, fx, tasks, tmp, 2).Execute(ctx, spec, task.ID)
	require.NoError(t, err)

	rows := target.rows(t)
	require.Len(t, rows, 4)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, int64(len(target.body)), res.Bytes)

	assert.Equal(t, map[string]interface{}{
		"id": 1.0, "sku": "S1", "color": "Red", "final_price": 50.0,
		"qty": 5.0, "in_stock": true, "is_groupable": true, "parent_id": 10.0,
	}, rows[0])
	assert.Equal(t, map[string]interface{}{
		"id": 2.0, "sku": "S2", "color": "Blue", "final_price": 50.0,
		"is_groupable": true, "parent_id": 10.0,
	}, rows[1])
	assert.Equal(t, "Red", rows[2]["color"])
	assert.Equal(t, false, rows[2]["is_groupable"])
	assert.Equal(t, map[string]interface{}{
		"id": 20.0, "sku": "LONE", "color": nil, "final_price": 15.0,
		"is_groupable": false, "parent_id": nil,
	}, rows[3])

	stored, err := tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FileSize)
	assert.Equal(t, res.Bytes, *stored.FileSize)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerator_ParentFieldsAndChildPrices(t *testing.T) {
	ctx := context.Background()
	fx := seedCatalog(t)
	tasks := newTaskStore(t)
	target := newUploadTarget(t)

	task := &storage.Task{}
	require.NoError(t, tasks.CreateTask(ctx, task))

	spec, err := NewSpecification(Payload{
		Format:             sink.FormatJSON,
		Fields:             []string{FieldID, catalog.AttrName, "final_price"},
		StoreCode:          "default",
		PresignedURL:       target.srv.URL + "/f.json",
		ExcludedProductIDs: []int64{2, 3, 20},
		IncludeChildPrices: true,
	})
	require.NoError(t, err)

	_, err = newTestGenerator(t, fx, tasks, t.TempDir(), 0).Execute(ctx, spec, task.ID)
	require.NoError(t, err)

	rows := target.rows(t)
	require.Len(t, rows, 1)
	// name comes from the parent, child prices from the child itself
	assert.Equal(t, map[string]interface{}{
		"id": 1.0, "name": "C1", "final_price": 50.0,
		"child_final_price": 40.0, "child_regular_price": 45.0,
	}, rows[0])
}

func TestGenerator_UploadFailure(t *testing.T) {
	ctx := context.Background()
	fx := seedCatalog(t)
	tasks := newTaskStore(t)
	target := newUploadTarget(t)
	target.status = http.StatusForbidden
	tmp := t.TempDir()

	task := &storage.Task{}
	require.NoError(t, tasks.CreateTask(ctx, task))

	spec, err := NewSpecification(Payload{Format: sink.FormatJSONGz, StoreCode: "default", PresignedURL: target.srv.URL + "/f.json.gz"})
	require.NoError(t, err)

	_, err = newTestGenerator(t, fx, tasks, tmp, 0).Execute(ctx, spec, task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstream)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerator_UnsupportedFormatAndUnknownStore(t *testing.T) {
	ctx := context.Background()
	fx := seedCatalog(t)
	tasks := newTaskStore(t)
	gen := newTestGenerator(t, fx, tasks, t.TempDir(), 0)

	spec, err := NewSpecification(Payload{Format: "xml", StoreCode: "default", PresignedURL: "https://h/f.xml"})
	require.NoError(t, err)
	_, err = gen.Execute(ctx, spec, 1)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	spec, err = NewSpecification(Payload{Format: "json", StoreCode: "missing", PresignedURL: "https://h/f.json"})
	require.NoError(t, err)
	_, err = gen.Execute(ctx, spec, 1)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRowBuilder_RequiresBoundSpec(t *testing.T) {
	fx := seedCatalog(t)
	spec, err := NewSpecification(Payload{Format: "json", StoreCode: "default", PresignedURL: "https://h/f.json"})
	require.NoError(t, err)

	_, err = testDependencies(fx).NewRowBuilder(context.Background(), spec)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestDependencies_ProductRows(t *testing.T) {
	fx := seedCatalog(t)
	rows, err := testDependencies(fx).ProductRows(context.Background(), Payload{
		StoreCode: "default",
		Fields:    []string{FieldID, FieldSKU, FieldParentID},
	}, []int64{1, 30, 404})
	require.NoError(t, err)

	// 30 is disabled and 404 does not exist
	require.Len(t, rows, 1)
	assert.Equal(t, sink.Row{FieldID: int64(1), FieldSKU: "S1", FieldParentID: int64(10)}, rows[1])
}
