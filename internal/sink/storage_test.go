package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalogfeed/internal/upload"
	"github.com/dshills/catalogfeed/pkg/types"
)

type testSpec struct {
	format string
	url    string
}

func (s testSpec) Format() string       { return s.format }
func (s testSpec) PresignedURL() string { return s.url }

type recordedSize struct {
	calls []int64
	err   error
}

func (r *recordedSize) UpdateTaskFileSize(_ context.Context, _ int64, size int64) error {
	r.calls = append(r.calls, size)
	return r.err
}

type fixedNames struct{ name string }

func (f fixedNames) Generate(prefix, ext string) string { return prefix + "-" + f.name + ext }

func newTestSink(t *testing.T, srvURL string, opts Options) (*Storage, *recordedSize) {
	t.Helper()
	if opts.TmpDir == "" {
		opts.TmpDir = t.TempDir()
	}
	formatters, writers := DefaultRegistries()
	rec := &recordedSize{}
	return New(formatters, writers, fixedNames{name: "test"}, upload.NewClient(0, nil), rec, opts, nil), rec
}

func dirEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestInitiate_RejectsUnknownFormat(t *testing.T) {
	s, _ := newTestSink(t, "", Options{})

	err := s.Initiate(context.Background(), testSpec{format: ""})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	err = s.Initiate(context.Background(), testSpec{format: "xml"})
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.ErrorContains(t, err, "supported: gz, json, json.gz")
}

func TestInitiate_FormatOnlyInOneRegistry(t *testing.T) {
	formatters := NewFormatterRegistry()
	formatters.Register("csv", JSONLinesFormatter{})
	s := New(formatters, NewWriterRegistry(), nil, nil, nil, Options{TmpDir: t.TempDir()}, nil)

	err := s.Initiate(context.Background(), testSpec{format: "csv"})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestCommit_PlainJSON(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, rec := newTestSink(t, srv.URL, Options{TmpDir: dir})
	ctx := context.Background()

	require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSON, url: srv.URL + "/feed.json?X-Sig=1"}))
	require.NoError(t, s.AddData(ctx, []Row{{"sku": "A"}}, 7))
	require.NoError(t, s.AddData(ctx, []Row{{"sku": "B"}, {"sku": "C"}}, 7))
	assert.Equal(t, 3, s.Rows())

	size, err := s.Commit(ctx, 7, true)
	require.NoError(t, err)

	want := "{\"sku\":\"A\"}\n{\"sku\":\"B\"}\n{\"sku\":\"C\"}\n"
	assert.Equal(t, want, string(body))
	assert.Equal(t, int64(len(want)), size)
	assert.Equal(t, []int64{size}, rec.calls)
	assert.Empty(t, dirEntries(t, dir))
}

func TestCommit_GzipURLCompresses(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	s, rec := newTestSink(t, srv.URL, Options{})
	ctx := context.Background()

	require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSONGz, url: srv.URL + "/bucket/feed.json.gz?sig=x"}))
	require.NoError(t, s.AddData(ctx, []Row{{"id": 1}}, 1))
	size, err := s.Commit(ctx, 1, true)
	require.NoError(t, err)

	assert.Equal(t, int64(len(body)), size)
	assert.Equal(t, []int64{size}, rec.calls)

	zr, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1}\n", string(plain))
}

func TestCommit_UploadFailureStillCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s, rec := newTestSink(t, srv.URL, Options{TmpDir: dir})
	ctx := context.Background()

	require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSONGz, url: srv.URL + "/feed.json.gz"}))
	require.NoError(t, s.AddData(ctx, []Row{{"id": 1}}, 3))
	_, err := s.Commit(ctx, 3, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstream)

	assert.Len(t, rec.calls, 1)
	assert.Empty(t, dirEntries(t, dir))
}

func TestCommit_RecordFailureSkipsUpload(t *testing.T) {
	uploaded := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded = true
	}))
	defer srv.Close()

	s, rec := newTestSink(t, srv.URL, Options{})
	rec.err = errors.New("db down")
	ctx := context.Background()

	require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSON, url: srv.URL + "/f.json"}))
	_, err := s.Commit(ctx, 1, true)
	require.Error(t, err)
	assert.False(t, uploaded)
}

func TestCommit_RetainsFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	ctx := context.Background()

	t.Run("debug retention", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := newTestSink(t, srv.URL, Options{TmpDir: dir, Debug: true, RetainFiles: true})
		require.NoError(t, s.Initiate(ctx, testSpec{format: FormatGzip, url: srv.URL + "/f.gz"}))
		_, err := s.Commit(ctx, 1, true)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"feed-test.json", "feed-test.json.gz"}, dirEntries(t, dir))
	})

	t.Run("retain without debug deletes", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := newTestSink(t, srv.URL, Options{TmpDir: dir, RetainFiles: true})
		require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSON, url: srv.URL + "/f.json"}))
		_, err := s.Commit(ctx, 1, true)
		require.NoError(t, err)
		assert.Empty(t, dirEntries(t, dir))
	})

	t.Run("deleteFileAfter false", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := newTestSink(t, srv.URL, Options{TmpDir: dir})
		require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSON, url: srv.URL + "/f.json"}))
		_, err := s.Commit(ctx, 1, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"feed-test.json"}, dirEntries(t, dir))
	})
}

func TestRollback(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestSink(t, "", Options{TmpDir: dir})
	ctx := context.Background()

	require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSON, url: "http://unused/f.json"}))
	require.NoError(t, s.AddData(ctx, []Row{{"a": 1}}, 1))
	require.NoError(t, s.Rollback())
	assert.Empty(t, dirEntries(t, dir))

	// idle rollback is a no-op
	require.NoError(t, s.Rollback())

	// sink is reusable
	require.NoError(t, s.Initiate(ctx, testSpec{format: FormatJSON, url: "http://unused/f.json"}))
	require.NoError(t, s.Rollback())
}

func TestAddData_NotInitiated(t *testing.T) {
	s, _ := newTestSink(t, "", Options{})
	assert.ErrorIs(t, s.AddData(context.Background(), []Row{{"a": 1}}, 1), types.ErrStorageIO)
}

func TestIsGzipURL(t *testing.T) {
	assert.True(t, IsGzipURL("https://s3/bucket/a.json.gz?X-Amz-Signature=abc"))
	assert.True(t, IsGzipURL("https://s3/a.gz"))
	assert.False(t, IsGzipURL("https://s3/a.json?name=a.gz"))
	assert.False(t, IsGzipURL("https://s3/a.json"))
}

func TestUUIDNameGenerator(t *testing.T) {
	g := UUIDNameGenerator{}
	a, b := g.Generate("feed", ".json"), g.Generate("feed", ".json")
	assert.NotEqual(t, a, b)
	assert.Equal(t, ".json", filepath.Ext(a))
}
