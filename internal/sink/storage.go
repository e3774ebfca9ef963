// Package sink writes feed rows to a local temp file and ships it to a pre-signed URL.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/pkg/types"
)

// compressChunkSize bounds each read during gzip compression
const compressChunkSize = 64 << 10

// Spec is the part of a feed specification the sink needs
type Spec interface {
	Format() string
	PresignedURL() string
}

// Uploader ships a finished file
type Uploader interface {
	Upload(ctx context.Context, url, path string) (int64, error)
}

// TaskRecorder persists the uploaded size onto a task
type TaskRecorder interface {
	UpdateTaskFileSize(ctx context.Context, id int64, size int64) error
}

// Options controls temp files
type Options struct {
	TmpDir      string
	Debug       bool
	RetainFiles bool
	FilePrefix  string
}

// Storage is the per-run feed sink: Initiate, AddData any number of times, then Commit or Rollback.
// Not safe for concurrent use.
type Storage struct {
	formatters *FormatterRegistry
	writers    *WriterRegistry
	names      NameGenerator
	uploader   Uploader
	tasks      TaskRecorder
	opts       Options
	logger     *zap.Logger

	spec      Spec
	formatter Formatter
	path      string
	file      io.WriteCloser
	rows      int
}

// New creates a sink
func New(formatters *FormatterRegistry, writers *WriterRegistry, names NameGenerator, uploader Uploader, tasks TaskRecorder, opts Options, logger *zap.Logger) *Storage {
	if names == nil {
		names = UUIDNameGenerator{}
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = "feed"
	}
	return &Storage{
		formatters: formatters,
		writers:    writers,
		names:      names,
		uploader:   uploader,
		tasks:      tasks,
		opts:       opts,
		logger:     logging.OrNop(logger),
	}
}

// Rows returns how many rows were written in the open run
func (s *Storage) Rows() int {
	return s.rows
}

// Initiate validates the format and opens a uniquely named temp file
func (s *Storage) Initiate(ctx context.Context, spec Spec) error {
	if s.file != nil {
		return fmt.Errorf("%w: sink already initiated", types.ErrStorageIO)
	}
	format := spec.Format()
	if format == "" {
		return fmt.Errorf("%w: feed format is empty", types.ErrConfiguration)
	}
	formatter, ok := s.formatters.Get(format)
	if !ok {
		return fmt.Errorf("%w: no formatter for format %q (supported: %s)",
			types.ErrConfiguration, format, strings.Join(s.formatters.Formats(), ", "))
	}
	writer, ok := s.writers.Get(format)
	if !ok {
		return fmt.Errorf("%w: no file writer for format %q", types.ErrConfiguration, format)
	}

	if err := os.MkdirAll(s.opts.TmpDir, 0o755); err != nil {
		return fmt.Errorf("%w: create tmp dir: %v", types.ErrStorageIO, err)
	}
	path := filepath.Join(s.opts.TmpDir, s.names.Generate(s.opts.FilePrefix, writer.Extension()))
	file, err := writer.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", types.ErrStorageIO, path, err)
	}

	s.spec = spec
	s.formatter = formatter
	s.path = path
	s.file = file
	s.rows = 0
	s.logger.Debug("feed file initiated", zap.String("file", path), zap.String("format", format))
	return nil
}

// AddData appends one batch of rows
func (s *Storage) AddData(ctx context.Context, rows []Row, taskID int64) error {
	if s.file == nil {
		return fmt.Errorf("%w: sink not initiated", types.ErrStorageIO)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.formatter.Format(s.file, rows); err != nil {
		return fmt.Errorf("%w: task %d: write rows: %v", types.ErrStorageIO, taskID, err)
	}
	s.rows += len(rows)
	return nil
}

// Commit finalizes the file, compresses it when the upload URL names a .gz object,
// records the size on the task and uploads. Temp files are removed afterwards whatever
// the outcome, unless debug retention is on or deleteFileAfter is false.
func (s *Storage) Commit(ctx context.Context, taskID int64, deleteFileAfter bool) (size int64, err error) {
	if s.file == nil {
		return 0, fmt.Errorf("%w: sink not initiated", types.ErrStorageIO)
	}

	files := []string{s.path}
	defer func() {
		s.cleanup(files, deleteFileAfter)
		s.reset()
	}()

	if err := s.file.Close(); err != nil {
		return 0, fmt.Errorf("%w: close %s: %v", types.ErrStorageIO, s.path, err)
	}
	s.file = nil

	uploadPath := s.path
	if IsGzipURL(s.spec.PresignedURL()) {
		gzPath := s.path + ".gz"
		files = append(files, gzPath)
		if err := compressFile(s.path, gzPath); err != nil {
			return 0, fmt.Errorf("%w: compress %s: %v", types.ErrStorageIO, s.path, err)
		}
		uploadPath = gzPath
	}

	info, err := os.Stat(uploadPath)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", types.ErrStorageIO, uploadPath, err)
	}
	size = info.Size()

	if s.tasks != nil {
		if err := s.tasks.UpdateTaskFileSize(ctx, taskID, size); err != nil {
			return 0, fmt.Errorf("task %d: record file size: %w", taskID, err)
		}
	}

	if _, err := s.uploader.Upload(ctx, s.spec.PresignedURL(), uploadPath); err != nil {
		return 0, fmt.Errorf("task %d: %w", taskID, err)
	}
	return size, nil
}

// Rollback discards the open file without uploading
func (s *Storage) Rollback() error {
	if s.file == nil && s.path == "" {
		return nil
	}
	var closeErr error
	if s.file != nil {
		closeErr = s.file.Close()
	}
	removeErr := os.Remove(s.path)
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	s.reset()
	if closeErr != nil {
		return fmt.Errorf("%w: rollback close: %v", types.ErrStorageIO, closeErr)
	}
	if removeErr != nil {
		return fmt.Errorf("%w: rollback remove: %v", types.ErrStorageIO, removeErr)
	}
	return nil
}

func (s *Storage) reset() {
	s.spec = nil
	s.formatter = nil
	s.path = ""
	s.file = nil
	s.rows = 0
}

func (s *Storage) cleanup(files []string, deleteFileAfter bool) {
	if !deleteFileAfter || (s.opts.Debug && s.opts.RetainFiles) {
		s.logger.Info("feed files retained", zap.Strings("files", files))
		return
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove feed file", zap.String("file", f), zap.Error(err))
		}
	}
}

// IsGzipURL reports whether the URL path names a gzip object. Query strings are ignored.
func IsGzipURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasSuffix(strings.SplitN(raw, "?", 2)[0], ".gz")
	}
	return strings.HasSuffix(u.Path, ".gz")
}

// compressFile streams src into a gzip file at dst in bounded chunks
func compressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	buf := make([]byte, compressChunkSize)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := gz.Write(buf[:n]); werr != nil {
				_ = gz.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = gz.Close()
			return rerr
		}
	}
	return gz.Close()
}
