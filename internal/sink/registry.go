package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Row is one serialized feed record
type Row = map[string]interface{}

// Supported feed formats
const (
	FormatJSON   = "json"
	FormatGzip   = "gz"
	FormatJSONGz = "json.gz"
)

// Formatter serializes rows onto w
type Formatter interface {
	Format(w io.Writer, rows []Row) error
}

// JSONLinesFormatter writes one JSON object per line
type JSONLinesFormatter struct{}

func (JSONLinesFormatter) Format(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		// Encode appends the newline
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// FileWriter opens the local file a format is written to
type FileWriter interface {
	Extension() string
	Open(path string) (io.WriteCloser, error)
}

// BufferedFileWriter writes through a buffer that is flushed on Close
type BufferedFileWriter struct {
	Ext string
}

func (b BufferedFileWriter) Extension() string { return b.Ext }

func (b BufferedFileWriter) Open(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &bufferedFile{f: f, w: bufio.NewWriterSize(f, 64<<10)}, nil
}

type bufferedFile struct {
	f *os.File
	w *bufio.Writer
}

func (b *bufferedFile) Write(p []byte) (int, error) { return b.w.Write(p) }

func (b *bufferedFile) Close() error {
	flushErr := b.w.Flush()
	closeErr := b.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// FormatterRegistry maps a format to its formatter
type FormatterRegistry struct {
	formatters map[string]Formatter
}

// NewFormatterRegistry creates an empty registry
func NewFormatterRegistry() *FormatterRegistry {
	return &FormatterRegistry{formatters: make(map[string]Formatter)}
}

// Register adds or replaces the formatter for format
func (r *FormatterRegistry) Register(format string, f Formatter) {
	r.formatters[strings.ToLower(format)] = f
}

// Get looks up a formatter
func (r *FormatterRegistry) Get(format string) (Formatter, bool) {
	f, ok := r.formatters[strings.ToLower(format)]
	return f, ok
}

// Formats lists the registered formats, sorted
func (r *FormatterRegistry) Formats() []string {
	out := make([]string, 0, len(r.formatters))
	for f := range r.formatters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// WriterRegistry maps a format to its file writer
type WriterRegistry struct {
	writers map[string]FileWriter
}

// NewWriterRegistry creates an empty registry
func NewWriterRegistry() *WriterRegistry {
	return &WriterRegistry{writers: make(map[string]FileWriter)}
}

// Register adds or replaces the writer for format
func (r *WriterRegistry) Register(format string, w FileWriter) {
	r.writers[strings.ToLower(format)] = w
}

// Get looks up a writer
func (r *WriterRegistry) Get(format string) (FileWriter, bool) {
	w, ok := r.writers[strings.ToLower(format)]
	return w, ok
}

// DefaultRegistries registers newline-delimited JSON for every supported format.
// The body is always written uncompressed; compression happens on commit.
func DefaultRegistries() (*FormatterRegistry, *WriterRegistry) {
	formatters := NewFormatterRegistry()
	writers := NewWriterRegistry()
	for _, format := range []string{FormatJSON, FormatGzip, FormatJSONGz} {
		formatters.Register(format, JSONLinesFormatter{})
		writers.Register(format, BufferedFileWriter{Ext: ".json"})
	}
	return formatters, writers
}

// NameGenerator produces unique temp file names
type NameGenerator interface {
	Generate(prefix, ext string) string
}

// UUIDNameGenerator names files <prefix>-<uuid><ext>
type UUIDNameGenerator struct{}

func (UUIDNameGenerator) Generate(prefix, ext string) string {
	return fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), ext)
}
