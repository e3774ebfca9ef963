// Package upload streams a local file to a pre-signed URL.
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/pkg/types"
)

// DefaultTimeout bounds one upload
const DefaultTimeout = 10 * time.Minute

// maxErrorBody caps how much of a failed response is kept for the error message
const maxErrorBody = 1024

// Client uploads files with HTTP PUT. Only a 2xx response counts as success.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an upload client. A zero timeout uses DefaultTimeout.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}
}

// Upload streams the file at path to url and returns the bytes sent
func (c *Client) Upload(ctx context.Context, url, path string) (int64, error) {
	if url == "" {
		return 0, fmt.Errorf("%w: empty upload url", types.ErrConfiguration)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", types.ErrStorageIO, path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", types.ErrStorageIO, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", types.ErrConfiguration, err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentType(path))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: upload: %v", types.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("%w: upload returned status %d: %s", types.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info("feed uploaded",
		zap.String("file", path),
		zap.Int64("bytes", info.Size()),
		zap.Duration("duration", time.Since(start)))
	return info.Size(), nil
}

func contentType(path string) string {
	if strings.HasSuffix(path, ".gz") {
		return "application/gzip"
	}
	return "application/x-ndjson"
}
