// Package apiclient sends signed live-sync events to the external merchandising API.
package apiclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/metrics"
)

// Request headers
const (
	HeaderTopic      = "x-topic"
	HeaderShopDomain = "x-shop-domain"
	HeaderHMAC       = "x-hmac-sha256"
)

// DefaultTimeout bounds one live-sync call
const DefaultTimeout = 20 * time.Second

// Options configures the client
type Options struct {
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Client posts events with a token bucket per shop domain
type Client struct {
	httpClient *http.Client
	rps        rate.Limit
	burst      int
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a client. Non-positive RPS disables rate limiting.
func New(opts Options, m *metrics.Metrics, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Burst <= 0 {
		opts.Burst = max(int(opts.RPS), 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		rps:        limit,
		burst:      opts.Burst,
		metrics:    m,
		logger:     logging.OrNop(logger),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Sign returns the base64 HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Send posts body as JSON to the store's endpoint. Failures are logged and
// reported as false; delivery is best effort.
func (c *Client) Send(ctx context.Context, store config.Store, topic string, body interface{}) bool {
	start := time.Now()
	logger := c.logger.With(zap.String("store", store.Code), zap.String("topic", topic))

	ok, err := c.send(ctx, store, topic, body)
	c.metrics.Dispatched(topic, ok, time.Since(start))
	if err != nil {
		logger.Warn("live-sync request failed", zap.Error(err))
		return false
	}
	logger.Debug("live-sync request sent", zap.Duration("elapsed", time.Since(start)))
	return ok
}

func (c *Client) send(ctx context.Context, store config.Store, topic string, body interface{}) (bool, error) {
	if err := store.SyncCredentials(); err != nil {
		return false, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("encode body: %w", err)
	}

	if err := c.limiter(store.ShopDomain).Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, store.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderShopDomain, store.ShopDomain)
	req.Header.Set(HeaderHMAC, Sign(store.Secret, payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return true, nil
}

func (c *Client) limiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[key] = l
	}
	return l
}
