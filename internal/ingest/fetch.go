package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/httputil"
	"github.com/avikram/metalpulse/pkg/logger"
)

// FetchClient is the thin upstream boundary: one rate-limited GET with a
// bounded timeout and a single-shot body read. It never retries in place;
// a failed cycle is retried by the next scheduled tick.
type FetchClient struct {
	httpClient *httputil.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewFetchClient creates an upstream feed client from config.
func NewFetchClient(cfg config.FeedConfig, log *logger.Logger) *FetchClient {
	httpClient := httputil.NewWithTimeout(log, cfg.Timeout).DisableRetry()

	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}

	return &FetchClient{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSec), perSec),
		logger:     log.WithField("module", "fetch"),
	}
}

// Fetch performs one GET against the given URL and returns the raw body.
func (c *FetchClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrFetch, err)
	}

	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	return body, nil
}
