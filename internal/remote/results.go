package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// ResultsConfig for the remote persistence endpoint.
type ResultsConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int     // 0 sends each record once
	RPS        float64 // 0 disables pacing
	Headers    map[string]string
}

// ResultsClient forwards confirmed-valid codes to the persistence endpoint. It holds
// no per-record state, so concurrent tasks may share it.
type ResultsClient struct {
	cfg     ResultsConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewResultsClient(cfg ResultsConfig, httpClient *http.Client, logger *slog.Logger) *ResultsClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &ResultsClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Persist posts {site, code, valid, timestamp}. Any non-2xx answer or transport error
// comes back wrapped in common.ErrPersistence.
func (c *ResultsClient) Persist(ctx context.Context, rec entity.ResultRecord) error {
	if c.cfg.URL == "" {
		return nil
	}
	start := time.Now()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(c.cfg.MaxRetries)), ctx)

	attempts := 0
	var final error
	operation := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			final = err
			return nil
		}
		_, _, err := SendJSON(ctx, c.http, http.MethodPost, c.cfg.URL, rec, c.cfg.Headers, c.logger)
		final = err
		var se *StatusError
		if err != nil && errors.As(err, &se) && !se.Retryable() {
			return nil
		}
		return err
	}
	_ = backoff.Retry(operation, policy)

	if final != nil {
		c.logger.Warn("persist.failed",
			"site", rec.Site,
			"code", rec.Code,
			"attempts", attempts,
			"error", final,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("%w: post %s: %w", common.ErrPersistence, c.cfg.URL, final)
	}
	c.logger.Info("persist.ok", "site", rec.Site, "code", rec.Code, "attempts", attempts)
	return nil
}
