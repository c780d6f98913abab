package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/remote"
)

// HTTPConfig for the remote site catalog.
type HTTPConfig struct {
	URL       string // base URL; requests go to <URL>/api/sites
	PageLimit int    // default 100
	MaxPages  int    // default 50
	Retries   int    // per page; 0 fetches once
	Timeout   time.Duration
}

// HTTPCatalog reads the paginated /api/sites endpoint.
type HTTPCatalog struct {
	cfg    HTTPConfig
	http   *http.Client
	logger *slog.Logger
}

func NewHTTPCatalog(cfg HTTPConfig, httpClient *http.Client, logger *slog.Logger) *HTTPCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &HTTPCatalog{cfg: cfg, http: httpClient, logger: logger}
}

type sitesPage struct {
	Data []entity.SiteConfig `json:"data"`
}

// All walks pages until an empty or short page, or MaxPages, and dedupes by domain.
func (c *HTTPCatalog) All(ctx context.Context) ([]entity.SiteConfig, error) {
	var all []entity.SiteConfig
	for page := 1; page <= c.cfg.MaxPages; page++ {
		sites, err := c.Page(ctx, page, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, sites...)
		if len(sites) < c.cfg.PageLimit {
			break
		}
		if page == c.cfg.MaxPages {
			c.logger.Warn("catalog.max_pages_reached", "max_pages", c.cfg.MaxPages)
		}
	}
	all = dedupe(all)
	c.logger.Info("catalog.loaded", "sites", len(all))
	return all, nil
}

// Store fetches the record for a single store ID.
func (c *HTTPCatalog) Store(ctx context.Context, storeID int) (*entity.SiteConfig, error) {
	sites, err := c.Page(ctx, 1, storeID)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		if strings.TrimSpace(sites[i].StoreDomain) != "" {
			return &sites[i], nil
		}
	}
	return nil, fmt.Errorf("store %d: %w", storeID, common.ErrNotFound)
}

// Page fetches one page. storeID 0 means every store.
func (c *HTTPCatalog) Page(ctx context.Context, page, storeID int) ([]entity.SiteConfig, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	if storeID > 0 {
		q.Set("store_id", strconv.Itoa(storeID))
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = time.Minute
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(c.cfg.Retries)), ctx)

	var out sitesPage
	operation := func() error {
		out = sitesPage{}
		err := remote.GetJSON(ctx, c.http, c.cfg.URL+"/api/sites", q, &out, c.logger)
		var se *remote.StatusError
		if err != nil && errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		c.logger.Error("catalog.page_failed", "page", page, "store_id", storeID, "error", err)
		return nil, fmt.Errorf("%w: page %d: %w", common.ErrCatalog, page, err)
	}
	c.logger.Debug("catalog.page", "page", page, "store_id", storeID, "sites", len(out.Data))
	return out.Data, nil
}
