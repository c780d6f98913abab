package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// Catalog lists the sites coupons are validated on, with their automation settings.
type Catalog interface {
	All(ctx context.Context) ([]entity.SiteConfig, error)
	Store(ctx context.Context, storeID int) (*entity.SiteConfig, error)
}

// Lookup finds a site by domain. Domains compare case-insensitively and ignore a
// leading www.
func Lookup(ctx context.Context, c Catalog, domain string) (*entity.SiteConfig, error) {
	sites, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	want := normalizeDomain(domain)
	for i := range sites {
		if normalizeDomain(sites[i].StoreDomain) == want {
			return &sites[i], nil
		}
	}
	return nil, fmt.Errorf("site %s: %w", domain, common.ErrNotFound)
}

// Domains returns each store domain once, in catalog order.
func Domains(sites []entity.SiteConfig) []string {
	seen := make(map[string]struct{}, len(sites))
	out := make([]string, 0, len(sites))
	for _, s := range sites {
		d := strings.TrimSpace(s.StoreDomain)
		if d == "" {
			continue
		}
		key := normalizeDomain(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimRight(d, "/")
}

// dedupe drops later records for a domain already seen and records without a domain.
func dedupe(sites []entity.SiteConfig) []entity.SiteConfig {
	seen := make(map[string]struct{}, len(sites))
	out := sites[:0]
	for _, s := range sites {
		key := normalizeDomain(s.StoreDomain)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Static serves a list fetched earlier, so repeated lookups during a sweep do not
// page through the remote catalog again.
type Static []entity.SiteConfig

func (s Static) All(context.Context) ([]entity.SiteConfig, error) {
	return append([]entity.SiteConfig(nil), s...), nil
}

func (s Static) Store(_ context.Context, storeID int) (*entity.SiteConfig, error) {
	for i := range s {
		if s[i].StoreID == storeID {
			site := s[i]
			return &site, nil
		}
	}
	return nil, fmt.Errorf("store %d: %w", storeID, common.ErrNotFound)
}
