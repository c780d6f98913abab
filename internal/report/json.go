package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/utils"
)

// JSONSink rewrites valid_coupons.json on every snapshot, so a crash loses at most
// the batch in flight.
type JSONSink struct {
	dir     string
	perSite bool
}

// NewJSONSink writes to <dir>/valid_coupons.json, or <dir>/<site>/valid_coupons.json
// when perSite is set.
func NewJSONSink(dir string, perSite bool) *JSONSink {
	return &JSONSink{dir: dir, perSite: perSite}
}

// Path is where the report for site ends up.
func (s *JSONSink) Path(site string) string {
	if s.perSite {
		return filepath.Join(s.dir, SafeName(site), constants.ReportJSONFile)
	}
	return filepath.Join(s.dir, constants.ReportJSONFile)
}

func (s *JSONSink) Write(_ context.Context, r *entity.Report) error {
	if err := utils.WriteJSONFile(s.Path(r.Site), r); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

// SafeName maps a site to a single path element.
func SafeName(site string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(site))
	name = strings.Trim(name, ".")
	if name == "" {
		return "_"
	}
	return name
}
