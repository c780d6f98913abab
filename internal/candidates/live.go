package candidates

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/VerdantVibes/coupon-scraper/internal/llm"
)

// LiveSource searches the web for a site's offers and extracts the codes from the answer.
type LiveSource struct {
	searcher  llm.Searcher
	extractor llm.CodeExtractor
	logger    *slog.Logger
}

func NewLiveSource(searcher llm.Searcher, extractor llm.CodeExtractor, logger *slog.Logger) *LiveSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveSource{searcher: searcher, extractor: extractor, logger: logger}
}

func (s *LiveSource) Name() string { return "search" }

func (s *LiveSource) Find(ctx context.Context, site string) ([]string, error) {
	text, err := s.searcher.SearchCoupons(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	codes, err := s.extractor.ExtractCodes(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	s.logger.Debug("candidates.extracted", "site", site, "count", len(codes))
	return codes, nil
}
