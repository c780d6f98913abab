package report

import (
	"context"
	"errors"

	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// Sink receives report snapshots.
type Sink interface {
	Write(ctx context.Context, r *entity.Report) error
}

// MultiSink writes to every sink, even after one fails, and joins the errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r *entity.Report) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
