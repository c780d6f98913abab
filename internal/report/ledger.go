package report

import (
	"context"

	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// RunLedger is the part of the run repository the ledger sink writes to.
type RunLedger interface {
	UpdateCounts(ctx context.Context, id uuid.UUID, summary entity.Summary) error
	Finish(ctx context.Context, id uuid.UUID, status constants.RunStatus, summary entity.Summary) error
}

// LedgerSink mirrors report counts into the runs table and closes the row on the
// final report.
type LedgerSink struct {
	runs RunLedger
}

func NewLedgerSink(runs RunLedger) *LedgerSink { return &LedgerSink{runs: runs} }

func (s *LedgerSink) Write(ctx context.Context, r *entity.Report) error {
	if !r.Final {
		return s.runs.UpdateCounts(ctx, r.RunID, r.Summary)
	}
	status := constants.RunStatusCompleted
	if r.Canceled {
		status = constants.RunStatusCanceled
	}
	return s.runs.Finish(ctx, r.RunID, status, r.Summary)
}
