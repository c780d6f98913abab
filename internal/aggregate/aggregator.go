package aggregate

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// Persister forwards one confirmed-valid code to the remote store.
type Persister interface {
	Persist(ctx context.Context, rec entity.ResultRecord) error
}

// Sink receives report snapshots: one per completed batch and a final one.
type Sink interface {
	Write(ctx context.Context, r *entity.Report) error
}

// OutcomeRecorder stores every task outcome, valid or not.
type OutcomeRecorder interface {
	Record(ctx context.Context, o entity.TaskOutcome) error
}

// Run identifies the run being aggregated.
type Run struct {
	ID      uuid.UUID
	Site    string
	Planned int
	Batches int
}

// Aggregator collects outcomes as tasks resolve. Record is safe for concurrent use
// by the tasks of one batch.
type Aggregator struct {
	run       Run
	persister Persister
	sink      Sink
	ledger    OutcomeRecorder
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	entries     []entity.ReportEntry
	seen        map[string]struct{}
	unpersisted []entity.ReportEntry
	summary     entity.Summary
	batchesDone int
}

type Option func(*Aggregator)

func WithPersister(p Persister) Option    { return func(a *Aggregator) { a.persister = p } }
func WithSink(s Sink) Option              { return func(a *Aggregator) { a.sink = s } }
func WithLedger(l OutcomeRecorder) Option { return func(a *Aggregator) { a.ledger = l } }
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

func New(run Run, opts ...Option) *Aggregator {
	a := &Aggregator{
		run:    run,
		logger: slog.Default(),
		now:    time.Now,
		seen:   map[string]struct{}{},
	}
	for _, o := range opts {
		o(a)
	}
	a.summary.Planned = run.Planned
	return a
}

// Record logs the task's status line, stores the outcome in the ledger and, for the
// first VALID outcome of a code, appends it to the report and forwards it to the
// persister. A persistence failure is logged and never changes the outcome.
func (a *Aggregator) Record(ctx context.Context, task entity.Task, out entity.Outcome) {
	a.logger.Info("aggregate.task.resolved",
		"run_id", a.run.ID,
		"task_id", task.ID,
		"batch", task.BatchIndex,
		"position", task.Position,
		"code", task.Code,
		"site", task.Site,
		"status", out.Status,
		"reason", out.Reason,
		"detail", out.Detail,
		"duration_ms", out.Duration.Milliseconds(),
	)

	if a.ledger != nil {
		err := a.ledger.Record(context.WithoutCancel(ctx), entity.TaskOutcome{
			RunID:      a.run.ID,
			TaskID:     task.ID,
			BatchIndex: task.BatchIndex,
			Position:   task.Position,
			Code:       task.Code,
			Outcome:    out,
		})
		if err != nil {
			a.logger.Warn("aggregate.ledger_failed", "task_id", task.ID, "error", err)
		}
	}

	first := a.count(task, out)
	if !first || a.persister == nil {
		return
	}

	rec := entity.ResultRecord{
		Site:      task.Site,
		Code:      task.Code,
		Valid:     true,
		Timestamp: out.Timestamp.UTC().Format(time.RFC3339),
	}
	// Valid codes found before a cancel still reach the store.
	if err := a.persister.Persist(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.Warn("aggregate.persist_failed",
			"run_id", a.run.ID,
			"task_id", task.ID,
			"code", task.Code,
			"reason", constants.ReasonPersistenceFailure,
			"error", err,
		)
		a.mu.Lock()
		a.unpersisted = append(a.unpersisted, entity.ReportEntry{Code: task.Code, Site: task.Site})
		a.mu.Unlock()
	}
}

// count updates the summary and reports whether out is the first VALID outcome for
// its code in this run.
func (a *Aggregator) count(task entity.Task, out entity.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.Total++
	switch out.Status {
	case constants.OutcomeValid:
		a.summary.Valid++
		if _, dup := a.seen[task.Code]; dup {
			a.logger.Info("aggregate.duplicate_valid", "code", task.Code, "task_id", task.ID)
			return false
		}
		a.seen[task.Code] = struct{}{}
		a.entries = append(a.entries, entity.ReportEntry{Code: task.Code, Site: task.Site})
		return true
	case constants.OutcomeInvalid:
		a.summary.Invalid++
	default:
		a.summary.Failed++
	}
	return false
}

// Checkpoint writes a snapshot after batch batchIndex resolved.
func (a *Aggregator) Checkpoint(ctx context.Context, batchIndex int) error {
	a.mu.Lock()
	if batchIndex+1 > a.batchesDone {
		a.batchesDone = batchIndex + 1
	}
	a.mu.Unlock()

	snap := a.Snapshot(false, false)
	a.logger.Info("aggregate.checkpoint",
		"run_id", a.run.ID,
		"batch", batchIndex,
		"valid_so_far", len(snap.Entries),
		"resolved", snap.Summary.Total,
	)
	return a.write(ctx, snap)
}

// Finish writes and returns the final report. canceled marks a partial report.
func (a *Aggregator) Finish(ctx context.Context, canceled bool) (*entity.Report, error) {
	snap := a.Snapshot(true, canceled)
	a.logger.Info("aggregate.finished",
		"run_id", a.run.ID,
		"site", a.run.Site,
		"total", snap.Summary.Total,
		"valid", snap.Summary.Valid,
		"invalid", snap.Summary.Invalid,
		"failed", snap.Summary.Failed,
		"success_rate", snap.Summary.Rate(),
		"canceled", canceled,
	)
	return snap, a.write(ctx, snap)
}

// Snapshot copies the current state into a report.
func (a *Aggregator) Snapshot(final, canceled bool) *entity.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.summary
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Valid)/float64(s.Total)*1000) / 10
	}
	entries := make([]entity.ReportEntry, len(a.entries))
	copy(entries, a.entries)
	var unpersisted []entity.ReportEntry
	if len(a.unpersisted) > 0 {
		unpersisted = append(unpersisted, a.unpersisted...)
	}
	return &entity.Report{
		RunID:            a.run.ID,
		Site:             a.run.Site,
		Entries:          entries,
		Unpersisted:      unpersisted,
		Summary:          s,
		BatchesCompleted: a.batchesDone,
		BatchesTotal:     a.run.Batches,
		Canceled:         canceled,
		Final:            final,
		GeneratedAt:      a.now().UTC(),
	}
}

func (a *Aggregator) write(ctx context.Context, r *entity.Report) error {
	if a.sink == nil {
		return nil
	}
	// A canceled run still gets its report written.
	if err := a.sink.Write(context.WithoutCancel(ctx), r); err != nil {
		a.logger.Error("aggregate.sink_failed", "run_id", a.run.ID, "final", r.Final, "error", err)
		return err
	}
	return nil
}
