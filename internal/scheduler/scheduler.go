package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/aggregate"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/workspace"
)

// Invoker runs one task to a terminal outcome.
type Invoker interface {
	Invoke(ctx context.Context, task entity.Task) entity.Outcome
}

// Fallback supplies candidates when a run is started with none.
type Fallback interface {
	Candidates(ctx context.Context, site string) ([]string, error)
}

// Archiver copies a finished task's workspace somewhere durable before it is released.
type Archiver interface {
	Archive(ctx context.Context, task entity.Task) error
}

// Request is one run: every code is validated against Site exactly once.
type Request struct {
	RunID      uuid.UUID
	Site       string
	Codes      []string
	SiteConfig json.RawMessage
}

// Scheduler runs tasks in consecutive batches of at most Concurrency tasks. All tasks
// of a batch reach an outcome before the next batch starts.
type Scheduler struct {
	invoker        Invoker
	logger         *slog.Logger
	concurrency    int
	batchDelay     time.Duration
	workspaceRoot  string
	keepWorkspaces bool
	fallback       Fallback
	archiver       Archiver
	persister      aggregate.Persister
	sink           aggregate.Sink
	ledger         aggregate.OutcomeRecorder
}

type Option func(*Scheduler)

func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}
func WithBatchDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.batchDelay = d
		}
	}
}
func WithWorkspaceRoot(dir string) Option {
	return func(s *Scheduler) {
		if dir != "" {
			s.workspaceRoot = dir
		}
	}
}
func WithKeepWorkspaces(keep bool) Option        { return func(s *Scheduler) { s.keepWorkspaces = keep } }
func WithFallback(f Fallback) Option             { return func(s *Scheduler) { s.fallback = f } }
func WithArchiver(a Archiver) Option             { return func(s *Scheduler) { s.archiver = a } }
func WithPersister(p aggregate.Persister) Option { return func(s *Scheduler) { s.persister = p } }
func WithSink(sink aggregate.Sink) Option        { return func(s *Scheduler) { s.sink = sink } }
func WithLedger(l aggregate.OutcomeRecorder) Option {
	return func(s *Scheduler) { s.ledger = l }
}
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(invoker Invoker, opts ...Option) *Scheduler {
	s := &Scheduler{
		invoker:       invoker,
		logger:        slog.Default(),
		concurrency:   3,
		workspaceRoot: "./runs",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Concurrency is the batch size limit K.
func (s *Scheduler) Concurrency() int { return s.concurrency }

// Partition splits codes into consecutive batches of at most k, keeping input order.
func Partition(codes []string, k int) [][]string {
	if k < 1 {
		k = 1
	}
	batches := make([][]string, 0, (len(codes)+k-1)/k)
	for start := 0; start < len(codes); start += k {
		end := min(start+k, len(codes))
		batches = append(batches, codes[start:end])
	}
	return batches
}

// Run validates req.Codes and returns the aggregate report. When ctx is canceled no
// new batch starts, running tasks are terminated, and the partial report is returned
// together with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, req Request) (*entity.Report, error) {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	ctx = common.WithRunID(ctx, req.RunID.String())
	log := s.logger.With("run_id", req.RunID, "site", req.Site)

	codes := req.Codes
	if len(codes) == 0 && s.fallback != nil {
		cached, err := s.fallback.Candidates(ctx, req.Site)
		if err != nil {
			log.Error("scheduler.no_candidates", "error", err)
			empty := aggregate.New(aggregate.Run{ID: req.RunID, Site: req.Site}, aggregate.WithLogger(log))
			return empty.Snapshot(true, false), err
		}
		log.Info("scheduler.fallback_candidates", "count", len(cached))
		codes = cached
	}

	batches := Partition(codes, s.concurrency)
	agg := aggregate.New(
		aggregate.Run{ID: req.RunID, Site: req.Site, Planned: len(codes), Batches: len(batches)},
		aggregate.WithPersister(s.persister),
		aggregate.WithSink(s.sink),
		aggregate.WithLedger(s.ledger),
		aggregate.WithLogger(log),
	)
	if len(codes) == 0 {
		log.Info("scheduler.empty_run")
		report, _ := agg.Finish(ctx, false)
		return report, nil
	}

	arena, err := workspace.NewArena(s.workspaceRoot, req.RunID, s.keepWorkspaces, log)
	if err != nil {
		return agg.Snapshot(true, false), fmt.Errorf("workspace arena: %w", err)
	}
	defer func() {
		if err := arena.Close(); err != nil {
			log.Warn("scheduler.arena_close_failed", "error", err)
		}
	}()

	log.Info("scheduler.run.start", "codes", len(codes), "batches", len(batches), "concurrency", s.concurrency)
	start := time.Now()
	canceled := false
	offset := 0

	for bi, batch := range batches {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		interrupted := s.runBatch(ctx, arena, agg, req, bi, offset, batch, log)
		offset += len(batch)
		_ = agg.Checkpoint(ctx, bi)

		// A cancel that lands after the last batch fully resolved loses nothing.
		if ctx.Err() != nil && (interrupted || bi < len(batches)-1) {
			canceled = true
			break
		}
		if s.batchDelay > 0 && bi < len(batches)-1 {
			if !sleep(ctx, s.batchDelay) {
				canceled = true
				break
			}
		}
	}

	report, _ := agg.Finish(ctx, canceled)
	log.Info("scheduler.run.done",
		"batches_completed", report.BatchesCompleted,
		"canceled", canceled,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if canceled {
		return report, ctx.Err()
	}
	return report, nil
}

// runBatch assigns every task its workspace, launches the batch and waits for all of it.
// It reports whether any task of the batch was cut short by cancellation.
func (s *Scheduler) runBatch(ctx context.Context, arena *workspace.Arena, agg *aggregate.Aggregator, req Request, bi, offset int, codes []string, log *slog.Logger) bool {
	batchStart := time.Now()
	var interrupted atomic.Bool
	log.Info("scheduler.batch.start", "batch", bi, "size", len(codes))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, code := range codes {
		task := entity.Task{
			ID:         uuid.New(),
			RunID:      req.RunID,
			Code:       code,
			Site:       req.Site,
			BatchIndex: bi,
			Position:   offset + i,
			SiteConfig: req.SiteConfig,
		}
		path, err := arena.Allocate(task)
		if err != nil {
			agg.Record(ctx, task, entity.Failed(constants.ReasonSpawnFailure, "allocate workspace: "+err.Error()))
			continue
		}
		task.Workspace = path

		g.Go(func() error {
			out := s.invoke(ctx, task)
			if out.Reason == constants.ReasonCanceled {
				interrupted.Store(true)
			}
			agg.Record(ctx, task, out)
			s.release(ctx, arena, task, log)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("scheduler.batch.done", "batch", bi, "elapsed_ms", time.Since(batchStart).Milliseconds())
	return interrupted.Load()
}

func (s *Scheduler) invoke(ctx context.Context, task entity.Task) (out entity.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler.invoker_panic", "task_id", task.ID, "panic", r)
			out = entity.Failed(constants.ReasonPanic, fmt.Sprint(r))
		}
	}()
	if ctx.Err() != nil {
		return entity.Failed(constants.ReasonCanceled, "run canceled before launch")
	}
	return s.invoker.Invoke(ctx, task)
}

func (s *Scheduler) release(ctx context.Context, arena *workspace.Arena, task entity.Task, log *slog.Logger) {
	if s.archiver != nil {
		if err := s.archiver.Archive(context.WithoutCancel(ctx), task); err != nil {
			log.Warn("scheduler.archive_failed", "task_id", task.ID, "error", err)
		}
	}
	if err := arena.Release(task); err != nil {
		log.Warn("scheduler.release_failed", "task_id", task.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
