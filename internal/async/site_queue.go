package async

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// SiteProcessor runs one site end to end.
type SiteProcessor interface {
	ProcessSite(ctx context.Context, site string, explicit []string) (*entity.Report, error)
}

// ReportHook observes every finished job.
type ReportHook func(job SiteJob, report *entity.Report, err error)

// SiteQueue feeds site jobs to a fixed set of workers. A job without codes for a site
// that already has one queued or running is dropped. Each worker pauses SiteDelay
// between sites.
type SiteQueue struct {
	proc      SiteProcessor
	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	siteDelay time.Duration
	hook      ReportHook

	ch     chan SiteJob
	wg     sync.WaitGroup
	once   sync.Once
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
	sending sync.WaitGroup
}

type Option func(*SiteQueue)

func WithWorkers(n int) Option {
	return func(q *SiteQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *SiteQueue) {
		if n > 0 {
			q.ch = make(chan SiteJob, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *SiteQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}
func WithSiteDelay(d time.Duration) Option {
	return func(q *SiteQueue) {
		if d >= 0 {
			q.siteDelay = d
		}
	}
}
func WithReportHook(h ReportHook) Option { return func(q *SiteQueue) { q.hook = h } }

func NewSiteQueue(proc SiteProcessor, logger *slog.Logger, opts ...Option) *SiteQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &SiteQueue{
		proc:      proc,
		logger:    logger,
		workers:   1,
		timeout:   30 * time.Minute,
		siteDelay: 3 * time.Second,
		ch:        make(chan SiteJob, 256),
		pending:   map[string]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *SiteQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
					q.pause()
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *SiteQueue) process(workerID int, job SiteJob) {
	defer q.done(job)

	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}

	report, err := q.proc.ProcessSite(ctx, job.Site, job.Codes)
	if err != nil {
		q.logger.Error("site processing failed", "worker_id", workerID, "site", job.Site, "error", err)
	} else {
		q.logger.Info("processed site successfully",
			"worker_id", workerID,
			"site", job.Site,
			"summary", report.Summary.String(),
			"waited_ms", time.Since(job.SubmittedAt).Milliseconds(),
		)
	}
	if q.hook != nil {
		q.hook(job, report, err)
	}
}

func (q *SiteQueue) pause() {
	if q.siteDelay <= 0 {
		return
	}
	t := time.NewTimer(q.siteDelay)
	defer t.Stop()
	select {
	case <-q.base.Done():
	case <-t.C:
	}
}

// dedupeKey is empty for jobs that carry their own codes; those always run.
func dedupeKey(job SiteJob) string {
	if len(job.Codes) > 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(job.Site))
}

func (q *SiteQueue) done(job SiteJob) {
	key := dedupeKey(job)
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

// Enqueue adds job unless it is a duplicate sweep of a pending site. It blocks while
// the queue is full, until ctx is done.
func (q *SiteQueue) Enqueue(ctx context.Context, job SiteJob) error {
	key := dedupeKey(job)
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "site", job.Site)
		return ErrQueueClosed
	}
	if key != "" {
		if _, dup := q.pending[key]; dup {
			q.mu.Unlock()
			q.logger.Info("site already queued, skipping", "site", job.Site)
			return nil
		}
		q.pending[key] = struct{}{}
	}

	select {
	case q.ch <- job:
		q.mu.Unlock()
		q.logger.Info("queued site for processing", "site", job.Site, "codes", len(job.Codes))
		return nil
	default:
	}
	// Full: wait without the lock. Shutdown closes the channel only after sending drains.
	q.sending.Add(1)
	q.mu.Unlock()
	defer q.sending.Done()

	q.logger.Warn("queue full, applying backpressure", "site", job.Site)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		q.done(job)
		return ctx.Err()
	case <-q.base.Done():
		q.done(job)
		return ErrQueueClosed
	}
}

// Pending is the number of code-less site jobs queued or running.
func (q *SiteQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown stops intake and waits for queued sites to finish. When ctx ends first,
// running sites are canceled and end with partial reports.
func (q *SiteQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	sent := make(chan struct{})
	go func() { defer close(sent); q.sending.Wait(); close(q.ch) }()

	done := make(chan struct{})
	go func() { defer close(done); <-sent; q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context, canceling running sites")
		q.cancel()
		<-done
	case <-done:
		q.cancel()
		q.logger.Info("queue drained, shutdown complete")
	}
}
