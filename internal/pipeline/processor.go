package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/catalog"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/scheduler"
)

// CandidateResolver picks the codes to validate for a site.
type CandidateResolver interface {
	Resolve(ctx context.Context, site string, explicit []string) ([]string, error)
}

// RunLedger opens and closes rows of the runs table.
type RunLedger interface {
	Create(ctx context.Context, run entity.Run) error
	Finish(ctx context.Context, id uuid.UUID, status constants.RunStatus, summary entity.Summary) error
}

// Runner executes one scheduled run.
type Runner interface {
	Run(ctx context.Context, req scheduler.Request) (*entity.Report, error)
}

// Processor coordinates candidate resolution, site settings lookup, the run ledger
// and the scheduler for one site.
type Processor struct {
	logger   *slog.Logger
	resolver CandidateResolver
	runner   Runner
	catalog  catalog.Catalog
	runs     RunLedger
	now      func() time.Time
}

type Option func(*Processor)

func WithCatalog(c catalog.Catalog) Option { return func(p *Processor) { p.catalog = c } }
func WithRunLedger(r RunLedger) Option     { return func(p *Processor) { p.runs = r } }
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(logger *slog.Logger, resolver CandidateResolver, runner Runner, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{logger: logger, resolver: resolver, runner: runner, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessSite validates candidate codes for site and returns the run's report. explicit
// codes, when given, are validated as-is; otherwise the resolver finds them.
// The report is never nil, even when an error is returned.
func (p *Processor) ProcessSite(ctx context.Context, site string, explicit []string) (*entity.Report, error) {
	site = strings.TrimSpace(site)
	runID := uuid.New()
	if site == "" {
		return p.emptyReport(runID, site), fmt.Errorf("site: %w", common.ErrInvalidInput)
	}
	ctx = common.WithSite(common.WithRunID(ctx, runID.String()), site)
	log := p.logger.With("run_id", runID, "site", site)

	codes, err := p.resolver.Resolve(ctx, site, explicit)
	if err != nil {
		log.Error("processor.resolve.failed", "error", err)
		p.recordFailedRun(ctx, runID, site, log)
		return p.emptyReport(runID, site), err
	}
	log.Debug("processor resolve stage success", "codes", len(codes), "explicit", len(explicit) > 0)

	req := scheduler.Request{RunID: runID, Site: site, Codes: codes, SiteConfig: p.siteConfig(ctx, site, log)}

	if p.runs != nil {
		run := entity.Run{ID: runID, Site: site, Status: constants.RunStatusRunning, Planned: len(codes), StartedAt: p.now().UTC()}
		if err := p.runs.Create(ctx, run); err != nil {
			log.Error("processor.ledger.create_failed", "error", err)
			return p.emptyReport(runID, site), fmt.Errorf("open run: %w", err)
		}
	}

	report, err := p.runner.Run(ctx, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && p.runs != nil {
			// Canceled runs are closed by the final report; anything else never got one.
			var summary entity.Summary
			if report != nil {
				summary = report.Summary
			}
			if ferr := p.runs.Finish(context.WithoutCancel(ctx), runID, constants.RunStatusFailed, summary); ferr != nil {
				log.Warn("processor.ledger.finish_failed", "error", ferr)
			}
		}
		log.Error("processor.run.failed", "error", err)
		if report == nil {
			report = p.emptyReport(runID, site)
		}
		return report, err
	}

	log.Info("processor.run.ok",
		"valid", report.Summary.Valid,
		"total", report.Summary.Total,
		"success_rate", report.Summary.Rate(),
	)
	return report, nil
}

// siteConfig fetches the automation settings override for site. A missing catalog,
// an unknown site, or a catalog error all mean the tool's built-in settings are used.
func (p *Processor) siteConfig(ctx context.Context, site string, log *slog.Logger) []byte {
	if p.catalog == nil {
		return nil
	}
	cfg, err := catalog.Lookup(ctx, p.catalog, site)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Debug("processor.site_config.absent")
		} else {
			log.Warn("processor.site_config.lookup_failed", "error", err)
		}
		return nil
	}
	raw, err := cfg.SettingsJSON()
	if err != nil {
		log.Warn("processor.site_config.encode_failed", "error", err)
		return nil
	}
	return raw
}

func (p *Processor) recordFailedRun(ctx context.Context, runID uuid.UUID, site string, log *slog.Logger) {
	if p.runs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	run := entity.Run{ID: runID, Site: site, Status: constants.RunStatusRunning, StartedAt: p.now().UTC()}
	if err := p.runs.Create(ctx, run); err != nil {
		log.Warn("processor.ledger.create_failed", "error", err)
		return
	}
	if err := p.runs.Finish(ctx, runID, constants.RunStatusFailed, entity.Summary{}); err != nil {
		log.Warn("processor.ledger.finish_failed", "error", err)
	}
}

func (p *Processor) emptyReport(runID uuid.UUID, site string) *entity.Report {
	return &entity.Report{
		RunID:       runID,
		Site:        site,
		Entries:     []entity.ReportEntry{},
		Final:       true,
		GeneratedAt: p.now().UTC(),
	}
}
