package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VerdantVibes/coupon-scraper/internal/archive"
	"github.com/VerdantVibes/coupon-scraper/internal/artifact"
	"github.com/VerdantVibes/coupon-scraper/internal/candidates"
	"github.com/VerdantVibes/coupon-scraper/internal/catalog"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/llm/openai"
	"github.com/VerdantVibes/coupon-scraper/internal/pipeline"
	"github.com/VerdantVibes/coupon-scraper/internal/remote"
	"github.com/VerdantVibes/coupon-scraper/internal/report"
	repo "github.com/VerdantVibes/coupon-scraper/internal/repository"
	"github.com/VerdantVibes/coupon-scraper/internal/scheduler"
	"github.com/VerdantVibes/coupon-scraper/internal/server"
	"github.com/VerdantVibes/coupon-scraper/internal/validator"
)

// App holds the long-lived dependencies every binary shares.
type App struct {
	Config     *common.Config
	Logger     *slog.Logger
	DB         *repo.DB
	Runs       repo.RunRepository
	Outcomes   repo.OutcomeRepository
	Candidates repo.CandidateRepository

	redis *redis.Client
}

// Open connects the run ledger. With inmem set the ledger lives in a throwaway
// SQLite database regardless of DB_URL.
func Open(ctx context.Context, cfg *common.Config, inmem bool, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dbCfg := cfg.Database
	if inmem {
		dbCfg.DSN = "sqlite://:memory:"
	}
	db, err := server.ConnectDB(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	return &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Runs:       repo.NewRunRepository(db, logger),
		Outcomes:   repo.NewOutcomeRepository(db, logger),
		Candidates: repo.NewCandidateRepository(db, logger),
	}, nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	a.DB.Close()
}

// LLM returns the OpenAI client, or nil when no API key is configured.
func (a *App) LLM() *openai.Client {
	c := a.Config.LLM
	if c.APIKey == "" {
		return nil
	}
	return openai.NewClient(openai.Config{
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		Model:           c.Model,
		SearchModel:     c.SearchModel,
		Temperature:     c.Temperature,
		Timeout:         c.Timeout,
		RPS:             c.RPS,
		LenientOptional: true,
	}, a.Logger)
}

// Cache builds the configured candidate cache backend.
func (a *App) Cache(ctx context.Context) (candidates.Cache, error) {
	c := a.Config.Cache
	switch c.Backend {
	case "redis":
		if a.redis == nil {
			rdb, err := candidates.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
			if err != nil {
				return nil, err
			}
			a.redis = rdb
		}
		return candidates.NewRedisCache(a.redis, c.TTL), nil
	case "file":
		return candidates.NewFileCache(c.File), nil
	default:
		return a.Candidates, nil
	}
}

// Resolver wires the candidate policy. The live source is attached only when live
// is requested and an API key is available.
func (a *App) Resolver(ctx context.Context, live bool) (*candidates.Resolver, error) {
	cache, err := a.Cache(ctx)
	if err != nil {
		return nil, err
	}
	opts := []candidates.Option{candidates.WithCache(cache), candidates.WithLogger(a.Logger)}
	if live {
		if client := a.LLM(); client != nil {
			opts = append(opts, candidates.WithLiveSource(candidates.NewLiveSource(client, client, a.Logger)))
		} else {
			a.Logger.Warn("OpenAI API key not configured, live candidate search disabled")
		}
	}
	return candidates.NewResolver(opts...), nil
}

// Catalog returns the configured site catalog, or nil when none is configured.
func (a *App) Catalog() catalog.Catalog { return NewCatalog(a.Config.Catalog, a.Logger) }

// NewCatalog picks the HTTP catalog when a URL is set, else the file catalog, else nil.
func NewCatalog(c common.CatalogConfig, logger *slog.Logger) catalog.Catalog {
	switch {
	case c.URL != "":
		return catalog.NewHTTPCatalog(catalog.HTTPConfig{
			URL:       c.URL,
			PageLimit: c.PageLimit,
			MaxPages:  c.MaxPages,
			Retries:   c.Retries,
		}, nil, logger)
	case c.File != "":
		return catalog.NewFileCatalog(c.File)
	default:
		return nil
	}
}

// Invoker builds the external tool invoker with the artifact correlator.
func (a *App) Invoker() (*validator.Invoker, error) {
	correlator, err := artifact.NewCorrelator(a.Logger)
	if err != nil {
		return nil, err
	}
	v := a.Config.Validator
	return validator.NewInvoker(validator.Config{
		Command:          v.Command,
		Script:           v.Script,
		Timeout:          v.Timeout,
		KillGrace:        v.KillGrace,
		UsedOnProductURL: v.UsedOnProductURL,
	}, validator.ExecRunner(), correlator, a.Logger)
}

// Archiver returns the MinIO archiver when configured, else archive.Noop.
func (a *App) Archiver(ctx context.Context) (scheduler.Archiver, error) {
	if !a.Config.ArchiveEnabled() {
		return archive.Noop{}, nil
	}
	c := a.Config.Archive
	arch, err := archive.NewMinioArchiver(ctx, archive.Config{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		Prefix:    c.Prefix,
		UseSSL:    c.UseSSL,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return arch, nil
}

// Sink fans report snapshots out to the JSON file, the optional workbook and the
// runs table.
func (a *App) Sink(perSite bool) report.MultiSink {
	r := a.Config.Report
	sinks := report.MultiSink{report.NewJSONSink(r.Dir, perSite)}
	if r.XLSX {
		sinks = append(sinks, report.NewXLSXSink(r.Dir, perSite, a.Logger))
	}
	return append(sinks, report.NewLedgerSink(a.Runs))
}

// Scheduler wires the invoker with persistence, reporting, the outcome ledger and
// archiving. extra options are applied last.
func (a *App) Scheduler(ctx context.Context, invoker scheduler.Invoker, perSite bool, extra ...scheduler.Option) (*scheduler.Scheduler, error) {
	archiver, err := a.Archiver(ctx)
	if err != nil {
		return nil, err
	}
	s := a.Config.Scheduler
	v := a.Config.Validator
	opts := []scheduler.Option{
		scheduler.WithConcurrency(s.Concurrency),
		scheduler.WithBatchDelay(s.BatchDelay),
		scheduler.WithWorkspaceRoot(v.WorkspaceRoot),
		scheduler.WithKeepWorkspaces(v.KeepWorkspaces),
		scheduler.WithArchiver(archiver),
		scheduler.WithSink(a.Sink(perSite)),
		scheduler.WithLedger(a.Outcomes),
		scheduler.WithLogger(a.Logger),
	}
	if p := a.Config.Persistence; p.URL != "" {
		opts = append(opts, scheduler.WithPersister(remote.NewResultsClient(remote.ResultsConfig{
			URL:        p.URL,
			Timeout:    p.Timeout,
			MaxRetries: p.MaxRetries,
			RPS:        p.RPS,
		}, nil, a.Logger)))
	} else {
		a.Logger.Warn("PERSIST_URL not configured, valid codes are only reported locally")
	}
	return scheduler.New(invoker, append(opts, extra...)...), nil
}

// Processor wires a site processor. cat may be nil.
func (a *App) Processor(resolver pipeline.CandidateResolver, runner pipeline.Runner, cat catalog.Catalog) *pipeline.Processor {
	opts := []pipeline.Option{pipeline.WithRunLedger(a.Runs)}
	if cat != nil {
		opts = append(opts, pipeline.WithCatalog(cat))
	}
	return pipeline.NewProcessor(a.Logger, resolver, runner, opts...)
}

// HealthTimeout bounds ledger pings done by binaries at startup.
const HealthTimeout = 5 * time.Second
