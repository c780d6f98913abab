package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "go.uber.org/automaxprocs"

	"github.com/VerdantVibes/coupon-scraper/internal/app"
	"github.com/VerdantVibes/coupon-scraper/internal/async"
	"github.com/VerdantVibes/coupon-scraper/internal/catalog"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/ingest"
	"github.com/VerdantVibes/coupon-scraper/internal/server"
)

func main() {
	configPath := flag.String("config", "", "optional YAML/JSON config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)

	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, false, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "db_url", cfg.Database.DSN)
		os.Exit(1)
	}
	defer a.Close()

	// Ping DB to ensure connectivity
	if err := server.PingDB(ctx, a.DB, logger, app.HealthTimeout); err != nil {
		os.Exit(1)
	}

	source := a.Catalog()
	if source == nil {
		logger.Error("CATALOG_URL or CATALOG_FILE is required for the sweep")
		os.Exit(2)
	}
	resolver, err := a.Resolver(ctx, true)
	if err != nil {
		logger.Error("failed to set up candidate cache", "error", err)
		os.Exit(1)
	}
	invoker, err := a.Invoker()
	if err != nil {
		logger.Error("failed to set up validator", "error", err)
		os.Exit(1)
	}
	sched, err := a.Scheduler(ctx, invoker, true)
	if err != nil {
		logger.Error("failed to set up scheduler", "error", err)
		os.Exit(1)
	}

	sites := &snapshot{}
	processor := a.Processor(resolver, sched, sites)
	queue := async.NewSiteQueue(processor, logger,
		async.WithWorkers(cfg.Sweep.Workers),
		async.WithSiteDelay(cfg.Sweep.SiteDelay),
		async.WithProcessTimeout(cfg.Sweep.SiteTimeout),
		async.WithReportHook(func(job async.SiteJob, r *entity.Report, err error) {
			logger.Info("site run finished",
				"site", job.Site,
				"trace_id", job.TraceID,
				"code", common.GRPCCode(err).String(),
				"valid", r.Summary.Valid,
				"total", r.Summary.Total,
			)
		}),
	)

	if *once {
		sweep(ctx, source, sites, queue, logger)
		queue.Shutdown(context.Background())
		return
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}
	srv := server.New(logger)
	go srv.WatchDependency(ctx, "ledger", a.DB, 30*time.Second, app.HealthTimeout)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx, lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	if cfg.Sweep.InboxDir != "" {
		if err := watchInbox(ctx, cfg.Sweep.InboxDir, queue, logger); err != nil {
			logger.Error("failed to watch inbox", "dir", cfg.Sweep.InboxDir, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("couponsd started", "addr", addr, "sweep_interval", cfg.Sweep.Interval)
	sweep(ctx, source, sites, queue, logger)
	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			sweep(ctx, source, sites, queue, logger)
		}
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Validator.Timeout+cfg.Validator.KillGrace)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	wg.Wait()
}

// sweep refreshes the catalog snapshot and queues every site once.
func sweep(ctx context.Context, source catalog.Catalog, sites *snapshot, queue async.Queue, logger *slog.Logger) {
	traceID := uuid.NewString()
	all, err := source.All(ctx)
	if err != nil {
		logger.Error("catalog fetch failed, keeping previous snapshot", "trace_id", traceID, "error", err)
		return
	}
	sites.set(all)
	domains := catalog.Domains(all)
	logger.Info("sweep started", "trace_id", traceID, "sites", len(domains))
	for _, d := range domains {
		err := queue.Enqueue(ctx, async.SiteJob{Site: d, TraceID: traceID})
		if errors.Is(err, async.ErrQueueClosed) || ctx.Err() != nil {
			return
		}
	}
}

// watchInbox queues a run for every code file dropped into dir.
func watchInbox(ctx context.Context, dir string, queue async.Queue, logger *slog.Logger) error {
	subs, errs, err := ingest.WatchInbox(ctx, ingest.InboxConfig{Dir: dir, InitialScan: true, Debounce: 500 * time.Millisecond}, logger)
	if err != nil {
		return err
	}
	go func() {
		for err := range errs {
			logger.Warn("inbox error", "error", err)
		}
	}()
	go func() {
		for s := range subs {
			job := async.SiteJob{Site: s.Site, Codes: s.Codes, TraceID: uuid.NewString()}
			if err := queue.Enqueue(ctx, job); err != nil {
				logger.Warn("inbox submission dropped", "site", s.Site, "path", s.Path, "error", err)
			}
		}
	}()
	logger.Info("watching inbox", "dir", dir)
	return nil
}

// snapshot serves the catalog fetched by the latest sweep to site lookups.
type snapshot struct {
	mu    sync.RWMutex
	sites catalog.Static
}

func (s *snapshot) set(sites []entity.SiteConfig) {
	s.mu.Lock()
	s.sites = catalog.Static(sites)
	s.mu.Unlock()
}

func (s *snapshot) current() catalog.Static {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sites
}

func (s *snapshot) All(ctx context.Context) ([]entity.SiteConfig, error) {
	return s.current().All(ctx)
}

func (s *snapshot) Store(ctx context.Context, storeID int) (*entity.SiteConfig, error) {
	return s.current().Store(ctx, storeID)
}
