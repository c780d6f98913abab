package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VerdantVibes/coupon-scraper/internal/app"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/scheduler"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional YAML/JSON config file")
		inmem      = flag.Bool("inmem", true, "use in-memory SQLite database for the run ledger")
		site       = flag.String("site", "", "site domain (required)")
		code       = flag.String("code", "", "coupon code to validate (required)")
	)
	flag.Parse()

	if strings.TrimSpace(*site) == "" || strings.TrimSpace(*code) == "" {
		fmt.Fprintln(os.Stderr, "usage: validate-code --site <domain> --code <code>")
		os.Exit(2)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.Log.Format = "text"
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := common.NewLogger(cfg.Log.Format, cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	invoker, err := a.Invoker()
	if err != nil {
		logger.Error("failed to set up validator", "error", err)
		os.Exit(1)
	}
	sched, err := a.Scheduler(ctx, invoker, false, scheduler.WithConcurrency(1))
	if err != nil {
		logger.Error("failed to set up scheduler", "error", err)
		os.Exit(1)
	}
	resolver, err := a.Resolver(ctx, false)
	if err != nil {
		logger.Error("failed to set up candidate cache", "error", err)
		os.Exit(1)
	}

	report, runErr := a.Processor(resolver, sched, a.Catalog()).ProcessSite(ctx, *site, []string{*code})
	outcomes, err := a.Outcomes.ListByRun(context.WithoutCancel(ctx), report.RunID)
	if err != nil {
		logger.Error("failed to read outcome", "error", err)
		os.Exit(1)
	}
	for _, o := range outcomes {
		fmt.Printf("%s on %s: %s\n", o.Code, *site, o.Outcome.String())
		for _, line := range o.Outcome.Logs {
			fmt.Printf("  %s\n", line)
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
	if report.Summary.Valid == 0 {
		os.Exit(3)
	}
}
