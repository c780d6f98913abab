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
	"github.com/VerdantVibes/coupon-scraper/internal/candidates"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		configPath  = flag.String("config", "", "optional YAML/JSON config file")
		inmem       = flag.Bool("inmem", false, "use in-memory SQLite database for the run ledger")
		site        = flag.String("site", "", "site domain to validate codes on (required)")
		codesFlag   = flag.String("codes", "", "comma-separated codes to validate")
		codesFile   = flag.String("codes-file", "", "file with codes: JSON array or one per line")
		live        = flag.Bool("live", true, "search for codes when none are given")
		concurrency = flag.Int("concurrency", 0, "tasks per batch (overrides CONCURRENCY)")
		perSite     = flag.Bool("per-site", false, "write reports under <report-dir>/<site>/")
	)
	flag.Parse()

	if strings.TrimSpace(*site) == "" {
		printError("Error: --site is required\n")
		os.Exit(1)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Scheduler.Concurrency = *concurrency
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codes, err := explicitCodes(*codesFlag, *codesFile)
	if err != nil {
		logger.Error("failed to read codes", "error", err)
		os.Exit(1)
	}

	a, err := app.Open(ctx, cfg, *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	resolver, err := a.Resolver(ctx, *live)
	if err != nil {
		logger.Error("failed to set up candidate cache", "error", err)
		os.Exit(1)
	}
	invoker, err := a.Invoker()
	if err != nil {
		logger.Error("failed to set up validator", "error", err)
		os.Exit(1)
	}
	sched, err := a.Scheduler(ctx, invoker, *perSite)
	if err != nil {
		logger.Error("failed to set up scheduler", "error", err)
		os.Exit(1)
	}

	processor := a.Processor(resolver, sched, a.Catalog())
	report, runErr := processor.ProcessSite(ctx, *site, codes)

	fmt.Printf("Run %s for %s\n", report.RunID, report.Site)
	fmt.Printf("- Batches: %d/%d\n", report.BatchesCompleted, report.BatchesTotal)
	fmt.Printf("- Invalid: %d, Failed: %d\n", report.Summary.Invalid, report.Summary.Failed)
	for _, e := range report.Entries {
		fmt.Printf("- VALID %s\n", e.Code)
	}
	for _, e := range report.Unpersisted {
		fmt.Printf("- not persisted: %s\n", e.Code)
	}
	fmt.Printf("Summary: %s\n", report.Summary.String())

	if runErr != nil {
		if report.Canceled {
			printError("Run canceled, report is partial: %v\n", runErr)
		} else {
			printError("Run failed: %v\n", runErr)
		}
		os.Exit(1)
	}
}

func explicitCodes(list, file string) ([]string, error) {
	var codes []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if file != "" {
		fromFile, err := candidates.LoadCodesFile(file)
		if err != nil {
			return nil, err
		}
		codes = append(codes, fromFile...)
	}
	return codes, nil
}
