package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VerdantVibes/coupon-scraper/internal/app"
	"github.com/VerdantVibes/coupon-scraper/internal/candidates"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional YAML/JSON config file")
		inmem      = flag.Bool("inmem", false, "use in-memory SQLite database")
		site       = flag.String("site", "", "site domain to search codes for (required)")
		textFile   = flag.String("text-file", "", "extract codes from this text instead of searching")
		noCache    = flag.Bool("no-cache", false, "do not save the codes to the candidate cache")
	)
	flag.Parse()

	if strings.TrimSpace(*site) == "" {
		fmt.Fprintln(os.Stderr, "usage: extract-codes --site <domain> [--text-file path] [--no-cache]")
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

	client := a.LLM()
	if client == nil {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	var (
		codes  []string
		source string
	)
	if *textFile != "" {
		text, err := os.ReadFile(*textFile)
		if err != nil {
			logger.Error("failed to read text file", "error", err)
			os.Exit(1)
		}
		codes, err = client.ExtractCodes(ctx, string(text))
		if err != nil {
			logger.Error("extraction failed", "error", err)
			os.Exit(1)
		}
		source = "text"
	} else {
		live := candidates.NewLiveSource(client, client, logger)
		codes, err = live.Find(ctx, *site)
		if err != nil {
			logger.Error("search failed", "site", *site, "error", err)
			os.Exit(1)
		}
		source = live.Name()
	}

	if !*noCache && len(codes) > 0 {
		cache, err := a.Cache(ctx)
		if err != nil {
			logger.Error("failed to open candidate cache", "error", err)
			os.Exit(1)
		}
		list := entity.CandidateList{Site: *site, Codes: codes, Source: source, UpdatedAt: time.Now().UTC()}
		if err := cache.Save(ctx, list); err != nil {
			logger.Error("failed to cache codes", "error", err)
			os.Exit(1)
		}
		logger.Info("cached codes", "site", *site, "count", len(codes), "backend", cfg.Cache.Backend)
	}

	for _, c := range codes {
		fmt.Println(c)
	}
	if len(codes) == 0 {
		fmt.Fprintf(os.Stderr, "no codes found for %s\n", *site)
	}
}
