package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/app"
	"github.com/VerdantVibes/coupon-scraper/internal/catalog"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional YAML/JSON config file")
		out        = flag.String("out", constants.ActionsFile, "actions descriptor to write")
		merge      = flag.Bool("merge", false, "keep sites already in --out that the catalog no longer lists")
		wait       = flag.Int("wait", catalog.DefaultWaitTime, "defaultWaitTime in milliseconds for a new descriptor")
		storeID    = flag.Int("store-id", 0, "sync only this store")
	)
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := common.NewLogger("text", cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := app.NewCatalog(cfg.Catalog, logger)
	if cat == nil {
		logger.Error("CATALOG_URL or CATALOG_FILE is required")
		os.Exit(2)
	}

	var sites []entity.SiteConfig
	if *storeID > 0 {
		site, err := cat.Store(ctx, *storeID)
		if err != nil {
			logger.Error("failed to fetch store", "store_id", *storeID, "error", err)
			os.Exit(1)
		}
		sites = append(sites, *site)
	} else {
		sites, err = cat.All(ctx)
		if err != nil {
			logger.Error("failed to fetch catalog", "error", err)
			os.Exit(1)
		}
	}

	var file *catalog.ActionsFile
	if *merge || *storeID > 0 {
		file, err = catalog.LoadActionsFile(*out)
		if err != nil {
			logger.Error("failed to read existing descriptor", "path", *out, "error", err)
			os.Exit(1)
		}
		catalog.MergeActions(file, sites)
	} else {
		file = catalog.BuildActions(sites, *wait)
	}

	if err := catalog.WriteActionsFile(*out, file); err != nil {
		logger.Error("failed to write descriptor", "path", *out, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d sites to %s (%d fetched)\n", len(file.Sites), *out, len(sites))
}
