package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// FileCatalog serves catalog records from a local YAML or JSON file. The file is
// either a list of records or an object with a data list, the API page shape.
type FileCatalog struct {
	path string
}

func NewFileCatalog(path string) *FileCatalog { return &FileCatalog{path: path} }

func (c *FileCatalog) All(context.Context) ([]entity.SiteConfig, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCatalog, err)
	}
	sites, err := decodeSites(data, strings.ToLower(filepath.Ext(c.path)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrCatalog, c.path, err)
	}
	return dedupe(sites), nil
}

func (c *FileCatalog) Store(ctx context.Context, storeID int) (*entity.SiteConfig, error) {
	sites, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		if sites[i].StoreID == storeID {
			return &sites[i], nil
		}
	}
	return nil, fmt.Errorf("store %d: %w", storeID, common.ErrNotFound)
}

func decodeSites(data []byte, ext string) ([]entity.SiteConfig, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if ext == ".json" {
		if trimmed[0] == '[' {
			var sites []entity.SiteConfig
			err := json.Unmarshal(trimmed, &sites)
			return sites, err
		}
		var page sitesPage
		err := json.Unmarshal(trimmed, &page)
		return page.Data, err
	}

	var sites []entity.SiteConfig
	if err := yaml.Unmarshal(trimmed, &sites); err == nil {
		return sites, nil
	}
	var page struct {
		Data []entity.SiteConfig `yaml:"data"`
	}
	if err := yaml.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}
