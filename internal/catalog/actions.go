package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/utils"
)

const (
	DefaultWaitTime  = 1000
	defaultSiteWait  = 5000
	defaultWaitAfter = 5000
)

// ActionsFile is the descriptor the validation tool reads its per-site automation from.
type ActionsFile struct {
	DefaultWaitTime int                    `json:"defaultWaitTime"`
	Sites           map[string]SiteActions `json:"sites"`
}

type SiteActions struct {
	BaseURL    string       `json:"baseUrl"`
	ProductURL string       `json:"productUrl"`
	Actions    []ActionStep `json:"actions"`
	WaitTime   int          `json:"waitTime"`
	PromoCode  PromoCode    `json:"promoCode"`
}

type ActionStep struct {
	Name      string   `json:"name"`
	Selectors []string `json:"selectors"`
	Type      string   `json:"type"`
	WaitAfter int      `json:"waitAfter"`
	Event     string   `json:"event"`
}

type PromoCode struct {
	ElementAlert string `json:"elementAlert"`
	ValidText    string `json:"validText"`
}

// ToSiteActions converts a catalog record into descriptor form, filling defaults.
func ToSiteActions(site entity.SiteConfig) SiteActions {
	cfg := site.Config
	steps := make([]ActionStep, 0, len(cfg.Actions))
	for _, a := range cfg.Actions {
		kind, _ := constants.CanonicalizeAction(a.Type)
		selectors := a.Selectors
		if selectors == nil {
			selectors = []string{}
		}
		wait := a.WaitAfter
		if wait <= 0 {
			wait = defaultWaitAfter
		}
		steps = append(steps, ActionStep{
			Name:      a.Name,
			Selectors: selectors,
			Type:      string(kind),
			WaitAfter: wait,
			Event:     a.Event,
		})
	}
	wait := cfg.WaitTime
	if wait <= 0 {
		wait = defaultSiteWait
	}
	return SiteActions{
		BaseURL:    cfg.BaseURL,
		ProductURL: cfg.ProductURL,
		Actions:    steps,
		WaitTime:   wait,
		PromoCode: PromoCode{
			ElementAlert: cfg.CodeValidation.Element,
			ValidText:    cfg.CodeValidation.ValidText,
		},
	}
}

// BuildActions builds a fresh descriptor from catalog records. Records without a
// domain are skipped; a later record for a domain replaces an earlier one.
func BuildActions(sites []entity.SiteConfig, defaultWait int) *ActionsFile {
	if defaultWait <= 0 {
		defaultWait = DefaultWaitTime
	}
	out := &ActionsFile{DefaultWaitTime: defaultWait, Sites: make(map[string]SiteActions, len(sites))}
	MergeActions(out, sites)
	return out
}

// MergeActions adds or replaces the given sites in an existing descriptor.
func MergeActions(file *ActionsFile, sites []entity.SiteConfig) {
	if file.Sites == nil {
		file.Sites = map[string]SiteActions{}
	}
	for _, s := range sites {
		if s.StoreDomain == "" {
			continue
		}
		file.Sites[s.StoreDomain] = ToSiteActions(s)
	}
}

// LoadActionsFile reads a descriptor. A missing file yields an empty descriptor.
func LoadActionsFile(path string) (*ActionsFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ActionsFile{DefaultWaitTime: DefaultWaitTime, Sites: map[string]SiteActions{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var f ActionsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if f.Sites == nil {
		f.Sites = map[string]SiteActions{}
	}
	return &f, nil
}

// WriteActionsFile replaces path atomically.
func WriteActionsFile(path string, f *ActionsFile) error {
	return utils.WriteJSONFile(path, f)
}
