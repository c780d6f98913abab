package entity

import "encoding/json"

// SiteConfig is one record of the site catalog.
type SiteConfig struct {
	StoreID     int          `json:"store_id,omitempty" yaml:"store_id,omitempty"`
	StoreDomain string       `json:"store_domain" yaml:"store_domain"`
	Config      SiteSettings `json:"config" yaml:"config"`
}

// SiteSettings drive the browser automation for a site.
type SiteSettings struct {
	Type           string         `json:"type,omitempty" yaml:"type,omitempty"`
	BaseURL        string         `json:"baseUrl" yaml:"baseUrl"`
	ProductURL     string         `json:"productUrl" yaml:"productUrl"`
	Actions        []SiteAction   `json:"actions" yaml:"actions"`
	WaitTime       int            `json:"waitTime,omitempty" yaml:"waitTime,omitempty"`
	CodeValidation CodeValidation `json:"codeValidation" yaml:"codeValidation"`
}

type SiteAction struct {
	Name      string   `json:"name" yaml:"name"`
	Selectors []string `json:"selectors" yaml:"selectors"`
	Type      string   `json:"type" yaml:"type"`
	WaitAfter int      `json:"waitAfter,omitempty" yaml:"waitAfter,omitempty"`
	Event     string   `json:"event,omitempty" yaml:"event,omitempty"`
}

type CodeValidation struct {
	Element   string `json:"element" yaml:"element"`
	ValidText string `json:"validText" yaml:"validText"`
}

// HasSettings reports whether the catalog carried anything beyond the domain.
func (s SiteConfig) HasSettings() bool {
	return s.Config.BaseURL != "" || len(s.Config.Actions) > 0
}

// SettingsJSON is the --config override handed to the validation tool.
func (s SiteConfig) SettingsJSON() (json.RawMessage, error) {
	if !s.HasSettings() {
		return nil, nil
	}
	return json.Marshal(s.Config)
}
