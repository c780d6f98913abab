package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
)

// Run is a row of the run ledger.
type Run struct {
	ID         uuid.UUID           `json:"id"`
	Site       string              `json:"site"`
	Status     constants.RunStatus `json:"status"`
	Planned    int                 `json:"planned"`
	Total      int                 `json:"total"`
	Valid      int                 `json:"valid"`
	Invalid    int                 `json:"invalid"`
	Failed     int                 `json:"failed"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// ResultRecord is what gets sent to the persistence endpoint for a valid code.
type ResultRecord struct {
	Site      string `json:"site"`
	Code      string `json:"code"`
	Valid     bool   `json:"valid"`
	Timestamp string `json:"timestamp"`
}

// CandidateList is a cached list of candidate codes for a site.
type CandidateList struct {
	Site      string    `json:"site"`
	Codes     []string  `json:"codes"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}
