package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportEntry is one confirmed-valid code.
type ReportEntry struct {
	Code string `json:"code"`
	Site string `json:"site"`
}

// Summary counts resolved tasks, not distinct codes. Total is the number of tasks
// that reached an outcome and Planned is the number of input codes, so
// Valid+Invalid+Failed == Total. A code listed twice and valid both times adds 2 to
// Valid while Report.Entries holds it once.
type Summary struct {
	Planned     int     `json:"planned"`
	Total       int     `json:"total"`
	Valid       int     `json:"valid"`
	Invalid     int     `json:"invalid"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Rate formats the success rate with one decimal, e.g. "33.3%".
func (s Summary) Rate() string {
	return fmt.Sprintf("%.1f%%", s.SuccessRate)
}

func (s Summary) String() string {
	return fmt.Sprintf("%d valid of %d (%s)", s.Valid, s.Total, s.Rate())
}

// Report is the aggregate of one run. It is written after every batch and once more
// at the end; Entries keeps batch-resolution order.
type Report struct {
	RunID            uuid.UUID     `json:"run_id"`
	Site             string        `json:"site"`
	Entries          []ReportEntry `json:"entries"`
	Unpersisted      []ReportEntry `json:"unpersisted,omitempty"`
	Summary          Summary       `json:"summary"`
	BatchesCompleted int           `json:"batches_completed"`
	BatchesTotal     int           `json:"batches_total"`
	Canceled         bool          `json:"canceled"`
	Final            bool          `json:"final"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// Codes returns the valid codes in report order.
func (r *Report) Codes() []string {
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Code)
	}
	return out
}
