package entity

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Task is one (code, site) pair scheduled for validation. Workspace is assigned by the
// scheduler before launch and owned by this task alone until its outcome is recorded.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	RunID      uuid.UUID       `json:"run_id"`
	Code       string          `json:"code"`
	Site       string          `json:"site"`
	BatchIndex int             `json:"batch_index"`
	Position   int             `json:"position"`
	Workspace  string          `json:"workspace"`
	SiteConfig json.RawMessage `json:"-"`
}

// TaskOutcome is a recorded outcome as stored in the run ledger.
type TaskOutcome struct {
	RunID      uuid.UUID `json:"run_id"`
	TaskID     uuid.UUID `json:"task_id"`
	BatchIndex int       `json:"batch_index"`
	Position   int       `json:"position"`
	Code       string    `json:"code"`
	Outcome    Outcome   `json:"outcome"`
}
