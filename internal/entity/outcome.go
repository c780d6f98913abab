package entity

import (
	"fmt"
	"time"

	"github.com/VerdantVibes/coupon-scraper/constants"
)

// Outcome is the terminal classification of a task: VALID carries the artifact
// timestamp and logs, FAILED carries a reason, INVALID carries nothing.
type Outcome struct {
	Status    constants.OutcomeStatus `json:"status"`
	Timestamp time.Time               `json:"timestamp,omitzero"`
	Logs      []string                `json:"logs,omitempty"`
	Reason    constants.FailureReason `json:"reason,omitempty"`
	Detail    string                  `json:"detail,omitempty"`
	ExitCode  int                     `json:"exit_code,omitempty"`
	Duration  time.Duration           `json:"duration_ns,omitempty"`
}

func Valid(ts time.Time, logs []string) Outcome {
	return Outcome{Status: constants.OutcomeValid, Timestamp: ts.UTC(), Logs: logs}
}

func Invalid() Outcome {
	return Outcome{Status: constants.OutcomeInvalid}
}

func Failed(reason constants.FailureReason, detail string) Outcome {
	return Outcome{Status: constants.OutcomeFailed, Reason: reason, Detail: detail}
}

func (o Outcome) IsValid() bool  { return o.Status == constants.OutcomeValid }
func (o Outcome) IsFailed() bool { return o.Status == constants.OutcomeFailed }

func (o Outcome) String() string {
	switch o.Status {
	case constants.OutcomeValid:
		return fmt.Sprintf("VALID at %s", o.Timestamp.Format(time.RFC3339))
	case constants.OutcomeFailed:
		if o.Detail != "" {
			return fmt.Sprintf("FAILED(%s): %s", o.Reason, o.Detail)
		}
		return fmt.Sprintf("FAILED(%s)", o.Reason)
	default:
		return string(o.Status)
	}
}
