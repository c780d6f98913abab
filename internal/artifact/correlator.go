package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/workspace"
)

const maxArtifactBytes = 8 << 20

var ErrUnparsable = errors.New("artifact unparsable")

// Result is the decoded result.json of one task.
type Result struct {
	CouponIsValid bool
	Timestamp     time.Time
	Logs          []string
}

type rawResult struct {
	CouponIsValid *bool             `json:"couponIsValid"`
	Timestamp     string            `json:"timestamp"`
	Logs          []json.RawMessage `json:"logs"`
}

type logEntry struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Correlator reads the artifact at the task's own workspace path. It never lists
// directories, so concurrent tasks cannot see each other's output.
type Correlator struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewCorrelator(logger *slog.Logger) (*Correlator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileSchema(resultSchema())
	if err != nil {
		return nil, err
	}
	return &Correlator{schema: schema, logger: logger}, nil
}

// Correlate classifies the workspace artifact:
// missing -> FAILED(ARTIFACT_MISSING), malformed -> FAILED(ARTIFACT_UNPARSABLE),
// couponIsValid false -> INVALID, true -> VALID{timestamp, logs}.
func (c *Correlator) Correlate(_ context.Context, ws string) entity.Outcome {
	path := workspace.ArtifactPath(ws)

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("artifact.stat_failed", "path", path, "error", err)
		}
		return entity.Failed(constants.ReasonArtifactMissing, "artifact missing")
	}
	if !info.Mode().IsRegular() || info.Size() > maxArtifactBytes {
		c.logger.Warn("artifact.rejected", "path", path, "size", info.Size(), "mode", info.Mode().String())
		return entity.Failed(constants.ReasonArtifactUnparsable, "artifact unparsable")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("artifact.read_failed", "path", path, "error", err)
		return entity.Failed(constants.ReasonArtifactMissing, "artifact missing")
	}

	res, err := c.Parse(data, info.ModTime())
	if err != nil {
		c.logger.Warn("artifact.unparsable", "path", path, "error", err, "bytes", len(data))
		return entity.Failed(constants.ReasonArtifactUnparsable, "artifact unparsable")
	}
	if !res.CouponIsValid {
		return entity.Invalid()
	}
	return entity.Valid(res.Timestamp, res.Logs)
}

// Parse validates and decodes an artifact. fallback is used as the timestamp when
// neither the artifact nor its log entries carry one.
func (c *Correlator) Parse(data []byte, fallback time.Time) (Result, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if err := c.schema.Validate(v); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if raw.CouponIsValid == nil {
		return Result{}, fmt.Errorf("%w: couponIsValid missing", ErrUnparsable)
	}

	out := Result{CouponIsValid: *raw.CouponIsValid, Logs: make([]string, 0, len(raw.Logs))}
	var lastLogTS time.Time
	for _, l := range raw.Logs {
		var s string
		if err := json.Unmarshal(l, &s); err == nil {
			out.Logs = append(out.Logs, s)
			continue
		}
		var e logEntry
		if err := json.Unmarshal(l, &e); err != nil {
			return Result{}, fmt.Errorf("%w: log entry: %v", ErrUnparsable, err)
		}
		if e.Type != "" {
			out.Logs = append(out.Logs, "["+e.Type+"] "+e.Message)
		} else {
			out.Logs = append(out.Logs, e.Message)
		}
		if ts, err := parseTime(e.Timestamp); err == nil {
			lastLogTS = ts
		}
	}

	switch {
	case strings.TrimSpace(raw.Timestamp) != "":
		ts, err := parseTime(raw.Timestamp)
		if err != nil {
			return Result{}, fmt.Errorf("%w: timestamp: %v", ErrUnparsable, err)
		}
		out.Timestamp = ts
	case !lastLogTS.IsZero():
		out.Timestamp = lastLogTS
	default:
		out.Timestamp = fallback.UTC()
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}
