package validator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// Correlator turns a finished task's workspace into an outcome.
type Correlator interface {
	Correlate(ctx context.Context, workspace string) entity.Outcome
}

// CorrelatorFunc adapts a function to Correlator.
type CorrelatorFunc func(ctx context.Context, workspace string) entity.Outcome

func (f CorrelatorFunc) Correlate(ctx context.Context, workspace string) entity.Outcome {
	return f(ctx, workspace)
}

// Config describes the tool launch. With Script set the command line is
// "<Command> <Script> --coupon=<code> --domain=<site> ...".
type Config struct {
	Command          string
	Script           string
	ExtraArgs        []string
	Env              []string
	Timeout          time.Duration
	KillGrace        time.Duration
	UsedOnProductURL bool
}

// Invoker runs the external validation tool for one task inside the task's workspace.
type Invoker struct {
	cfg        Config
	runner     Runner
	correlator Correlator
	logger     *slog.Logger
}

func NewInvoker(cfg Config, runner Runner, correlator Correlator, logger *slog.Logger) (*Invoker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner()
	}
	if correlator == nil {
		return nil, fmt.Errorf("correlator is required")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("validator command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	// The tool runs with the workspace as cwd, so relative paths must be pinned now.
	if strings.ContainsRune(cfg.Command, filepath.Separator) && !filepath.IsAbs(cfg.Command) {
		abs, err := filepath.Abs(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("resolve command: %w", err)
		}
		cfg.Command = abs
	}
	if cfg.Script != "" && !filepath.IsAbs(cfg.Script) {
		abs, err := filepath.Abs(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("resolve script: %w", err)
		}
		cfg.Script = abs
	}
	return &Invoker{cfg: cfg, runner: runner, correlator: correlator, logger: logger}, nil
}

// Timeout is the uniform per-task limit.
func (i *Invoker) Timeout() time.Duration { return i.cfg.Timeout }

// Args builds the tool arguments for a task.
func (i *Invoker) Args(task entity.Task) []string {
	args := make([]string, 0, 6+len(i.cfg.ExtraArgs))
	if i.cfg.Script != "" {
		args = append(args, i.cfg.Script)
	}
	args = append(args, "--coupon="+task.Code, "--domain="+task.Site)
	if len(task.SiteConfig) > 0 {
		args = append(args, "--config="+string(task.SiteConfig))
	}
	if i.cfg.UsedOnProductURL {
		args = append(args, "--used_on_product_url")
	}
	return append(args, i.cfg.ExtraArgs...)
}

// Invoke launches the tool and classifies the result. It never returns an error:
// every failure becomes a FAILED outcome local to the task.
func (i *Invoker) Invoke(ctx context.Context, task entity.Task) entity.Outcome {
	log := i.logger.With("task_id", task.ID, "code", task.Code, "site", task.Site, "batch", task.BatchIndex)
	if task.Workspace == "" {
		return entity.Failed(constants.ReasonSpawnFailure, "no workspace assigned")
	}

	cmd := Command{
		Name: i.cfg.Command,
		Args: i.Args(task),
		Dir:  task.Workspace,
		Env: append([]string{
			"COUPON_OUTPUT_DIR=" + filepath.Join(task.Workspace, constants.ArtifactDir),
			"NODE_OPTIONS=--max-old-space-size=4096",
		}, i.cfg.Env...),
		Timeout:   i.cfg.Timeout,
		KillGrace: i.cfg.KillGrace,
		LogPath:   filepath.Join(task.Workspace, constants.ValidatorLogFile),
	}

	res, err := i.runner.Run(ctx, cmd, log)
	out := i.classify(res, err)
	if out.Status == "" {
		out = i.correlator.Correlate(ctx, task.Workspace)
	}
	out.ExitCode = res.ExitCode
	out.Duration = res.Duration

	log.Debug("validator.invoke.done", "status", out.Status, "reason", out.Reason, "duration_ms", res.Duration.Milliseconds())
	return out
}

// classify maps a process result onto a FAILED outcome, or returns the zero Outcome
// when the tool ran to completion and the artifact decides.
func (i *Invoker) classify(res Result, err error) entity.Outcome {
	switch {
	case err != nil:
		return entity.Failed(constants.ReasonSpawnFailure, err.Error())
	case res.Canceled:
		return entity.Failed(constants.ReasonCanceled, "run canceled")
	case res.TimedOut:
		return entity.Failed(constants.ReasonTimeout, fmt.Sprintf("exceeded %s", i.cfg.Timeout))
	case res.ExitCode != 0:
		detail := fmt.Sprintf("exit status %d", res.ExitCode)
		if s := strings.TrimSpace(string(res.Stderr)); s != "" {
			detail += ": " + truncate(s, 512)
		}
		return entity.Failed(constants.ReasonNonZeroExit, detail)
	default:
		return entity.Outcome{}
	}
}
