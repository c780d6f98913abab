package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/catalog"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/report"
	"github.com/VerdantVibes/coupon-scraper/internal/repository"
	"github.com/VerdantVibes/coupon-scraper/internal/scheduler"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type resolverFunc func(ctx context.Context, site string, explicit []string) ([]string, error)

func (f resolverFunc) Resolve(ctx context.Context, site string, explicit []string) ([]string, error) {
	return f(ctx, site, explicit)
}

func passthrough(fallback ...string) resolverFunc {
	return func(_ context.Context, _ string, explicit []string) ([]string, error) {
		if len(explicit) > 0 {
			return explicit, nil
		}
		return fallback, nil
	}
}

type runnerFunc func(ctx context.Context, req scheduler.Request) (*entity.Report, error)

func (f runnerFunc) Run(ctx context.Context, req scheduler.Request) (*entity.Report, error) {
	return f(ctx, req)
}

// onlyValid reports VALID for the listed codes and INVALID for everything else.
type onlyValid struct {
	mu      sync.Mutex
	valid   map[string]bool
	configs []json.RawMessage
}

func (o *onlyValid) Invoke(_ context.Context, task entity.Task) entity.Outcome {
	o.mu.Lock()
	o.configs = append(o.configs, task.SiteConfig)
	o.mu.Unlock()
	if o.valid[task.Code] {
		return entity.Valid(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), []string{"applied " + task.Code})
	}
	return entity.Invalid()
}

type memLedger struct {
	mu       sync.Mutex
	created  []entity.Run
	finished map[uuid.UUID]constants.RunStatus
}

func (l *memLedger) Create(_ context.Context, run entity.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, run)
	return nil
}

func (l *memLedger) Finish(_ context.Context, id uuid.UUID, status constants.RunStatus, _ entity.Summary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished == nil {
		l.finished = map[uuid.UUID]constants.RunStatus{}
	}
	l.finished[id] = status
	return nil
}

func openLedger(t *testing.T) *repository.DB {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{DSN: "sqlite://:memory:"}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestProcessSite_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openLedger(t)
	runs := repository.NewRunRepository(db, quietLogger())
	outcomes := repository.NewOutcomeRepository(db, quietLogger())
	reportDir := t.TempDir()
	jsonSink := report.NewJSONSink(reportDir, false)

	inv := &onlyValid{valid: map[string]bool{"B": true}}
	sched := scheduler.New(inv,
		scheduler.WithConcurrency(2),
		scheduler.WithWorkspaceRoot(t.TempDir()),
		scheduler.WithSink(report.MultiSink{jsonSink, report.NewLedgerSink(runs)}),
		scheduler.WithLedger(outcomes),
		scheduler.WithLogger(quietLogger()),
	)
	sites := catalog.Static{{
		StoreDomain: "www.shop.example",
		Config:      entity.SiteSettings{BaseURL: "https://shop.example", ProductURL: "https://shop.example/p/1"},
	}}
	proc := NewProcessor(quietLogger(), passthrough(), sched, WithCatalog(sites), WithRunLedger(runs))

	rep, err := proc.ProcessSite(ctx, "shop.example", []string{"A", "B", "C"})
	require.NoError(t, err)

	assert.Equal(t, []entity.ReportEntry{{Code: "B", Site: "shop.example"}}, rep.Entries)
	assert.Equal(t, "1 valid of 3 (33.3%)", rep.Summary.String())
	assert.True(t, rep.Final)

	run, err := runs.Get(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Planned)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 1, run.Valid)
	assert.Equal(t, 2, run.Invalid)
	assert.NotNil(t, run.FinishedAt)

	recorded, err := outcomes.ListByRun(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, recorded, 3)
	assert.Equal(t, "A", recorded[0].Code)
	assert.Equal(t, constants.OutcomeValid, recorded[1].Outcome.Status)

	data, err := os.ReadFile(filepath.Join(reportDir, constants.ReportJSONFile))
	require.NoError(t, err)
	var onDisk entity.Report
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, []string{"B"}, onDisk.Codes())

	require.Len(t, inv.configs, 3)
	assert.JSONEq(t, `"https://shop.example"`, mustField(t, inv.configs[0], "baseUrl"))
}

func mustField(t *testing.T, raw json.RawMessage, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return string(m[key])
}

func TestProcessSite_ResolvedCandidates(t *testing.T) {
	t.Parallel()

	var got scheduler.Request
	runner := runnerFunc(func(_ context.Context, req scheduler.Request) (*entity.Report, error) {
		got = req
		return &entity.Report{RunID: req.RunID, Site: req.Site, Final: true}, nil
	})
	ledger := &memLedger{}
	proc := NewProcessor(quietLogger(), passthrough("X", "Y"), runner, WithRunLedger(ledger))

	rep, err := proc.ProcessSite(context.Background(), "  shop.example ", nil)
	require.NoError(t, err)
	assert.Equal(t, "shop.example", got.Site)
	assert.Equal(t, []string{"X", "Y"}, got.Codes)
	assert.Nil(t, got.SiteConfig)
	assert.Equal(t, rep.RunID, got.RunID)

	require.Len(t, ledger.created, 1)
	assert.Equal(t, 2, ledger.created[0].Planned)
	assert.Equal(t, constants.RunStatusRunning, ledger.created[0].Status)
}

func TestProcessSite_NoCandidates(t *testing.T) {
	t.Parallel()

	failing := resolverFunc(func(context.Context, string, []string) ([]string, error) {
		return nil, fmt.Errorf("%w: search down", common.ErrNoCandidates)
	})
	called := false
	runner := runnerFunc(func(context.Context, scheduler.Request) (*entity.Report, error) {
		called = true
		return nil, nil
	})
	ledger := &memLedger{}
	proc := NewProcessor(quietLogger(), failing, runner, WithRunLedger(ledger))

	rep, err := proc.ProcessSite(context.Background(), "shop.example", nil)
	require.ErrorIs(t, err, common.ErrNoCandidates)
	assert.False(t, called)
	require.NotNil(t, rep)
	assert.Empty(t, rep.Entries)
	assert.Equal(t, 0, rep.Summary.Total)

	require.Len(t, ledger.created, 1)
	assert.Equal(t, constants.RunStatusFailed, ledger.finished[rep.RunID])
}

func TestProcessSite_EmptySite(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(quietLogger(), passthrough(), runnerFunc(nil))
	rep, err := proc.ProcessSite(context.Background(), " ", []string{"A"})
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.NotNil(t, rep)
}

func TestProcessSite_RunnerFailureClosesRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("workspace root not writable")
	runner := runnerFunc(func(_ context.Context, req scheduler.Request) (*entity.Report, error) {
		return &entity.Report{RunID: req.RunID, Site: req.Site, Final: true}, boom
	})
	ledger := &memLedger{}
	proc := NewProcessor(quietLogger(), passthrough(), runner, WithRunLedger(ledger))

	rep, err := proc.ProcessSite(context.Background(), "shop.example", []string{"A"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, constants.RunStatusFailed, ledger.finished[rep.RunID])
}

func TestProcessSite_CancelLeavesRunToReport(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(_ context.Context, req scheduler.Request) (*entity.Report, error) {
		return &entity.Report{RunID: req.RunID, Site: req.Site, Final: true, Canceled: true}, context.Canceled
	})
	ledger := &memLedger{}
	proc := NewProcessor(quietLogger(), passthrough(), runner, WithRunLedger(ledger))

	rep, err := proc.ProcessSite(context.Background(), "shop.example", []string{"A"})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, rep.Canceled)
	_, finished := ledger.finished[rep.RunID]
	assert.False(t, finished)
}

func TestProcessSite_UnknownSiteUsesDefaults(t *testing.T) {
	t.Parallel()

	var got scheduler.Request
	runner := runnerFunc(func(_ context.Context, req scheduler.Request) (*entity.Report, error) {
		got = req
		return &entity.Report{RunID: req.RunID, Final: true}, nil
	})
	sites := catalog.Static{{StoreDomain: "other.example", Config: entity.SiteSettings{BaseURL: "https://other.example"}}}
	proc := NewProcessor(quietLogger(), passthrough(), runner, WithCatalog(sites))

	_, err := proc.ProcessSite(context.Background(), "shop.example", []string{"A"})
	require.NoError(t, err)
	assert.Nil(t, got.SiteConfig)
}
