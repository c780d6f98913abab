package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

type span struct {
	batch      int
	start, end time.Time
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls []entity.Task
	spans []span
	fn    func(ctx context.Context, task entity.Task) entity.Outcome
}

func (f *fakeInvoker) Invoke(ctx context.Context, task entity.Task) entity.Outcome {
	start := time.Now()
	f.mu.Lock()
	f.calls = append(f.calls, task)
	f.mu.Unlock()

	out := entity.Invalid()
	if f.fn != nil {
		out = f.fn(ctx, task)
	}

	f.mu.Lock()
	f.spans = append(f.spans, span{batch: task.BatchIndex, start: start, end: time.Now()})
	f.mu.Unlock()
	return out
}

func (f *fakeInvoker) codes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Code)
	}
	return out
}

type fallbackFunc func(ctx context.Context, site string) ([]string, error)

func (f fallbackFunc) Candidates(ctx context.Context, site string) ([]string, error) {
	return f(ctx, site)
}

type persisterFunc func(ctx context.Context, rec entity.ResultRecord) error

func (f persisterFunc) Persist(ctx context.Context, rec entity.ResultRecord) error {
	return f(ctx, rec)
}

type countingSink struct{ writes atomic.Int32 }

func (s *countingSink) Write(context.Context, *entity.Report) error {
	s.writes.Add(1)
	return nil
}

var ts = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func validFor(codes ...string) func(context.Context, entity.Task) entity.Outcome {
	set := map[string]bool{}
	for _, c := range codes {
		set[c] = true
	}
	return func(_ context.Context, task entity.Task) entity.Outcome {
		if set[task.Code] {
			return entity.Valid(ts, []string{"accepted"})
		}
		return entity.Invalid()
	}
}

func codesN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("CODE%d", i)
	}
	return out
}

func TestPartition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		codes []string
		k     int
		want  [][]string
	}{
		{name: "three codes K=2", codes: []string{"A", "B", "C"}, k: 2, want: [][]string{{"A", "B"}, {"C"}}},
		{name: "k of one", codes: []string{"A", "B"}, k: 1, want: [][]string{{"A"}, {"B"}}},
		{name: "k larger than input", codes: []string{"A", "B"}, k: 5, want: [][]string{{"A", "B"}}},
		{name: "exact multiple", codes: []string{"A", "B", "C", "D"}, k: 2, want: [][]string{{"A", "B"}, {"C", "D"}}},
		{name: "empty", codes: nil, k: 3, want: [][]string{}},
		{name: "k below one treated as one", codes: []string{"A", "B"}, k: 0, want: [][]string{{"A"}, {"B"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Partition(tt.codes, tt.k))
		})
	}
}

func TestScheduler_OneInvocationPerCodeDistinctWorkspaces(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 7} {
		for _, k := range []int{1, 2, 3, 10} {
			t.Run(fmt.Sprintf("n=%d/k=%d", n, k), func(t *testing.T) {
				t.Parallel()

				inv := &fakeInvoker{}
				s := New(inv, WithConcurrency(k), WithWorkspaceRoot(t.TempDir()))
				report, err := s.Run(context.Background(), Request{Site: "example.com", Codes: codesN(n)})
				require.NoError(t, err)

				require.Len(t, inv.calls, n)
				seen := map[string]bool{}
				for _, c := range inv.calls {
					require.NotEmpty(t, c.Workspace)
					assert.False(t, seen[c.Workspace], "workspace reused: %s", c.Workspace)
					seen[c.Workspace] = true
				}
				assert.ElementsMatch(t, codesN(n), inv.codes())
				assert.Equal(t, n, report.Summary.Total)
				assert.Equal(t, (n+k-1)/k, report.BatchesCompleted)
			})
		}
	}
}

func TestScheduler_BatchBarrier(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{fn: func(_ context.Context, task entity.Task) entity.Outcome {
		// Uneven durations so a pipelined scheduler would overlap batches.
		time.Sleep(time.Duration(10+(task.Position%3)*25) * time.Millisecond)
		return entity.Invalid()
	}}
	s := New(inv, WithConcurrency(3), WithWorkspaceRoot(t.TempDir()))
	_, err := s.Run(context.Background(), Request{Site: "example.com", Codes: codesN(10)})
	require.NoError(t, err)

	lastEnd := map[int]time.Time{}
	firstStart := map[int]time.Time{}
	for _, sp := range inv.spans {
		if sp.end.After(lastEnd[sp.batch]) {
			lastEnd[sp.batch] = sp.end
		}
		if fs, ok := firstStart[sp.batch]; !ok || sp.start.Before(fs) {
			firstStart[sp.batch] = sp.start
		}
	}
	require.Len(t, lastEnd, 4)
	for b := 0; b < 3; b++ {
		assert.False(t, firstStart[b+1].Before(lastEnd[b]), "batch %d started before batch %d finished", b+1, b)
	}
}

func TestScheduler_DuplicateCodesDoNotShareWorkspace(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{fn: func(_ context.Context, task entity.Task) entity.Outcome {
		entries, err := os.ReadDir(task.Workspace)
		if err != nil || len(entries) != 0 {
			return entity.Failed(constants.ReasonArtifactUnparsable, "workspace not empty at start")
		}
		marker := filepath.Join(task.Workspace, "owner")
		if err := os.WriteFile(marker, []byte(task.ID.String()), 0o644); err != nil {
			return entity.Failed(constants.ReasonArtifactMissing, err.Error())
		}
		time.Sleep(20 * time.Millisecond)
		b, err := os.ReadFile(marker)
		if err != nil || string(b) != task.ID.String() {
			return entity.Failed(constants.ReasonArtifactUnparsable, "foreign marker")
		}
		return entity.Valid(ts, nil)
	}}
	s := New(inv, WithConcurrency(4), WithWorkspaceRoot(t.TempDir()))
	report, err := s.Run(context.Background(), Request{Site: "example.com", Codes: []string{"SAME", "SAME", "SAME", "SAME"}})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Summary.Valid)
	assert.Equal(t, 0, report.Summary.Failed)
	assert.Equal(t, []entity.ReportEntry{{Code: "SAME", Site: "example.com"}}, report.Entries)
}

func TestScheduler_ABCScenario(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{fn: validFor("B")}
	s := New(inv, WithConcurrency(2), WithWorkspaceRoot(t.TempDir()))
	report, err := s.Run(context.Background(), Request{Site: "example.com", Codes: []string{"A", "B", "C"}})
	require.NoError(t, err)

	assert.Len(t, inv.calls, 3)
	batches := map[string]int{}
	for _, c := range inv.calls {
		batches[c.Code] = c.BatchIndex
	}
	assert.Equal(t, map[string]int{"A": 0, "B": 0, "C": 1}, batches)

	assert.Equal(t, []entity.ReportEntry{{Code: "B", Site: "example.com"}}, report.Entries)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Valid)
	assert.Equal(t, "33.3%", report.Summary.Rate())
	assert.Equal(t, 2, report.BatchesTotal)
	assert.True(t, report.Final)
	assert.False(t, report.Canceled)
}

func TestScheduler_EmptyWithoutCache(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "runs")
	inv := &fakeInvoker{}
	s := New(inv, WithWorkspaceRoot(root))
	report, err := s.Run(context.Background(), Request{Site: "example.com"})
	require.NoError(t, err)

	assert.Empty(t, inv.calls)
	assert.Empty(t, report.Entries)
	assert.Equal(t, 0, report.Summary.Total)
	assert.NoDirExists(t, root)
}

func TestScheduler_EmptyUsesFallback(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{fn: validFor("CACHED2")}
	s := New(inv,
		WithWorkspaceRoot(t.TempDir()),
		WithFallback(fallbackFunc(func(_ context.Context, site string) ([]string, error) {
			assert.Equal(t, "example.com", site)
			return []string{"CACHED1", "CACHED2"}, nil
		})))
	report, err := s.Run(context.Background(), Request{Site: "example.com"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"CACHED1", "CACHED2"}, inv.codes())
	assert.Equal(t, []string{"CACHED2"}, report.Codes())
}

func TestScheduler_EmptyFallbackMissingIsEmptyRun(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	s := New(inv,
		WithWorkspaceRoot(t.TempDir()),
		WithFallback(fallbackFunc(func(context.Context, string) ([]string, error) { return nil, nil })))
	report, err := s.Run(context.Background(), Request{Site: "example.com"})
	require.NoError(t, err)
	assert.Empty(t, inv.calls)
	assert.Empty(t, report.Entries)
}

func TestScheduler_FallbackFailureIsFatal(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{}
	s := New(inv,
		WithWorkspaceRoot(t.TempDir()),
		WithFallback(fallbackFunc(func(context.Context, string) ([]string, error) {
			return nil, fmt.Errorf("%w: search down, cache empty", common.ErrNoCandidates)
		})))
	report, err := s.Run(context.Background(), Request{Site: "example.com"})
	require.ErrorIs(t, err, common.ErrNoCandidates)
	require.NotNil(t, report)
	assert.Empty(t, inv.calls)
}

func TestScheduler_TaskFailuresDoNotAbortRun(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{fn: func(_ context.Context, task entity.Task) entity.Outcome {
		switch task.Code {
		case "EXIT":
			return entity.Failed(constants.ReasonNonZeroExit, "exit status 1")
		case "SLOW":
			return entity.Failed(constants.ReasonTimeout, "exceeded 1s")
		case "GONE":
			return entity.Failed(constants.ReasonArtifactMissing, "artifact missing")
		case "JUNK":
			return entity.Failed(constants.ReasonArtifactUnparsable, "artifact unparsable")
		case "PANIC":
			panic("validator crashed")
		default:
			return entity.Valid(ts, nil)
		}
	}}
	s := New(inv, WithConcurrency(2), WithWorkspaceRoot(t.TempDir()))
	report, err := s.Run(context.Background(), Request{
		Site:  "example.com",
		Codes: []string{"EXIT", "OK1", "SLOW", "GONE", "PANIC", "JUNK", "OK2"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"OK1", "OK2"}, report.Codes())
	assert.Equal(t, 7, report.Summary.Total)
	assert.Equal(t, 5, report.Summary.Failed)
	assert.Equal(t, 4, report.BatchesCompleted)
}

func TestScheduler_CancellationReturnsPartialReport(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{fn: func(ctx context.Context, task entity.Task) entity.Outcome {
		if task.Position == 0 {
			return entity.Valid(ts, nil)
		}
		cancel()
		<-ctx.Done()
		return entity.Failed(constants.ReasonCanceled, "run canceled")
	}}
	s := New(inv, WithConcurrency(1), WithWorkspaceRoot(t.TempDir()))
	report, err := s.Run(ctx, Request{Site: "example.com", Codes: codesN(5)})

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Canceled)
	assert.True(t, report.Final)
	assert.Len(t, inv.calls, 2)
	assert.Equal(t, []string{"CODE0"}, report.Codes())
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 5, report.Summary.Planned)
}

func TestScheduler_CancelAfterLastBatchIsComplete(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var resolved atomic.Int32
	inv := &fakeInvoker{fn: func(_ context.Context, task entity.Task) entity.Outcome {
		if resolved.Add(1) == 2 {
			cancel()
		}
		return entity.Valid(ts, nil)
	}}
	s := New(inv, WithConcurrency(2), WithWorkspaceRoot(t.TempDir()))
	report, err := s.Run(ctx, Request{Site: "example.com", Codes: []string{"A", "B"}})

	require.NoError(t, err)
	assert.False(t, report.Canceled)
	assert.Equal(t, 1, report.BatchesCompleted)
	assert.ElementsMatch(t, []string{"A", "B"}, report.Codes())
}

func TestScheduler_PersistenceFailureKeepsValid(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	inv := &fakeInvoker{fn: validFor("B")}
	s := New(inv,
		WithConcurrency(2),
		WithWorkspaceRoot(t.TempDir()),
		WithPersister(persisterFunc(func(context.Context, entity.ResultRecord) error {
			attempts.Add(1)
			return errors.New("connection refused")
		})))
	report, err := s.Run(context.Background(), Request{Site: "example.com", Codes: []string{"A", "B", "C"}})
	require.NoError(t, err)

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, []string{"B"}, report.Codes())
	assert.Equal(t, 1, report.Summary.Valid)
}

func TestScheduler_CheckpointsEveryBatch(t *testing.T) {
	t.Parallel()

	sink := &countingSink{}
	s := New(&fakeInvoker{}, WithConcurrency(2), WithWorkspaceRoot(t.TempDir()), WithSink(sink))
	_, err := s.Run(context.Background(), Request{Site: "example.com", Codes: codesN(5)})
	require.NoError(t, err)

	// three batch checkpoints plus the final report
	assert.Equal(t, int32(4), sink.writes.Load())
}

func TestScheduler_BatchDelay(t *testing.T) {
	t.Parallel()

	s := New(&fakeInvoker{}, WithConcurrency(1), WithBatchDelay(40*time.Millisecond), WithWorkspaceRoot(t.TempDir()))
	start := time.Now()
	_, err := s.Run(context.Background(), Request{Site: "example.com", Codes: codesN(3)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestScheduler_WorkspacesReleased(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s := New(&fakeInvoker{}, WithConcurrency(2), WithWorkspaceRoot(root))
	report, err := s.Run(context.Background(), Request{Site: "example.com", Codes: codesN(3)})
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(root, report.RunID.String()))
}
