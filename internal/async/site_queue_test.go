package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type processorFunc func(ctx context.Context, site string, explicit []string) (*entity.Report, error)

func (f processorFunc) ProcessSite(ctx context.Context, site string, explicit []string) (*entity.Report, error) {
	return f(ctx, site, explicit)
}

func okReport(site string) *entity.Report {
	return &entity.Report{Site: site, Final: true}
}

func TestSiteQueue_ProcessesEveryJob(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string][]string{}
	proc := processorFunc(func(_ context.Context, site string, codes []string) (*entity.Report, error) {
		mu.Lock()
		seen[site] = codes
		mu.Unlock()
		return okReport(site), nil
	})
	q := NewSiteQueue(proc, quietLogger(), WithWorkers(2), WithSiteDelay(0))

	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "a.example", Codes: []string{"X"}}))
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "b.example"}))
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "c.example"}))
	q.Shutdown(context.Background())

	assert.Len(t, seen, 3)
	assert.Equal(t, []string{"X"}, seen["a.example"])
	assert.Nil(t, seen["b.example"])
	assert.Equal(t, 0, q.Pending())
}

func TestSiteQueue_SkipsPendingSite(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	proc := processorFunc(func(_ context.Context, site string, _ []string) (*entity.Report, error) {
		calls.Add(1)
		<-release
		return okReport(site), nil
	})
	q := NewSiteQueue(proc, quietLogger(), WithSiteDelay(0))

	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "shop.example"}))
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "SHOP.example "}))
	assert.Equal(t, 1, q.Pending())
	// explicit codes always run
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "shop.example", Codes: []string{"A"}}))

	close(release)
	q.Shutdown(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestSiteQueue_HookSeesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("no candidates")
	proc := processorFunc(func(_ context.Context, site string, _ []string) (*entity.Report, error) {
		if site == "bad.example" {
			return okReport(site), boom
		}
		return okReport(site), nil
	})
	var mu sync.Mutex
	results := map[string]error{}
	hook := func(job SiteJob, _ *entity.Report, err error) {
		mu.Lock()
		results[job.Site] = err
		mu.Unlock()
	}
	q := NewSiteQueue(proc, quietLogger(), WithSiteDelay(0), WithReportHook(hook))

	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "bad.example"}))
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "good.example"}))
	q.Shutdown(context.Background())

	assert.ErrorIs(t, results["bad.example"], boom)
	assert.NoError(t, results["good.example"])
}

func TestSiteQueue_SiteDelayPacesWorker(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var starts []time.Time
	proc := processorFunc(func(_ context.Context, site string, _ []string) (*entity.Report, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return okReport(site), nil
	})
	q := NewSiteQueue(proc, quietLogger(), WithWorkers(1), WithSiteDelay(50*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "a.example"}))
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "b.example"}))
	q.Shutdown(context.Background())

	require.Len(t, starts, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 50*time.Millisecond)
}

func TestSiteQueue_ProcessTimeout(t *testing.T) {
	t.Parallel()

	var gotErr error
	proc := processorFunc(func(ctx context.Context, site string, _ []string) (*entity.Report, error) {
		<-ctx.Done()
		return okReport(site), ctx.Err()
	})
	hook := func(_ SiteJob, _ *entity.Report, err error) { gotErr = err }
	q := NewSiteQueue(proc, quietLogger(), WithSiteDelay(0), WithProcessTimeout(20*time.Millisecond), WithReportHook(hook))

	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "slow.example"}))
	q.Shutdown(context.Background())
	assert.ErrorIs(t, gotErr, context.DeadlineExceeded)
}

func TestSiteQueue_ShutdownCancelsRunningSites(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, site string, _ []string) (*entity.Report, error) {
		close(started)
		<-ctx.Done()
		return okReport(site), ctx.Err()
	})
	q := NewSiteQueue(proc, quietLogger(), WithSiteDelay(0))
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "slow.example"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	err := q.Enqueue(context.Background(), SiteJob{Site: "late.example"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestSiteQueue_EnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	proc := processorFunc(func(_ context.Context, site string, _ []string) (*entity.Report, error) {
		started <- struct{}{}
		<-release
		return okReport(site), nil
	})
	q := NewSiteQueue(proc, quietLogger(), WithWorkers(1), WithQueueSize(1), WithSiteDelay(0))

	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "a.example"}))
	<-started
	require.NoError(t, q.Enqueue(context.Background(), SiteJob{Site: "b.example"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, SiteJob{Site: "c.example"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, q.Pending())

	close(release)
	q.Shutdown(context.Background())
}
