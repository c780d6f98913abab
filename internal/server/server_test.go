package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startServer(t *testing.T) (*Server, healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := New(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn), cancel, done
}

func checkStatus(c healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestServer_HealthServing(t *testing.T) {
	t.Parallel()

	srv, client, cancel, done := startServer(t)
	assert.Eventually(t, func() bool {
		return checkStatus(client) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	srv.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(client))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

type flakyPinger struct{ fail atomic.Bool }

func (p *flakyPinger) HealthCheck(context.Context, time.Duration) error {
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestServer_WatchDependency(t *testing.T) {
	t.Parallel()

	srv, client, cancel, _ := startServer(t)
	defer cancel()

	require.Eventually(t, func() bool {
		return checkStatus(client) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	p := &flakyPinger{}
	p.fail.Store(true)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go srv.WatchDependency(watchCtx, "ledger", p, 10*time.Millisecond, time.Second)

	assert.Eventually(t, func() bool {
		return checkStatus(client) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)

	p.fail.Store(false)
	assert.Eventually(t, func() bool {
		return checkStatus(client) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)
}

func TestConnectDB_SQLite(t *testing.T) {
	t.Parallel()

	db, err := ConnectDB(context.Background(), common.DatabaseConfig{DSN: "sqlite://:memory:"}, quietLogger())
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, PingDB(context.Background(), db, quietLogger(), time.Second))
}
