package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

// switchPinger отвечает ошибкой, пока fail=true.
type switchPinger struct {
	fail atomic.Bool
}

func (p *switchPinger) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("db down")
	}

	return nil
}

func startServer(t *testing.T, p Pinger) (*Server, healthpb.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(p, Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: time.Second,
	})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return srv, healthpb.NewHealthClient(conn)
}

func healthStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)

	return resp.GetStatus()
}

func TestHealth_NotServingUntilFirstCheck(t *testing.T) {
	_, c := startServer(t, &switchPinger{})

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, c, ServiceName))
}

func TestHealth_FollowsStorage(t *testing.T) {
	p := &switchPinger{}
	srv, c := startServer(t, p)

	require.True(t, srv.Check(context.Background(), time.Second))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ServiceName))

	p.fail.Store(true)
	require.False(t, srv.Check(context.Background(), time.Second))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, c, ServiceName))
}

func TestHealth_WatchUpdatesPeriodically(t *testing.T) {
	p := &switchPinger{}
	srv, c := startServer(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Watch(ctx, 10*time.Millisecond, time.Second)

	require.Eventually(t, func() bool {
		return healthStatus(t, c, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	p.fail.Store(true)

	require.Eventually(t, func() bool {
		return healthStatus(t, c, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_ZeroPeriodReturns(t *testing.T) {
	srv := NewServer(&switchPinger{}, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	done := make(chan struct{})
	go func() {
		srv.Watch(context.Background(), 0, time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch with zero period must return immediately")
	}
}
