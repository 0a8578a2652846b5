package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/neetlogiq/datapack/internal/manifest"
)

// flakySource fails the first n Initialize calls.
type flakySource struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakySource) Initialize(context.Context) (*manifest.Manifest, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("manifest not published")
	}
	return &manifest.Manifest{Version: manifest.InitialVersion}, nil
}

func dial(t *testing.T, s *Server) grpc_health_v1.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.Serve(lis)
	t.Cleanup(func() { s.Close() })

	conn, err := gogrpc.NewClient("passthrough:///bufnet",
		gogrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_ServingAfterManifestLoads(t *testing.T) {
	src := &flakySource{failures: 2}
	s := NewServer(src, zaptest.NewLogger(t), 10*time.Millisecond)
	client := dial(t, s)

	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ""))
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	s.Watch(context.Background())
	require.EqualValues(t, 3, src.calls.Load())
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ServiceName))
}

func TestServer_WatchStopsOnCancel(t *testing.T) {
	src := &flakySource{failures: 1 << 30}
	s := NewServer(src, zaptest.NewLogger(t), time.Millisecond)
	client := dial(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Watch(ctx)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))
}
