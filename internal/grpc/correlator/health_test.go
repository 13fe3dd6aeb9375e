package correlator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

func status(t *testing.T, m *HealthMonitor, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.server.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthMonitor_FollowsChecks(t *testing.T) {
	var redisDown atomic.Bool
	m := NewHealthMonitor(map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis": func(context.Context) error {
			if redisDown.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	}, time.Second, logger.Nop())

	assert.True(t, m.Probe(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, m, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, m, ServiceName))

	redisDown.Store(true)
	assert.False(t, m.Probe(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(t, m, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(t, m, ServiceName))

	redisDown.Store(false)
	assert.True(t, m.Probe(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, m, ""))
}

func TestHealthMonitor_RunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	var probes atomic.Int32
	m := NewHealthMonitor(map[string]func(context.Context) error{
		"nats": func(context.Context) error { probes.Add(1); return nil },
	}, 10*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	m.Shutdown()
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(t, m, ""))
}
