package correlator

import (
	"context"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// ServiceName is the name orchestrators probe for the correlator
const ServiceName = "correlator.v1.CorrelationService"

// HealthMonitor keeps the gRPC health status in line with dependency checks
type HealthMonitor struct {
	server   *health.Server
	checks   map[string]func(context.Context) error
	interval time.Duration
	logger   *logger.Logger
}

// NewHealthMonitor creates a monitor. Both the overall and the named service
// start as SERVING until the first probe says otherwise.
func NewHealthMonitor(checks map[string]func(context.Context) error, interval time.Duration, log *logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return &HealthMonitor{
		server:   hs,
		checks:   checks,
		interval: interval,
		logger:   log.WithComponent("grpc-health"),
	}
}

// Register registers the health service with a gRPC server
func (m *HealthMonitor) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, m.server)
}

// Run probes immediately and then on every interval until ctx is done
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs every check once and updates the serving status
func (m *HealthMonitor) Probe(ctx context.Context) bool {
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, m.interval/2)
		err := m.checks[name](checkCtx)
		cancel()
		if err != nil {
			healthy = false
			m.logger.Warn().Err(err).Str("check", name).Msg("dependency unhealthy")
		}
	}

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
	return healthy
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop
func (m *HealthMonitor) Shutdown() {
	m.server.Shutdown()
}
