package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/cache"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/database"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/database/repository"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/graph"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/memory"
	"github.com/harborgrid-justin/black-cross-sub000/internal/metrics"
	"github.com/harborgrid-justin/black-cross-sub000/internal/streaming"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// recordWriter loads records into whichever record store backs the app
type recordWriter interface {
	Put(ctx context.Context, rec *models.ThreatRecord) error
}

// app is the wired correlator: stores, event plumbing and services
type app struct {
	cfg *config.Config
	log *logger.Logger

	writer recordWriter
	edges  services.EdgeStore
	groups services.GroupStore
	feed   services.RecordChangeFeed

	bus   *streaming.EventBus
	hub   *streaming.WebSocketHub
	graph *graph.GraphRepository

	runner   *services.JobRunner
	rescorer *services.Rescorer
	service  *services.CorrelationService

	checks  map[string]func(context.Context) error
	closers []func()
}

// options trims what a subcommand connects to
type options struct {
	// withFeed subscribes to record changes; one-shot commands leave it off
	withFeed bool
	// withMetrics registers process level gauges, once per process
	withMetrics bool
}

// newApp connects to every enabled backend and wires the services.
// Postgres and Redis are required when enabled; NATS and Neo4j degrade to
// local-only operation when unreachable.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts options) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		checks: make(map[string]func(context.Context) error),
	}
	wired := false
	defer func() {
		if !wired {
			a.Close()
		}
	}()

	var records services.RecordStore
	switch cfg.App.Storage {
	case "memory":
		mem := memory.NewRecordStore()
		records, a.writer, a.feed = mem, mem, mem
		a.edges = memory.NewEdgeStore(4)
		a.groups = memory.NewGroupStore()
		log.Warn().Msg("using in-memory stores, nothing survives a restart")
	default:
		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.checks["postgres"] = db.Ping
		if opts.withMetrics {
			metrics.RegisterPoolStats(prometheus.DefaultRegisterer, func() (int32, int32, int32) {
				s := db.Stats()
				return s.AcquiredConns(), s.IdleConns(), s.TotalConns()
			})
		}

		recordRepo := repository.NewRecordRepository(db.Pool())
		records, a.writer = recordRepo, recordRepo
		a.edges = repository.NewEdgeRepository(db.Pool())
		a.groups = repository.NewGroupRepository(db.Pool())
	}

	var (
		fingerprints services.FingerprintIndex = memory.NewFingerprintIndex()
		mirror       services.JobMirror
		locker       services.Locker
	)
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.checks["redis"] = rc.Ping
		fingerprints, mirror, locker = rc, rc, rc
	}

	var transport streaming.Transport
	if cfg.NATS.Enabled {
		nc, err := streaming.NewNATSClient(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without event streaming")
		} else {
			a.closers = append(a.closers, nc.Close)
			a.checks["nats"] = nc.Ping
			transport = nc
			if opts.withFeed {
				a.feed = nc
			}
		}
	}
	if !opts.withFeed {
		a.feed = nil
	}

	var sinks []services.EdgeSink
	if cfg.Neo4j.Enabled {
		client, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Neo4j, graph projection disabled")
		} else {
			a.closers = append(a.closers, func() { _ = client.Close(context.Background()) })
			a.checks["neo4j"] = client.Health
			a.graph = graph.NewGraphRepository(client, log)
			sinks = append(sinks, a.graph)
		}
	}

	a.bus = streaming.NewEventBus(transport, cfg.NATS.Subjects, log)
	a.closers = append(a.closers, a.bus.Close)
	a.hub = streaming.NewWebSocketHub(a.bus, log)

	scorer, err := services.NewCorrelationScorer(cfg.Correlation.Profile(), log)
	if err != nil {
		return nil, err
	}
	version := scorer.Profile().Version

	sweeper := services.NewSweeper(cfg.Correlation.Sweeper(), services.SweeperDeps{
		Records:      services.NewGuardedRecordStore(records, cfg.Runner.Guard(), log),
		Edges:        a.edges,
		Scorer:       scorer,
		Resolver:     services.NewDeduplicationResolver(a.groups, scorer, a.bus, log),
		Fingerprints: fingerprints,
		Publisher:    a.bus,
		Sinks:        sinks,
	}, log)

	a.runner = services.NewJobRunner(cfg.Runner.Runner(), sweeper.Sweep, version, a.bus, mirror, log)
	a.rescorer = services.NewRescorer(cfg.Rescore.Rescorer(), a.edges, a.runner, locker, version, log)
	a.service = services.NewCorrelationService(services.CorrelationServiceDeps{
		Runner:    a.runner,
		Edges:     a.edges,
		Groups:    a.groups,
		Feed:      a.feed,
		Publisher: a.bus,
		Sinks:     sinks,
	}, log)

	log.Info().
		Str("storage", cfg.App.Storage).
		Bool("redis", cfg.Redis.Enabled).
		Bool("nats", transport != nil).
		Bool("neo4j", a.graph != nil).
		Int("algorithm_version", version).
		Msg("correlator wired")
	wired = true
	return a, nil
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
