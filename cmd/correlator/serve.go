package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/harborgrid-justin/black-cross-sub000/internal/api"
	"github.com/harborgrid-justin/black-cross-sub000/internal/api/handlers"
	grpcserver "github.com/harborgrid-justin/black-cross-sub000/internal/grpc/correlator"
)

func newServeCmd(c *cli) *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the correlator: record change consumer, job runner, rescorer, HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.serve(ctx, seedFile)
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "JSON file of threat records to load before serving")
	return cmd
}

func (c *cli) serve(ctx context.Context, seedFile string) error {
	cfg, log := c.cfg, c.log
	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", version).
		Msg("starting correlator")

	a, err := newApp(ctx, cfg, log, options{withFeed: true, withMetrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var seeded []string
	if seedFile != "" {
		seeded, err = importRecords(ctx, a.writer, seedFile)
		if err != nil {
			return err
		}
		log.Info().Int("records", len(seeded)).Str("file", seedFile).Msg("seeded record store")
	}

	if err := a.service.Start(ctx); err != nil {
		return err
	}
	defer a.service.Stop()
	if len(seeded) > 0 {
		log.Info().Int("queued", queueSweeps(ctx, a.service, seeded, log)).Msg("queued sweeps for seeded records")
	}

	if err := a.rescorer.Start(); err != nil {
		return err
	}

	// HTTP
	var related handlers.RelatedFinder
	if a.graph != nil {
		related = a.graph
	}
	checks := make(map[string]handlers.CheckFunc, len(a.checks))
	for name, check := range a.checks {
		checks[name] = check
	}
	h := handlers.NewHandlers(handlers.Dependencies{
		Service: a.service,
		Graph:   related,
		Hub:     a.hub,
		Bus:     a.bus,
		Checks:  checks,
		Version: version,
		Logger:  log,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr(),
		Handler:      api.NewRouter(*cfg, h, log).Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC health
	grpcListener, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthMonitor := grpcserver.NewHealthMonitor(a.checks, 0, log)
	healthMonitor.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		healthMonitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", grpcListener.Addr().String()).Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthMonitor.Shutdown()
		grpcServer.GracefulStop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if err := a.rescorer.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("rescorer did not stop in time")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}
