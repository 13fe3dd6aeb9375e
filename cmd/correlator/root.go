package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

// cli carries what every subcommand needs once the root pre-run finished
type cli struct {
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "correlator",
		Short:         "Threat correlation and deduplication engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.init()
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default searches ./config.yaml, ./config/config.yaml, /etc/correlator)")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newSweepCmd(c),
		newRecordsCmd(c),
		newVersionCmd(),
	)
	return root
}

// init loads .env, the configuration and the logger
func (c *cli) init() error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c.cfg = cfg

	c.log = logger.New(cfg.Logger)
	logger.SetGlobal(c.log)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
