package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

func newSweepCmd(c *cli) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep <record-id>...",
		Short: "Run correlation sweeps for records and print the resulting jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, c.cfg, c.log, options{})
			if err != nil {
				return err
			}
			defer a.Close()

			a.runner.Start(ctx)
			defer a.runner.Stop()

			jobs := make([]*models.Job, 0, len(args))
			for _, id := range args {
				job, err := a.service.EnqueueCorrelationSweep(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to enqueue sweep for %s: %w", id, err)
				}
				jobs = append(jobs, job)
			}

			if wait {
				waitCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				for i, job := range jobs {
					done, err := waitForJob(waitCtx, a, job)
					if err != nil {
						return err
					}
					jobs[i] = done
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the sweeps to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for all sweeps")
	return cmd
}

func waitForJob(ctx context.Context, a *app, job *models.Job) (*models.Job, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		current, err := a.service.GetJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, fmt.Errorf("sweep for %s still %s: %w", job.RecordID, current.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
