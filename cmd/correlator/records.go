package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

func newRecordsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage threat records in the record store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Load a JSON array of threat records into Postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.App.Storage != "postgres" {
				return fmt.Errorf("records import needs app.storage=postgres, use serve --seed for memory storage")
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, c.cfg, c.log, options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := importRecords(ctx, a.writer, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", len(ids))
			return nil
		},
	})
	return cmd
}

// importRecords validates and stores every record in path. It stops at the
// first invalid record and returns the ids stored before it.
func importRecords(ctx context.Context, w recordWriter, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	var records []*models.ThreatRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records from %s: %w", path, err)
	}

	ids := make([]string, 0, len(records))
	for i, rec := range records {
		if err := w.Put(ctx, rec); err != nil {
			return ids, fmt.Errorf("record %d (%s): %w", i, rec.ID, err)
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

type sweepEnqueuer interface {
	EnqueueCorrelationSweep(ctx context.Context, recordID string) (*models.Job, error)
}

// queueSweeps enqueues one sweep per seeded record. Seeding happens before the
// change feed is subscribed, so nothing else would pick these records up.
func queueSweeps(ctx context.Context, svc sweepEnqueuer, ids []string, log *logger.Logger) int {
	queued := 0
	for _, id := range ids {
		if _, err := svc.EnqueueCorrelationSweep(ctx, id); err != nil {
			log.Warn().Err(err).Str("record_id", id).Msg("failed to queue sweep for seeded record")
			continue
		}
		queued++
	}
	return queued
}
