package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/quark-mirror/internal/store"
)

// mediaAction runs one operation on a media record and reports whether a
// job was enqueued.
type mediaAction func(ctx context.Context, a *app, id int64) (*store.Media, bool, error)

func newProvisionCmd() *cobra.Command {
	return newMediaCmd("provision <media-id>",
		"Enqueue a media record for transfer",
		`Enqueue a transfer job for a media record. Archived records and records
already being processed are reported and left alone.`,
		func(ctx context.Context, a *app, id int64) (*store.Media, bool, error) {
			return a.service.Provision(ctx, id)
		})
}

func newRetryCmd() *cobra.Command {
	return newMediaCmd("retry <media-id>",
		"Reset a record's retry budget and enqueue it again",
		"",
		func(ctx context.Context, a *app, id int64) (*store.Media, bool, error) {
			m, err := a.service.Retry(ctx, id)
			return m, err == nil, err
		})
}

func newResetCmd() *cobra.Command {
	return newMediaCmd("reset <media-id>",
		"Return a record to pending without enqueueing it",
		`Return a record to pending and clear its error and retry count. Use it on
records left in processing by a worker that stopped mid-job, then provision
them again.`,
		func(ctx context.Context, a *app, id int64) (*store.Media, bool, error) {
			m, err := a.service.Reset(ctx, id)
			return m, false, err
		})
}

func newMediaCmd(use, short, long string, action mediaAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMediaID(args[0])
			if err != nil {
				return err
			}

			return runMediaAction(cmd, id, action)
		},
	}
}

func runMediaAction(cmd *cobra.Command, id int64, action mediaAction) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	m, queued, err := action(ctx, a, id)
	if err != nil {
		return err
	}

	if queued {
		cc.Statusf("Queued media %d as %s\n", m.ID, m.TaskID)
	} else {
		cc.Statusf("Media %d not queued (status %s, archived %t)\n", m.ID, m.TaskStatus, m.IsArchived)
	}

	return printMedia(cc, m)
}

func parseMediaID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid media id %q: must be a positive integer", s)
	}

	return id, nil
}
