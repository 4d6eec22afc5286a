package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newDeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "Inspect and repair the dead-letter queue",
		Long: `Jobs land in the dead-letter queue when authentication fails, the remote
rejects the save, an unexpected error occurs, or a network failure outlives
the retry budget. They stay there until requeued or cleared.`,
	}

	cmd.AddCommand(newDeadListCmd(), newDeadRequeueCmd(), newDeadClearCmd())

	return cmd
}

func newDeadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead-letter jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.service.ListDead(ctx)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return writeJSON(cc.Stdout, jobs)
			}

			rows := make([][]string, 0, len(jobs))
			for i := range jobs {
				j := &jobs[i]
				rows = append(rows, []string{
					strconv.FormatInt(j.MediaID, 10),
					orDash(j.TaskID),
					strconv.Itoa(j.RetryCount),
					orDash(j.VirtualPath),
				})
			}

			printTable(cc.Stdout, []string{"MEDIA", "TASK", "RETRIES", "VIRTUAL PATH"}, rows)

			return nil
		},
	}
}

func newDeadRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <media-id>",
		Short: "Move a record's dead jobs back to the transfer queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMediaID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.service.RequeueDead(ctx, id)
			if err != nil {
				return err
			}

			cc.Statusf("Requeued media %d as %s\n", m.ID, m.TaskID)

			return printMedia(cc, m)
		},
	}
}

func newDeadClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every dead-letter job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.service.ClearDead(ctx)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return writeJSON(cc.Stdout, map[string]int{"cleared": n})
			}

			cc.Statusf("Cleared %d dead-letter jobs\n", n)

			return nil
		},
	}
}
