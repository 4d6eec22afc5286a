package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/quark-mirror/internal/store"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count records by status and show queue depths",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.service.Stats(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(cc.Stdout, st)
	}

	rows := make([][]string, 0, len(store.Statuses)+2)
	for _, s := range store.Statuses {
		rows = append(rows, []string{string(s), strconv.Itoa(st.ByStatus[s])})
	}

	rows = append(rows,
		[]string{"queued", strconv.Itoa(st.QueueSize)},
		[]string{"dead", strconv.Itoa(st.DeadQueueSize)},
	)

	printTable(cc.Stdout, []string{"STATE", "COUNT"}, rows)

	return nil
}
