package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/quark-mirror/internal/store"
	"github.com/tonimelisma/quark-mirror/internal/transfer"
)

// mediaStatus is the JSON shape of the status command.
type mediaStatus struct {
	*store.Media
	Progress float64 `json:"progress"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <media-id|task-id>",
		Short: "Show the transfer state of a media record",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.service.Lookup(ctx, args[0])
	if err != nil {
		return fmt.Errorf("looking up %s: %w", args[0], err)
	}

	return printMedia(cc, m)
}

func newListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List media records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, store.Status(status), limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only records in this state (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records")

	return cmd
}

func runList(cmd *cobra.Command, status store.Status, limit int) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.records.List(ctx, status, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return writeJSON(cc.Stdout, items)
	}

	rows := make([][]string, 0, len(items))
	for i := range items {
		m := &items[i]
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			string(m.TaskStatus),
			strconv.Itoa(m.RetryCount),
			orDash(m.TaskID),
			m.VirtualPath,
		})
	}

	printTable(cc.Stdout, []string{"ID", "STATUS", "RETRIES", "TASK", "VIRTUAL PATH"}, rows)

	return nil
}

func printMedia(cc *CLIContext, m *store.Media) error {
	if cc.Flags.JSON {
		return writeJSON(cc.Stdout, mediaStatus{Media: m, Progress: transfer.Progress(m.TaskStatus)})
	}

	w := cc.Stdout

	fmt.Fprintf(w, "ID:            %d\n", m.ID)
	fmt.Fprintf(w, "Title:         %s\n", m.Title)
	fmt.Fprintf(w, "Status:        %s (%.0f%%)\n", m.TaskStatus, transfer.Progress(m.TaskStatus)*100)
	fmt.Fprintf(w, "Task:          %s\n", orDash(m.TaskID))
	fmt.Fprintf(w, "Retries:       %d\n", m.RetryCount)
	fmt.Fprintf(w, "Virtual path:  %s\n", m.VirtualPath)
	fmt.Fprintf(w, "Physical path: %s\n", orDash(m.PhysicalPath))
	fmt.Fprintf(w, "Archived:      %t\n", m.IsArchived)
	fmt.Fprintf(w, "Share:         %s\n", m.ShareURL)
	fmt.Fprintf(w, "Error:         %s\n", orDash(m.ErrorMessage))
	fmt.Fprintf(w, "Last attempt:  %s\n", formatTime(m.LastRetryAt))
	fmt.Fprintf(w, "Updated:       %s\n", formatTime(m.UpdatedAt))

	return nil
}
