package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/quark-mirror/internal/share"
	"github.com/tonimelisma/quark-mirror/internal/transfer"
)

// parseResult is the JSON shape of the parse command.
type parseResult struct {
	*transfer.Discovery
	ShareURL string           `json:"share_url"`
	Files    []share.FileNode `json:"files"`
	Queued   []int64          `json:"queued,omitempty"`
}

func newParseCmd() *cobra.Command {
	var (
		passcode  string
		provision bool
	)

	cmd := &cobra.Command{
		Use:   "parse <share-url>",
		Short: "Resolve a share link and record its media files",
		Long: `Walk every folder of a share link and record each storable file (videos,
and any file at least share.large_file_threshold bytes) as a pending media
record. Re-parsing a share refreshes the share coordinates of existing
records without touching their transfer state.

The share may be a full URL or a bare share code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args[0], passcode, provision)
		},
	}

	cmd.Flags().StringVarP(&passcode, "passcode", "p", "", "share passcode (overrides one in the URL)")
	cmd.Flags().BoolVar(&provision, "provision", false, "enqueue every recorded file for transfer")

	return cmd
}

func runParse(cmd *cobra.Command, rawURL, passcode string, provision bool) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	shareURL := share.ApplyPasscode(rawURL, passcode)

	nodes, err := a.resolver().Resolve(ctx, shareURL)
	if err != nil {
		return fmt.Errorf("resolving share: %w", err)
	}

	d, err := a.service.RecordShare(ctx, shareURL, nodes)
	if err != nil {
		return fmt.Errorf("recording share: %w", err)
	}

	res := parseResult{Discovery: d, ShareURL: shareURL, Files: nodes}

	if provision {
		for _, id := range d.MediaIDs {
			_, queued, err := a.service.Provision(ctx, id)
			if err != nil {
				return fmt.Errorf("provisioning media %d: %w", id, err)
			}

			if queued {
				res.Queued = append(res.Queued, id)
			}
		}

		cc.Logger.Info("share provisioned", slog.Int("queued", len(res.Queued)))
	}

	if cc.Flags.JSON {
		return writeJSON(cc.Stdout, res)
	}

	printParse(cc, &res, a.cfg.Share.LargeFileBytes())

	return nil
}

func printParse(cc *CLIContext, res *parseResult, threshold int64) {
	fmt.Fprintf(cc.Stdout, "Share:    %s\n", res.ShareURL)
	fmt.Fprintf(cc.Stdout, "Title:    %s\n", res.Title)
	fmt.Fprintf(cc.Stdout, "Files:    %d total, %d storable\n", res.Total, res.Storable)

	if len(res.Queued) > 0 {
		fmt.Fprintf(cc.Stdout, "Queued:   %d\n", len(res.Queued))
	}

	fmt.Fprintln(cc.Stdout)

	rows := make([][]string, 0, len(res.Files))

	for _, n := range res.Files {
		kind := "file"
		size := formatSize(n.Size)

		if n.IsDirectory {
			kind, size = "dir", "-"
		}

		store := ""
		if share.IsStorable(n, threshold) {
			store = "yes"
		}

		rows = append(rows, []string{kind, size, orDash(store), n.LogicalPath})
	}

	printTable(cc.Stdout, []string{"TYPE", "SIZE", "STORE", "PATH"}, rows)

	if len(res.MediaIDs) > 0 {
		ids := make([]string, len(res.MediaIDs))
		for i, id := range res.MediaIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}

		fmt.Fprintf(cc.Stdout, "\nMedia IDs: %s\n", strings.Join(ids, ", "))
	}
}
