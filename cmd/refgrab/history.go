package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/refgrab/internal/config"
	"github.com/nao1215/refgrab/internal/manifest"
	"github.com/nao1215/refgrab/internal/model"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past crawl runs recorded in the manifest",
		Long: `History lists the crawl runs recorded in the manifest database,
most recent first. Pass --run with a run ID to list every file
outcome of that run.

Examples:
  # Show the last 20 runs
  refgrab history

  # Show the last 5 runs
  refgrab history --limit 5

  # Show every download of one run
  refgrab history --run 2f1c9a3e-...`,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().String("run", "", "Show the download records of a single run ID")
	cmd.Flags().String("seed", "", "Only list runs whose seed URL contains this string")
	cmd.Flags().String("manifest-dir", "", "Manifest database directory (default: XDG data directory)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	runID, err := cmd.Flags().GetString("run")
	if err != nil {
		return err
	}

	dbDir, err := cmd.Flags().GetString("manifest-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	// Open read-only: history must never create an empty database.
	m, err := manifest.Open(dbDir, manifest.Options{EnableWAL: true})
	if err != nil {
		return fmt.Errorf("no manifest found in %s (run a crawl first): %w", dbDir, err)
	}
	defer m.Close()

	out := cmd.OutOrStdout()

	if runID != "" {
		records, err := m.RunDownloads(cmd.Context(), runID)
		if err != nil {
			return fmt.Errorf("reading run %s: %w", runID, err)
		}
		if len(records) == 0 {
			fmt.Fprintf(out, "No downloads recorded for run %s\n", runID)
			return nil
		}

		fmt.Fprintf(out, "Downloads for run %s:\n\n", runID)
		for _, r := range records {
			switch r.Status {
			case model.StatusDownloaded:
				fmt.Fprintf(out, "  [+] %s\n      path: %s  bytes: %d\n", r.URL, r.Path, r.Bytes)
			case model.StatusSkipped:
				fmt.Fprintf(out, "  [=] %s\n      reason: %s\n", r.URL, r.Reason)
			default:
				fmt.Fprintf(out, "  [!] %s\n      reason: %s\n", r.URL, r.Reason)
			}
		}
		return nil
	}

	seedFilter, err := cmd.Flags().GetString("seed")
	if err != nil {
		return err
	}

	runs, err := m.Runs(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("reading runs: %w", err)
	}
	if seedFilter != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if strings.Contains(run.Seed, seedFilter) {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No crawl runs recorded yet.")
		return nil
	}

	fmt.Fprintf(out, "Last %d crawl runs:\n\n", len(runs))
	for _, run := range runs {
		mode := "anonymous"
		if run.Authenticated {
			mode = "authenticated"
		}
		fmt.Fprintf(out, "  %s\n", run.ID)
		fmt.Fprintf(out, "      seed:     %s\n", run.Seed)
		fmt.Fprintf(out, "      started:  %s\n", run.Started.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "      duration: %s  pages: %d  mode: %s\n",
			run.Duration.Round(time.Millisecond), run.PagesVisited, mode)
		fmt.Fprintln(out)
	}

	return nil
}
