package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for refgrab.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refgrab",
		Short: "Download reference datasets from the web",
		Long: `refgrab crawls dataset publisher sites from a seed URL, discovers
downloadable artifacts (archives, spreadsheets, code tables), handles
login and terms-of-use gates, and mirrors the files locally.

Credentials are never required: without them refgrab collects whatever
the site serves anonymously.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
