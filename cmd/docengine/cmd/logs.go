package cmd

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/localdocs/docengine/internal/logging"
)

// newLogsCmd exposes docengine's own structured server log for local
// inspection: tail it, grep it, or follow it live, without the operator
// having to remember the log path or parse JSON lines by hand.
func newLogsCmd() *cobra.Command {
	var (
		tailN    int
		follow   bool
		level    string
		pattern  string
		noColor  bool
		showFrom bool
		explicit string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View docengine's server log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := logging.FindLogFileBySource(logging.LogSourceServer, explicit)
			if err != nil {
				return err
			}

			var re *regexp.Regexp
			if pattern != "" {
				re, err = regexp.Compile(pattern)
				if err != nil {
					return fmt.Errorf("compile pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:      level,
				Pattern:    re,
				NoColor:    noColor,
				ShowSource: showFrom,
			}, cmd.OutOrStdout())

			entries, err := viewer.TailMultiple(paths, tailN)
			if err != nil {
				return fmt.Errorf("tail log: %w", err)
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			ch := make(chan logging.LogEntry, 64)
			go func() {
				for entry := range ch {
					viewer.Print([]logging.LogEntry{entry})
				}
			}()
			return viewer.FollowMultiple(ctx, paths, ch)
		},
	}

	cmd.Flags().IntVarP(&tailN, "tail", "n", 100, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the log as it grows")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVar(&pattern, "grep", "", "Only show lines matching this regular expression")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&showFrom, "show-source", false, "Show the log source label")
	cmd.Flags().StringVar(&explicit, "file", "", "Explicit log file path, overriding the default")

	return cmd
}
