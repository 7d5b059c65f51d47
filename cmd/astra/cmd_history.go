package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/wal"
)

var (
	historyLimit  int
	historySince  time.Duration
	historyLatest bool

	journalSince time.Duration
	journalRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded activations",
	Example: `  astra history                 # Last 20 activations
  astra history --since 24h     # Everything from the last day
  astra history --latest        # Latest activation per database`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Replay the activation journal",
	Example: `  astra journal --since 1h
  astra journal --run 5f0c2d1e`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(historyCmd, journalCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of activations to show")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Show activations started within this window")
	historyCmd.Flags().BoolVar(&historyLatest, "latest", false, "Show only the latest activation per database")

	journalCmd.Flags().DurationVar(&journalSince, "since", 24*time.Hour, "Replay entries written within this window")
	journalCmd.Flags().StringVar(&journalRun, "run", "", "Only entries of runs whose id starts with this prefix")
}

func runHistory(cmd *cobra.Command, args []string) error {
	history, err := storage.NewActivationHistory(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	var records []storage.ActivationRecord
	switch {
	case historyLatest:
		records = history.LatestAll()
	case historySince > 0:
		records, err = history.ListSince(cmd.Context(), time.Now().Add(-historySince))
	default:
		records, err = history.List(cmd.Context(), historyLimit)
	}
	if err != nil {
		return err
	}
	return printRecords(cmd.OutOrStdout(), outputFmt, records)
}

func runJournal(cmd *cobra.Command, args []string) error {
	var entries []wal.Entry

	err := wal.Replay(cfg.Journal.Dir, time.Now().Add(-journalSince), func(e *wal.Entry) error {
		if !strings.HasPrefix(e.RunID, journalRun) {
			return nil
		}
		entries = append(entries, *e)
		return nil
	})
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), outputFmt, entries)
}
