package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"imgconv/internal/journal"
	"imgconv/internal/store"
)

type historyEntryJSON struct {
	ID            int64  `json:"id"`
	EntityID      string `json:"entity_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Name          string `json:"name"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	Outcome       string `json:"outcome"`
	Bytes         int    `json:"bytes"`
	Attempts      int    `json:"attempts"`
	Error         string `json:"error,omitempty"`
	CompletedAt   string `json:"completed_at"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled conversions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.Journal.Path); errors.Is(err, os.ErrNotExist) {
				if !cfg.Journal.Enabled {
					fmt.Fprintln(out, "Journal is disabled; set journal.enabled = true to record conversions")
					return nil
				}
				fmt.Fprintf(out, "No conversions recorded yet (%s)\n", cfg.Journal.Path)
				return nil
			}

			j, err := journal.Open(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			if clearAll {
				removed, err := j.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d journal entries\n", removed)
				return nil
			}

			entries, err := j.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, historyJSON(entries))
			}
			totals, err := j.Totals(cmd.Context())
			if err != nil {
				return err
			}
			printHistory(cmd, entries, totals)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete every journal entry")
	return cmd
}

func historyJSON(entries []journal.Entry) []historyEntryJSON {
	out := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryJSON{
			ID:            e.ID,
			EntityID:      e.EntityID,
			CorrelationID: e.CorrelationID,
			Name:          e.Name,
			Source:        e.SourceFormat,
			Target:        e.TargetFormat,
			Outcome:       string(e.Outcome),
			Bytes:         e.EncodedBytes,
			Attempts:      e.Attempts,
			Error:         e.Error,
			CompletedAt:   e.CompletedAt.Format(time.RFC3339),
		})
	}
	return out
}

func printHistory(cmd *cobra.Command, entries []journal.Entry, totals journal.Totals) {
	out := cmd.OutOrStdout()
	decorated := isTerminal(out)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No conversions recorded yet")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := formatBytes(int64(e.EncodedBytes))
		if e.Outcome == journal.OutcomeFailed {
			detail = e.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", e.ID),
			e.Name,
			fmt.Sprintf("%s -> %s", e.SourceFormat, e.TargetFormat),
			titleWord(string(e.Outcome)),
			detail,
			e.CompletedAt.Local().Format(store.CompletedLayout),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Name", "Conversion", "Outcome", "Result", "Completed"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
		decorated,
	))
	fmt.Fprintln(out, renderStatusLine("Converted", statusOK, fmt.Sprintf("%d", totals.Output), decorated))
	kind := statusOK
	if totals.Failed > 0 {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Failed", kind, fmt.Sprintf("%d", totals.Failed), decorated))
}
