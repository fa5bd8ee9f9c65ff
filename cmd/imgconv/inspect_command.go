package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imgconv/internal/pipeline"
)

type inspectEntryJSON struct {
	Path       string `json:"path"`
	Name       string `json:"name,omitempty"`
	Format     string `json:"format,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	ColorModel string `json:"color_model,omitempty"`
	Preview    string `json:"preview,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var withPreview bool

	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Detect and decode images without converting them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withSession(cmd.Context(), cfg, func(session *pipeline.Session) error {
				results := session.Ingest(cmd.Context(), args)
				if jsonOut {
					return writeJSON(cmd, inspectEntries(results, withPreview))
				}
				printInspect(cmd, results, withPreview)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&withPreview, "preview", false, "Include the thumbnail data URI")
	return cmd
}

func inspectEntries(results []pipeline.IngestResult, withPreview bool) []inspectEntryJSON {
	entries := make([]inspectEntryJSON, 0, len(results))
	for _, res := range results {
		entry := inspectEntryJSON{Path: res.Path}
		if res.Err != nil {
			entry.Error = res.Err.Error()
			entry.ErrorKind = errorKind(res.Err)
		} else {
			e := res.Entity
			entry.Name = e.Name
			entry.Format = e.SourceFormat.Label()
			entry.Width = e.Width
			entry.Height = e.Height
			entry.ColorModel = e.ColorModel
			if withPreview {
				entry.Preview = e.Preview
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func printInspect(cmd *cobra.Command, results []pipeline.IngestResult, withPreview bool) {
	out := cmd.OutOrStdout()
	decorated := isTerminal(out)

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			rows = append(rows, []string{res.Path, "-", "-", "-", titleWord(errorKind(res.Err)) + ": " + res.Err.Error()})
			continue
		}
		e := res.Entity
		rows = append(rows, []string{
			res.Path,
			e.SourceFormat.Label(),
			fmt.Sprintf("%dx%d", e.Width, e.Height),
			e.ColorModel,
			"",
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Path", "Format", "Dimensions", "Color Model", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		decorated,
	))

	if withPreview {
		for _, res := range results {
			if res.Err == nil {
				fmt.Fprintf(out, "%s %s\n", res.Path, res.Entity.Preview)
			}
		}
	}
}
