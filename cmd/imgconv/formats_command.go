package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"imgconv/internal/codec"
	"imgconv/internal/format"
)

type formatJSON struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Extensions []string `json:"extensions"`
	MIME       string   `json:"mime"`
	Selectable bool     `json:"selectable"`
	Decode     bool     `json:"decode"`
	Encode     bool     `json:"encode"`
}

func newFormatsCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:         "formats",
		Short:       "List image formats and which directions are supported",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := listFormats()
			if jsonOut {
				return writeJSON(cmd, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, f := range entries {
				rows = append(rows, []string{
					f.Label,
					strings.Join(f.Extensions, ", "),
					f.MIME,
					yesNo(f.Decode),
					yesNo(f.Encode),
					yesNo(f.Selectable),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Format", "Extensions", "MIME", "Decode", "Encode", "Selectable"},
				rows, nil, isTerminal(out),
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func listFormats() []formatJSON {
	engine := codec.NewEngine()
	decoder := codec.NewDecoder(0)
	selectable := map[format.Format]bool{}
	for _, f := range format.Selectable() {
		selectable[f] = true
	}

	all := format.All()
	out := make([]formatJSON, 0, len(all))
	for _, f := range all {
		out = append(out, formatJSON{
			Name:       string(f),
			Label:      f.Label(),
			Extensions: f.Extensions(),
			MIME:       f.MIME(),
			Selectable: selectable[f],
			Decode:     decoder.CanDecode(f),
			Encode:     engine.Supports(f),
		})
	}
	return out
}

func errorKind(err error) string {
	return codec.Kind(err)
}
