package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imgconv/internal/config"
	"imgconv/internal/download"
	"imgconv/internal/format"
	"imgconv/internal/pipeline"
	"imgconv/internal/store"
)

type convertOptions struct {
	target    string
	order     string
	outputDir string
	fileName  string
	retries   int
	jsonOut   bool
}

type convertEntryJSON struct {
	Path       string `json:"path"`
	ID         string `json:"id,omitempty"`
	Conversion string `json:"conversion,omitempty"`
	Stage      string `json:"stage"`
	Bytes      int    `json:"bytes,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}

type convertReportJSON struct {
	CorrelationID string             `json:"correlation_id"`
	Target        string             `json:"target"`
	Archive       string             `json:"archive,omitempty"`
	ArchiveBytes  int64              `json:"archive_bytes,omitempty"`
	ArchiveSHA256 string             `json:"archive_sha256,omitempty"`
	Entries       []convertEntryJSON `json:"entries"`
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert --to <format> <file>...",
		Short: "Convert images and bundle the results into an archive",
		Long: "Decode every input file, convert the images that decode successfully to the\n" +
			"target format, and write the converted images into a single tar archive.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := format.Parse(opts.target)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCfg, err := applyConvertOverrides(cfg, opts)
			if err != nil {
				return err
			}
			return ctx.withSession(cmd.Context(), runCfg, func(session *pipeline.Session) error {
				return runConvert(cmd, session, target, args, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.target, "to", "t", "", "Target format (png, jpg, gif, bmp, tiff, tga, ico, pnm, hdr, exr, ff, qoi, avif)")
	cmd.Flags().StringVar(&opts.order, "order", "", "Queue drain order: fifo or lifo (default from processor.order)")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory for the archive (default from archive.output_dir)")
	cmd.Flags().StringVar(&opts.fileName, "name", "", "Archive file name (default from archive.file_name)")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Retry failed conversions this many times")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func applyConvertOverrides(cfg *config.Config, opts convertOptions) (*config.Config, error) {
	runCfg := *cfg
	if order := strings.TrimSpace(opts.order); order != "" {
		runCfg.Processor.Order = strings.ToLower(order)
	}
	if dir := strings.TrimSpace(opts.outputDir); dir != "" {
		expanded, err := config.ExpandPath(dir)
		if err != nil {
			return nil, fmt.Errorf("--output-dir: %w", err)
		}
		runCfg.Archive.OutputDir = expanded
	}
	if name := strings.TrimSpace(opts.fileName); name != "" {
		runCfg.Archive.FileName = name
	}
	if opts.retries < 0 {
		return nil, errors.New("--retries must be zero or positive")
	}
	if err := runCfg.Validate(); err != nil {
		return nil, err
	}
	return &runCfg, nil
}

func runConvert(cmd *cobra.Command, session *pipeline.Session, target format.Format, paths []string, opts convertOptions) error {
	ctx := cmd.Context()
	st := session.Store()

	ingested := session.Ingest(ctx, paths)
	if st.ToggleSelectAll(store.StageUploaded, true) == 0 {
		if opts.jsonOut {
			_ = writeJSON(cmd, buildConvertReport(session, target, ingested, download.Result{}))
		} else {
			printIngestFailures(cmd, ingested)
		}
		return errors.New("no input file could be decoded")
	}

	started := time.Now()
	if err := session.Start(ctx); err != nil {
		return err
	}
	if _, err := session.QueueSelected(ctx, target); err != nil {
		return err
	}
	if err := session.WaitIdle(ctx); err != nil {
		return err
	}
	for attempt := 0; attempt < opts.retries && st.Counts().Failed > 0; attempt++ {
		st.RetryFailed()
		if err := session.WaitIdle(ctx); err != nil {
			return err
		}
	}

	counts := st.Counts()
	session.NotifyBatch(ctx, counts.Output, counts.Failed, time.Since(started))

	var archive download.Result
	if st.ToggleSelectAll(store.StageOutput, true) > 0 {
		res, err := session.Export(ctx)
		if err != nil {
			return err
		}
		archive = res
	}

	if opts.jsonOut {
		if err := writeJSON(cmd, buildConvertReport(session, target, ingested, archive)); err != nil {
			return err
		}
	} else {
		printConvertReport(cmd, session, ingested, archive)
	}

	if archive.Path == "" {
		return errors.New("no image was converted")
	}
	return nil
}

func buildConvertReport(session *pipeline.Session, target format.Format, ingested []pipeline.IngestResult, archive download.Result) convertReportJSON {
	report := convertReportJSON{
		CorrelationID: session.CorrelationID(),
		Target:        target.Label(),
		Archive:       archive.Path,
		ArchiveBytes:  archive.Bytes,
		ArchiveSHA256: archive.SHA256,
	}
	for _, res := range ingested {
		entry := convertEntryJSON{Path: res.Path}
		if res.Err != nil {
			entry.Stage = "rejected"
			entry.Error = res.Err.Error()
			report.Entries = append(report.Entries, entry)
			continue
		}
		e, stage, ok := session.Store().Get(res.Entity.ID)
		if !ok {
			continue
		}
		entry.ID = e.ID
		entry.Conversion = e.ConversionLabel()
		entry.Stage = string(stage)
		entry.Bytes = len(e.EncodedResult)
		entry.Attempts = e.Attempts
		entry.Error = e.Err
		if !e.CompletedAt.IsZero() {
			entry.Completed = e.CompletedAt.Format(time.RFC3339)
		}
		report.Entries = append(report.Entries, entry)
	}
	return report
}

func printIngestFailures(cmd *cobra.Command, ingested []pipeline.IngestResult) {
	out := cmd.OutOrStdout()
	colorize := isTerminal(out)
	for _, res := range ingested {
		if res.Err != nil {
			fmt.Fprintln(out, renderStatusLine(res.Path, statusError, res.Err.Error(), colorize))
		}
	}
}

func printConvertReport(cmd *cobra.Command, session *pipeline.Session, ingested []pipeline.IngestResult, archive download.Result) {
	out := cmd.OutOrStdout()
	decorated := isTerminal(out)

	var rows [][]string
	for _, res := range ingested {
		if res.Err != nil {
			continue
		}
		e, stage, ok := session.Store().Get(res.Entity.ID)
		if !ok {
			continue
		}
		size := "-"
		if len(e.EncodedResult) > 0 {
			size = formatBytes(int64(len(e.EncodedResult)))
		}
		rows = append(rows, []string{e.Name, e.ConversionLabel(), titleWord(string(stage)), size, e.CompletedLabel()})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Name", "Conversion", "Stage", "Size", "Completed"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			decorated,
		))
	}

	problems := false
	for _, res := range ingested {
		if res.Err != nil {
			problems = true
		}
	}
	failed := session.Store().Snapshot(store.StageFailed)
	if problems || len(failed) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Problems", decorated) {
			fmt.Fprintln(out, line)
		}
		printIngestFailures(cmd, ingested)
		for _, e := range failed {
			fmt.Fprintln(out, renderStatusLine(e.Name, statusError, e.Err, decorated))
		}
	}

	if archive.Path != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderStatusLine("Archive", statusOK,
			fmt.Sprintf("%s (%s)", archive.Path, formatBytes(archive.Bytes)), decorated))
	}
}
