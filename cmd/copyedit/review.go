package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/document"
	"github.com/dgallion1/copyedit/internal/parser"
	"github.com/dgallion1/copyedit/internal/pipeline"
	"github.com/dgallion1/copyedit/internal/report"
	"github.com/dgallion1/copyedit/internal/store"
)

type reviewFlags struct {
	out         string
	mode        string
	docType     string
	audience    string
	title       string
	provider    string
	model       string
	styleGuide  string
	detail      string
	concurrency int
	record      bool
	verbose     bool
}

func reviewCmd() *cobra.Command {
	var f reviewFlags

	cmd := &cobra.Command{
		Use:   "review <file>",
		Short: "Review one document and write the suggestions table",
		Long: `Review one document and write the suggestions table.

The output format follows the --out extension: .xlsx writes a workbook,
anything else writes CSV. Use --out - to write CSV to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if f.verbose {
				level = slog.LevelInfo
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			// Interrupting stops outstanding chunks; finished ones are still reported.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return review(ctx, args[0], f, cmd.OutOrStdout(), cmd.ErrOrStderr(), log)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.out, "out", "o", "", "output file (default: <name>-suggestions.csv)")
	fl.StringVar(&f.mode, "mode", "text", "content mode: text|image (image requires a PDF)")
	fl.StringVar(&f.docType, "doc-type", "report", "document type, e.g. report or \"slide deck\"")
	fl.StringVar(&f.audience, "audience", "general", "intended audience")
	fl.StringVar(&f.title, "title", "", "document title (default: from the document)")
	fl.StringVar(&f.provider, "provider", "", "LLM provider: openai|anthropic|gemini (default: $LLM_PROVIDER)")
	fl.StringVar(&f.model, "model", "", "model name (default: $LLM_MODEL)")
	fl.StringVar(&f.styleGuide, "style", "", "YAML style guide (default: $STYLE_GUIDE_PATH or built-in)")
	fl.StringVar(&f.detail, "detail", "", "image detail: high|low (default: $IMAGE_DETAIL)")
	fl.IntVar(&f.concurrency, "concurrency", 0, "chunks in flight at once (default: $MAX_CONCURRENT_CHUNKS)")
	fl.BoolVar(&f.record, "record", false, "save the run to the history database ($DB_PATH)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log progress to stderr")
	return cmd
}

// applyFlags overlays command-line settings on the loaded configuration.
func applyFlags(cfg config.Config, f reviewFlags) config.Config {
	if f.provider != "" {
		cfg.Provider = strings.ToLower(f.provider)
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.styleGuide != "" {
		cfg.StyleGuidePath = f.styleGuide
	}
	if f.detail != "" {
		cfg.ImageDetail = strings.ToLower(f.detail)
	}
	if f.concurrency > 0 {
		cfg.MaxConcurrent = f.concurrency
	}
	return cfg
}

// outputPath resolves the report destination for input.
func outputPath(input, out string) string {
	if out != "" {
		return out
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return base + "-suggestions.csv"
}

func review(ctx context.Context, path string, f reviewFlags, stdout, stderr io.Writer, log *slog.Logger) error {
	cfg := applyFlags(config.Load(), f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := document.ParseMode(strings.ToLower(f.mode))
	if err != nil {
		return config.Invalidf("%v", err)
	}
	if !parser.IsSupportedExtension(path) {
		return fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	if f.record {
		history, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer history.Close()
		if err := history.Migrate(ctx); err != nil {
			return err
		}
		eng.deps.History = history
	}

	job := pipeline.NewJob(filepath.Base(path), f.title, f.docType, f.audience, mode, data)
	pipeline.NewWorker(cfg, eng.deps, log).Process(ctx, job)

	snap := job.Snapshot()
	res := job.Result()
	if res == nil {
		return fmt.Errorf("review failed: %s", strings.Join(snap.Progress.Errors, "; "))
	}

	rep := report.Build(snap.Title, res)
	dest := outputPath(path, f.out)
	if err := writeReport(rep, dest, stdout); err != nil {
		return err
	}

	summarize(stderr, snap, rep, dest)
	if snap.Status == pipeline.StatusFailed {
		return fmt.Errorf("no chunk could be reviewed")
	}
	return nil
}

func writeReport(rep *report.Report, dest string, stdout io.Writer) error {
	if dest == "-" {
		return rep.WriteCSV(stdout)
	}
	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(dest), ".xlsx") {
		err = rep.WriteXLSX(file)
	} else {
		err = rep.WriteCSV(file)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

func summarize(w io.Writer, snap pipeline.JobSnapshot, rep *report.Report, dest string) {
	fmt.Fprintf(w, "%s: %d pages, %d chunks, %d suggestions (%s)\n",
		snap.Title, snap.Progress.Pages, snap.Progress.TotalChunks, len(rep.Rows), snap.Status)
	if len(rep.Rows) == 0 && !rep.Partial() {
		fmt.Fprintln(w, "no issues found")
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, fc := range rep.FailedChunks {
		fmt.Fprintf(w, "not reviewed: pages %d-%d (%s): %s\n", fc.PageStart, fc.PageEnd, fc.Kind, fc.Error)
	}
	if dest != "-" {
		fmt.Fprintf(w, "wrote %s\n", dest)
	}
}
