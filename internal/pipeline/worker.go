package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/parser"
	"github.com/dgallion1/copyedit/internal/store"
)

// Worker processes a single review job.
type Worker struct {
	cfg  config.Config
	deps ServiceDeps
	log  *slog.Logger
}

func NewWorker(cfg config.Config, deps ServiceDeps, log *slog.Logger) *Worker {
	return &Worker{cfg: cfg, deps: deps, log: log}
}

// Process parses the uploaded document, reviews it, and records the run.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename, "mode", job.Mode)
	started := time.Now()

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, parser.ParseOptions{
		Mode:              job.Mode,
		DPI:               w.cfg.RenderDPI,
		FallbackPdftotext: w.cfg.PDFFallbackPdftotext,
	})
	if err != nil {
		w.fail(ctx, job, log, "parsing", err, started)
		return
	}

	data := job.FileData()
	doc, err := p.Parse(bytes.NewReader(data), job.Filename)
	if err != nil {
		w.fail(ctx, job, log, "parsing", fmt.Errorf("parse: %w", err), started)
		return
	}
	job.SetParsed(doc.Title, ContentHashHex(data), len(doc.Pages))
	log.Info("parsed document", "pages", len(doc.Pages))

	// Phase 2: Plan and review
	job.SetStatus(StatusPlanning, "planning")
	opts, err := OptionsFromConfig(w.cfg, job.Mode)
	if err != nil {
		w.fail(ctx, job, log, "planning", err, started)
		return
	}

	header := w.deps.Style.Header(job.DocType, job.Audience)
	res, err := Run(ctx, doc.Pages, header, opts, Deps{
		Estimator: w.deps.Estimator,
		Executor:  w.deps.Executor,
		Log:       log,
		OnPlanned: func(n int) {
			job.SetTotalChunks(n)
			job.SetStatus(StatusReviewing, "reviewing")
		},
		OnOutcome: func(o extract.Outcome) {
			job.ChunkDone(o.Failed(), len(o.Suggestions))
			if o.Failed() {
				job.AddError(fmt.Sprintf("chunk %d (pages %d-%d): %s", o.ChunkID, o.PageStart, o.PageEnd, o.Err.Error()))
			}
		},
	})
	if err != nil {
		w.fail(ctx, job, log, "planning", err, started)
		return
	}

	status := StatusCompleted
	switch {
	case res.Chunks > 0 && len(res.FailedChunks) == res.Chunks:
		status = StatusFailed
	case res.Partial():
		status = StatusPartial
	}
	job.Finish(res, status)
	log.Info("review finished", "status", status, "suggestions", len(res.Suggestions), "failed_chunks", len(res.FailedChunks))

	w.record(ctx, job, res, status, started, log)
}

func (w *Worker) fail(ctx context.Context, job *Job, log *slog.Logger, phase string, err error, started time.Time) {
	log.Error("review failed", "phase", phase, "error", err)
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, phase)
	w.record(ctx, job, nil, StatusFailed, started, log)
}

// record writes the run to history. History errors are logged, not fatal.
func (w *Worker) record(ctx context.Context, job *Job, res *Result, status JobStatus, started time.Time, log *slog.Logger) {
	if w.deps.History == nil {
		return
	}
	snap := job.Snapshot()
	run := store.Run{
		ID:          snap.ID,
		Filename:    snap.Filename,
		Title:       snap.Title,
		DocType:     snap.DocType,
		Audience:    snap.Audience,
		Mode:        string(snap.Mode),
		Provider:    w.deps.Provider,
		Model:       w.deps.Model,
		Status:      string(status),
		ContentHash: snap.ContentHash,
		Pages:       snap.Progress.Pages,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if len(snap.Progress.Errors) > 0 {
		run.Error = snap.Progress.Errors[len(snap.Progress.Errors)-1]
	}
	if res != nil {
		run.Chunks = res.Chunks
		run.Suggestions = len(res.Suggestions)
		run.PromptTokens = res.Usage.PromptTokens
		run.CompletionTokens = res.Usage.CompletionTokens
		run.TotalTokens = res.Usage.TotalTokens
		for _, fc := range res.FailedChunks {
			run.FailedChunks = append(run.FailedChunks, store.FailedChunk{
				ChunkID:   fc.ChunkID,
				PageStart: fc.PageStart,
				PageEnd:   fc.PageEnd,
				Kind:      string(fc.Kind),
				Error:     fc.Error,
			})
		}
	}
	// Detached so the record survives shutdown.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.deps.History.SaveRun(saveCtx, run); err != nil {
		log.Error("history write failed", "error", err)
	}
}
