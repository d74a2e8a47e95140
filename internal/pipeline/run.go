package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/copyedit/internal/chunker"
	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/document"
	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/tokens"
)

// ChunkExecutor sends one chunk. *extract.Executor satisfies it.
type ChunkExecutor interface {
	Execute(ctx context.Context, chunk chunker.Chunk) extract.Outcome
}

// Options are the per-run planning and dispatch settings.
type Options struct {
	Mode             document.Mode
	Detail           tokens.Detail
	WindowBudget     int
	MaxUnitsPerChunk int
	MaxConcurrency   int // 1 or less dispatches chunks one at a time.
}

// OptionsFromConfig builds run options for mode from the loaded configuration.
func OptionsFromConfig(cfg config.Config, mode document.Mode) (Options, error) {
	detail, err := tokens.ParseDetail(cfg.ImageDetail)
	if err != nil {
		return Options{}, config.Invalidf("%v", err)
	}
	return Options{
		Mode:             mode,
		Detail:           detail,
		WindowBudget:     cfg.ContextWindow,
		MaxUnitsPerChunk: cfg.MaxImagesPerChunk,
		MaxConcurrency:   cfg.MaxConcurrent,
	}, nil
}

// Deps are the collaborators of a run.
type Deps struct {
	Estimator chunker.Estimator
	Executor  ChunkExecutor
	Log       *slog.Logger

	// Optional progress hooks. OnOutcome may be called concurrently when
	// MaxConcurrency > 1.
	OnPlanned func(chunks int)
	OnOutcome func(extract.Outcome)
}

// FailedChunk identifies a chunk that produced no suggestions because its
// request failed.
type FailedChunk struct {
	ChunkID   int          `json:"chunk_id"`
	PageStart int          `json:"page_start"`
	PageEnd   int          `json:"page_end"`
	Kind      extract.Kind `json:"kind"`
	Error     string       `json:"error"`
}

// Result aggregates every chunk outcome in chunk order.
type Result struct {
	Suggestions  []extract.Suggestion `json:"suggestions"`
	FailedChunks []FailedChunk        `json:"failed_chunks"`
	Outcomes     []extract.Outcome    `json:"-"`
	Chunks       int                  `json:"chunks"`
	Usage        extract.Usage        `json:"usage"`
	Warnings     []string             `json:"warnings"`
	HeaderTokens int                  `json:"header_tokens"`
	SafetyBudget int                  `json:"safety_budget"`
}

// Partial reports whether any chunk failed.
func (r *Result) Partial() bool { return len(r.FailedChunks) > 0 }

// Run plans units into chunks, sends each chunk, and aggregates the results.
// Configuration errors are returned before any request is made. Chunk
// failures never abort the run; they are listed in Result.FailedChunks.
func Run(ctx context.Context, units []document.PageUnit, header string, opts Options, deps Deps) (*Result, error) {
	if deps.Estimator == nil || deps.Executor == nil {
		return nil, config.Invalidf("pipeline needs an estimator and an executor")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	plan, err := chunker.Plan(units, header, chunker.Options{
		Mode:             opts.Mode,
		Detail:           opts.Detail,
		WindowBudget:     opts.WindowBudget,
		MaxUnitsPerChunk: opts.MaxUnitsPerChunk,
	}, deps.Estimator)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Suggestions:  []extract.Suggestion{},
		FailedChunks: []FailedChunk{},
		Warnings:     []string{},
		Chunks:       len(plan.Chunks),
		HeaderTokens: plan.HeaderTokens,
		SafetyBudget: plan.SafetyBudget,
	}
	for _, w := range plan.Warnings {
		log.Warn("oversized page", "chunk", w.ChunkID, "page", w.Page, "detail", w.Message)
		res.Warnings = append(res.Warnings, fmt.Sprintf("chunk %d: %s", w.ChunkID, w.Message))
	}
	log.Info("planned chunks",
		"pages", len(units),
		"chunks", len(plan.Chunks),
		"header_tokens", plan.HeaderTokens,
		"safety_budget", plan.SafetyBudget,
	)
	if deps.OnPlanned != nil {
		deps.OnPlanned(len(plan.Chunks))
	}

	res.Outcomes = dispatch(ctx, plan.Chunks, opts.MaxConcurrency, deps)

	for _, o := range res.Outcomes {
		if o.Failed() {
			res.FailedChunks = append(res.FailedChunks, FailedChunk{
				ChunkID:   o.ChunkID,
				PageStart: o.PageStart,
				PageEnd:   o.PageEnd,
				Kind:      o.Err.Kind,
				Error:     o.Err.Error(),
			})
			continue
		}
		res.Suggestions = append(res.Suggestions, o.Suggestions...)
		res.Usage.Add(o.Usage)
		for _, w := range o.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("chunk %d: %s", o.ChunkID, w))
		}
	}

	log.Info("run complete",
		"chunks", res.Chunks,
		"failed", len(res.FailedChunks),
		"suggestions", len(res.Suggestions),
		"total_tokens", res.Usage.TotalTokens,
	)
	return res, nil
}

// dispatch executes every chunk and returns outcomes indexed by chunk
// position, whatever order they complete in.
func dispatch(ctx context.Context, chunks []chunker.Chunk, concurrency int, deps Deps) []extract.Outcome {
	outcomes := make([]extract.Outcome, len(chunks))
	exec := func(i int) {
		outcomes[i] = deps.Executor.Execute(ctx, chunks[i])
		if deps.OnOutcome != nil {
			deps.OnOutcome(outcomes[i])
		}
	}

	if concurrency <= 1 {
		for i := range chunks {
			exec(i)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range chunks {
		g.Go(func() error {
			exec(i)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
