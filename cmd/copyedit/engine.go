package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/pipeline"
	"github.com/dgallion1/copyedit/internal/style"
	"github.com/dgallion1/copyedit/internal/tokens"
)

// engine holds the long-lived collaborators shared by every review.
type engine struct {
	transport extract.Transport
	stats     *extract.LLMStats
	deps      pipeline.ServiceDeps
}

func newEngine(ctx context.Context, cfg config.Config, log *slog.Logger) (*engine, error) {
	guide, err := style.Load(cfg.StyleGuidePath)
	if err != nil {
		return nil, err
	}

	est, err := tokens.New(cfg.Model, tokens.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	transport, err := extract.NewTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stats := extract.NewLLMStats(time.Hour)
	exec, err := extract.NewExecutor(transport, extract.ExecutorConfig{
		System:            extract.SystemMessage(guide.SystemPrompt()),
		MaxAttempts:       cfg.MaxAttempts,
		Timeout:           cfg.RequestTimeout,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, extract.WithStats(stats), extract.WithLogger(log))
	if err != nil {
		return nil, err
	}

	log.Info("llm configured",
		"provider", transport.Name(),
		"model", cfg.Model,
		"tokenizer", est.TokenizerModel(),
		"context_window", cfg.ContextWindow,
		"max_attempts", cfg.MaxAttempts,
	)

	return &engine{
		transport: transport,
		stats:     stats,
		deps: pipeline.ServiceDeps{
			Executor:  exec,
			Estimator: est,
			Style:     guide,
			Provider:  cfg.Provider,
			Model:     cfg.Model,
		},
	}, nil
}

// Close releases the transport's connections when it holds any.
func (e *engine) Close() error {
	if c, ok := e.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
