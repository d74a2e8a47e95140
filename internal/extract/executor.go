package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgallion1/copyedit/internal/chunker"
	"github.com/dgallion1/copyedit/internal/config"
)

// ExecutorConfig holds the per-run request settings.
type ExecutorConfig struct {
	System            string        // Full system message; must not be empty.
	MaxAttempts       int           // At least 1.
	Timeout           time.Duration // Bound on each transport call.
	MaxOutputTokens   int
	RequestsPerMinute int // 0 disables pacing.
}

// Outcome is the result of one chunk. Err is nil on success; on failure
// Suggestions is empty.
type Outcome struct {
	ChunkID     int
	PageStart   int
	PageEnd     int
	Suggestions []Suggestion
	Usage       *Usage
	Attempts    int
	Warnings    []string
	Err         *CallError
}

// Failed reports whether the chunk exhausted its attempts or hit a fatal error.
func (o Outcome) Failed() bool { return o.Err != nil }

// Executor sends chunks with bounded retries.
type Executor struct {
	transport Transport
	cfg       ExecutorConfig
	limiter   *rate.Limiter
	sleep     SleepFunc
	stats     *LLMStats
	log       *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSleep replaces the backoff sleep.
func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// WithStats records every transport call in s.
func WithStats(s *LLMStats) ExecutorOption {
	return func(e *Executor) { e.stats = s }
}

// WithLogger sets the executor's logger.
func WithLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// NewExecutor validates cfg and returns an executor bound to t.
func NewExecutor(t Transport, cfg ExecutorConfig, opts ...ExecutorOption) (*Executor, error) {
	if t == nil {
		return nil, config.Invalidf("no transport configured")
	}
	if cfg.System == "" {
		return nil, config.Invalidf("system instructions must not be empty")
	}
	if cfg.MaxAttempts < 1 {
		return nil, config.Invalidf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		return nil, config.Invalidf("request timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.RequestsPerMinute < 0 {
		return nil, config.Invalidf("requests per minute must not be negative, got %d", cfg.RequestsPerMinute)
	}

	e := &Executor{
		transport: t,
		cfg:       cfg,
		sleep:     sleepContext,
		log:       slog.Default(),
	}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute sends one chunk, retrying transient failures with linear backoff.
// It never returns a Go error: failures are recorded on the Outcome.
func (e *Executor) Execute(ctx context.Context, chunk chunker.Chunk) Outcome {
	out := Outcome{ChunkID: chunk.ID, PageStart: chunk.PageStart, PageEnd: chunk.PageEnd}
	log := e.log.With("chunk", chunk.ID, "pages", fmt.Sprintf("%d-%d", chunk.PageStart, chunk.PageEnd))

	req := Request{System: e.cfg.System, Payload: chunk.Payload, MaxTokens: e.cfg.MaxOutputTokens}

	for attempt := 1; ; attempt++ {
		if err := e.wait(ctx); err != nil {
			out.Err = cancelled(err)
			return out
		}

		out.Attempts = attempt
		resp, cerr := e.call(ctx, req)
		if cerr == nil {
			out.Usage = resp.Usage
			out.Suggestions, out.Warnings = ParseSuggestions(resp.Text, chunk.PageStart)
			for _, w := range out.Warnings {
				log.Warn("response parse", "warning", w)
			}
			return out
		}

		switch {
		case cerr.Kind == KindCancelled:
			out.Err = cerr
			return out
		case !cerr.Kind.Retryable():
			log.Error("fatal request error",
				"kind", cerr.Kind,
				"status", cerr.StatusCode,
				"error", cerr.Message,
				"detail", cerr.Detail,
			)
			out.Err = cerr
			return out
		case attempt >= e.cfg.MaxAttempts:
			log.Error("retries exhausted",
				"attempts", attempt,
				"kind", cerr.Kind,
				"status", cerr.StatusCode,
				"error", cerr.Message,
			)
			out.Err = cerr
			return out
		}

		pause := Backoff(attempt)
		log.Warn("retryable request error",
			"attempt", attempt,
			"kind", cerr.Kind,
			"status", cerr.StatusCode,
			"backoff", pause,
			"error", cerr.Message,
		)
		if err := e.sleep(ctx, pause); err != nil {
			out.Err = cancelled(err)
			return out
		}
	}
}

func (e *Executor) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// call makes one bounded transport call and classifies its failure.
func (e *Executor) call(ctx context.Context, req Request) (*Response, *CallError) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.transport.Complete(callCtx, req)
	elapsed := time.Since(start)

	if err == nil {
		if resp == nil {
			resp = &Response{}
		}
		if e.stats != nil {
			e.stats.RecordCall(elapsed, "", resp.Usage)
		}
		return resp, nil
	}

	var cerr *CallError
	switch {
	case ctx.Err() != nil:
		cerr = cancelled(ctx.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		cerr = &CallError{
			Kind:    KindServer,
			Message: fmt.Sprintf("request timed out after %s", e.cfg.Timeout),
			Err:     err,
		}
	default:
		cerr = asCallError(err)
	}
	if e.stats != nil {
		e.stats.RecordCall(elapsed, cerr.Kind, nil)
	}
	return nil, cerr
}

func cancelled(err error) *CallError {
	return &CallError{Kind: KindCancelled, Message: err.Error(), Err: err}
}
