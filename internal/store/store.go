// Package store keeps a SQLite history of review runs, their failed chunks,
// and token usage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one finished review.
type Run struct {
	ID               string        `json:"id"`
	Filename         string        `json:"filename"`
	Title            string        `json:"title"`
	DocType          string        `json:"doc_type"`
	Audience         string        `json:"audience"`
	Mode             string        `json:"mode"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Status           string        `json:"status"`
	ContentHash      string        `json:"content_hash,omitempty"`
	Error            string        `json:"error,omitempty"`
	Pages            int           `json:"pages"`
	Chunks           int           `json:"chunks"`
	Suggestions      int           `json:"suggestions"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	FailedChunks     []FailedChunk `json:"failed_chunks"`
}

// FailedChunk is a chunk that could not be reviewed in a run.
type FailedChunk struct {
	ChunkID   int    `json:"chunk_id"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// Usage sums token counts over every recorded run.
type Usage struct {
	Runs             int `json:"runs"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
// Driver name is "sqlite" (modernc.org/sqlite).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store.Open: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: ping: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const ddlRuns = `CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	filename          TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	doc_type          TEXT NOT NULL DEFAULT '',
	audience          TEXT NOT NULL DEFAULT '',
	mode              TEXT NOT NULL,
	provider          TEXT NOT NULL DEFAULT '',
	model             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	content_hash      TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	pages             INTEGER NOT NULL DEFAULT 0,
	chunks            INTEGER NOT NULL DEFAULT 0,
	suggestions       INTEGER NOT NULL DEFAULT 0,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	started_at        TEXT NOT NULL,
	finished_at       TEXT NOT NULL
)`

const ddlFailedChunks = `CREATE TABLE IF NOT EXISTS failed_chunks (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	chunk_id   INTEGER NOT NULL,
	page_start INTEGER NOT NULL,
	page_end   INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	error      TEXT NOT NULL,
	PRIMARY KEY (run_id, chunk_id)
)`

const ddlRunsFinished = `CREATE INDEX IF NOT EXISTS runs_finished_at ON runs(finished_at)`

// Migrate creates the schema. It is safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range []string{ddlRuns, ddlFailedChunks, ddlRunsFinished} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store.Migrate: %w", err)
		}
	}
	return nil
}

// SaveRun inserts or replaces a run and its failed chunks.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.SaveRun: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM failed_chunks WHERE run_id = ?`, r.ID); err != nil {
		return fmt.Errorf("store.SaveRun: clear chunks: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs (
		id, filename, title, doc_type, audience, mode, provider, model, status,
		content_hash, error, pages, chunks, suggestions,
		prompt_tokens, completion_tokens, total_tokens, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Filename, r.Title, r.DocType, r.Audience, r.Mode, r.Provider, r.Model, r.Status,
		r.ContentHash, r.Error, r.Pages, r.Chunks, r.Suggestions,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("store.SaveRun: run: %w", err)
	}

	for _, fc := range r.FailedChunks {
		_, err := tx.ExecContext(ctx, `INSERT INTO failed_chunks (run_id, chunk_id, page_start, page_end, kind, error)
			VALUES (?, ?, ?, ?, ?, ?)`, r.ID, fc.ChunkID, fc.PageStart, fc.PageEnd, fc.Kind, fc.Error)
		if err != nil {
			return fmt.Errorf("store.SaveRun: chunk %d: %w", fc.ChunkID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, filename, title, doc_type, audience, mode, provider, model, status,
	content_hash, error, pages, chunks, suggestions,
	prompt_tokens, completion_tokens, total_tokens, started_at, finished_at`

// ListRuns returns the most recently finished runs first, with their failed
// chunks. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListRuns: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ListRuns: scan: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.ListRuns: %w", err)
	}
	rows.Close()

	for i := range runs {
		fcs, err := s.failedChunks(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].FailedChunks = fcs
	}
	return runs, nil
}

// GetRun returns one run, or sql.ErrNoRows.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("store.GetRun: %w", err)
	}
	r.FailedChunks, err = s.failedChunks(ctx, id)
	if err != nil {
		return Run{}, err
	}
	return r, nil
}

// TotalUsage sums token usage across all runs.
func (s *Store) TotalUsage(ctx context.Context) (Usage, error) {
	var u Usage
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM runs`).Scan(&u.Runs, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens)
	if err != nil {
		return Usage{}, fmt.Errorf("store.TotalUsage: %w", err)
	}
	return u, nil
}

func (s *Store) failedChunks(ctx context.Context, runID string) ([]FailedChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, page_start, page_end, kind, error
		FROM failed_chunks WHERE run_id = ? ORDER BY chunk_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: failed chunks: %w", err)
	}
	defer rows.Close()

	out := []FailedChunk{}
	for rows.Next() {
		var fc FailedChunk
		if err := rows.Scan(&fc.ChunkID, &fc.PageStart, &fc.PageEnd, &fc.Kind, &fc.Error); err != nil {
			return nil, fmt.Errorf("store: failed chunks: %w", err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		started, finished string
	)
	err := sc.Scan(&r.ID, &r.Filename, &r.Title, &r.DocType, &r.Audience, &r.Mode, &r.Provider, &r.Model, &r.Status,
		&r.ContentHash, &r.Error, &r.Pages, &r.Chunks, &r.Suggestions,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return r, nil
}

// Times are stored as fixed-width UTC text so that they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
