package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testRun(id string, finished time.Time) Run {
	return Run{
		ID:               id,
		Filename:         "deck.pdf",
		Title:            "Quarterly deck",
		DocType:          "slide deck",
		Audience:         "executive",
		Mode:             "image",
		Provider:         "openai",
		Model:            "gpt-4o",
		Status:           "partial",
		Pages:            45,
		Chunks:           3,
		Suggestions:      12,
		PromptTokens:     1000,
		CompletionTokens: 200,
		TotalTokens:      1200,
		StartedAt:        finished.Add(-time.Minute),
		FinishedAt:       finished,
		FailedChunks: []FailedChunk{
			{ChunkID: 3, PageStart: 41, PageEnd: 45, Kind: "server", Error: "server error (status 503)"},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	finished := time.Date(2026, 3, 4, 10, 0, 0, 123, time.UTC)

	require.NoError(t, s.SaveRun(ctx, testRun("r1", finished)))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, testRun("r1", finished), got)
}

func TestSaveRunReplaces(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	r := testRun("r1", time.Now())
	require.NoError(t, s.SaveRun(ctx, r))

	r.Status = "completed"
	r.FailedChunks = nil
	require.NoError(t, s.SaveRun(ctx, r))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Empty(t, got.FailedChunks)
}

func TestGetRunMissing(t *testing.T) {
	s := openTest(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Len(t, runs[0].FailedChunks, 1)

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListRunsEmpty(t *testing.T) {
	runs, err := openTest(t).ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestTotalUsage(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	u, err := s.TotalUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Usage{}, u)

	require.NoError(t, s.SaveRun(ctx, testRun("a", time.Now())))
	require.NoError(t, s.SaveRun(ctx, testRun("b", time.Now())))
	u, err = s.TotalUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, Usage{Runs: 2, PromptTokens: 2000, CompletionTokens: 400, TotalTokens: 2400}, u)
}
