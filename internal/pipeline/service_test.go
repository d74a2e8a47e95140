package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/document"
	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/store"
)

type fakeHistory struct {
	mu   sync.Mutex
	runs []store.Run
}

func (h *fakeHistory) SaveRun(_ context.Context, r store.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, r)
	return nil
}

func (h *fakeHistory) saved() []store.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.Run(nil), h.runs...)
}

type fakeHeader struct{}

func (fakeHeader) Header(docType, audience string) string {
	return "Document type: " + docType + "\nAudience: " + audience
}

func serviceConfig() config.Config {
	return config.Config{
		ContextWindow:  1000,
		ImageDetail:    "high",
		MaxConcurrent:  1,
		WorkerCount:    1,
		MaxQueueSize:   4,
		JobTTL:         time.Hour,
		RenderDPI:      110,
		MaxAttempts:    1,
		RequestTimeout: time.Second,
	}
}

func sixPageText() []byte {
	pages := make([]string, 6)
	for i := range pages {
		pages[i] = "content of page"
	}
	return []byte(strings.Join(pages, "\f"))
}

func waitDone(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	require.Eventually(t, func() bool { return job.Snapshot().Status.Done() }, 5*time.Second, 10*time.Millisecond)
	return job.Snapshot()
}

func TestServiceReviewsUpload(t *testing.T) {
	exec := &fakeExecutor{fail: map[int]extract.Kind{2: extract.KindClient}}
	hist := &fakeHistory{}
	svc := NewService(serviceConfig(), ServiceDeps{
		Executor:  exec,
		Estimator: pageEstimator{perPage: 400},
		Style:     fakeHeader{},
		History:   hist,
		Provider:  "openai",
		Model:     "gpt-4o",
	}, discardLogger())
	svc.Start(context.Background())
	defer svc.Stop()

	job := NewJob("notes.txt", "", "report", "executive", document.ModeText, sixPageText())
	require.NoError(t, svc.Submit(job))
	assert.Same(t, job, svc.GetJob(job.ID))

	snap := waitDone(t, job)
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, "notes", snap.Title)
	assert.Equal(t, 6, snap.Progress.Pages)
	assert.Equal(t, 3, snap.Progress.TotalChunks)
	assert.Equal(t, 3, snap.Progress.ChunksProcessed)
	assert.Equal(t, 1, snap.Progress.ChunksFailed)
	assert.Equal(t, 4, snap.Progress.Suggestions)
	require.Len(t, snap.FailedChunks, 1)
	assert.Equal(t, 2, snap.FailedChunks[0].ChunkID)
	assert.Equal(t, ContentHashHex(sixPageText()), snap.ContentHash)

	res := job.Result()
	require.NotNil(t, res)
	assert.Len(t, res.Suggestions, 4)
	assert.Nil(t, job.FileData(), "upload should be released")

	require.Eventually(t, func() bool { return len(hist.saved()) == 1 }, time.Second, 10*time.Millisecond)
	run := hist.saved()[0]
	assert.Equal(t, job.ID, run.ID)
	assert.Equal(t, "partial", run.Status)
	assert.Equal(t, "openai", run.Provider)
	assert.Equal(t, 3, run.Chunks)
	assert.Equal(t, 4, run.Suggestions)
	assert.Equal(t, 24, run.TotalTokens)
	require.Len(t, run.FailedChunks, 1)
	assert.Equal(t, store.FailedChunk{ChunkID: 2, PageStart: 3, PageEnd: 4, Kind: "client", Error: res.FailedChunks[0].Error}, run.FailedChunks[0])
}

func TestServiceAllChunksFailed(t *testing.T) {
	exec := &fakeExecutor{fail: map[int]extract.Kind{1: extract.KindServer, 2: extract.KindServer, 3: extract.KindServer}}
	svc := NewService(serviceConfig(), ServiceDeps{
		Executor:  exec,
		Estimator: pageEstimator{perPage: 400},
		Style:     fakeHeader{},
	}, discardLogger())
	svc.Start(context.Background())
	defer svc.Stop()

	job := NewJob("notes.txt", "Given title", "report", "public", document.ModeText, sixPageText())
	require.NoError(t, svc.Submit(job))

	snap := waitDone(t, job)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "Given title", snap.Title)
	assert.Len(t, snap.Progress.Errors, 3)
}

func TestServiceUnsupportedFile(t *testing.T) {
	hist := &fakeHistory{}
	svc := NewService(serviceConfig(), ServiceDeps{
		Executor:  &fakeExecutor{},
		Estimator: pageEstimator{perPage: 400},
		Style:     fakeHeader{},
		History:   hist,
	}, discardLogger())
	svc.Start(context.Background())
	defer svc.Stop()

	job := NewJob("slides.txt", "", "slide deck", "public", document.ModeImage, []byte("x"))
	require.NoError(t, svc.Submit(job))

	snap := waitDone(t, job)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "parsing", snap.Phase)
	require.Len(t, snap.Progress.Errors, 1)
	assert.Contains(t, snap.Progress.Errors[0], "image mode needs a PDF")

	require.Eventually(t, func() bool { return len(hist.saved()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "failed", hist.saved()[0].Status)
	assert.Contains(t, hist.saved()[0].Error, "image mode")
}

func TestServiceConfigErrorFailsJob(t *testing.T) {
	cfg := serviceConfig()
	cfg.ContextWindow = 2 // safety budget 1 cannot hold the header
	svc := NewService(cfg, ServiceDeps{
		Executor:  &fakeExecutor{},
		Estimator: pageEstimator{perPage: 400},
		Style:     fakeHeader{},
	}, discardLogger())
	svc.Start(context.Background())
	defer svc.Stop()

	job := NewJob("notes.txt", "", "report", "public", document.ModeText, sixPageText())
	require.NoError(t, svc.Submit(job))

	snap := waitDone(t, job)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 0, snap.Progress.TotalChunks)
}

func TestServiceQueueFull(t *testing.T) {
	cfg := serviceConfig()
	cfg.MaxQueueSize = 1
	svc := NewService(cfg, ServiceDeps{}, discardLogger())

	first := NewJob("a.txt", "", "", "", document.ModeText, []byte("a"))
	require.NoError(t, svc.Submit(first))
	assert.Equal(t, 1, svc.QueueDepth())

	second := NewJob("b.txt", "", "", "", document.ModeText, []byte("b"))
	require.Error(t, svc.Submit(second))
	assert.Equal(t, StatusFailed, second.Snapshot().Status)
	assert.NotNil(t, svc.GetJob(second.ID))
}
