package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dgallion1/copyedit/internal/config"
	"github.com/dgallion1/copyedit/internal/extract"
	"github.com/dgallion1/copyedit/internal/pipeline"
	"github.com/dgallion1/copyedit/internal/report"
)

func TestApplyFlags(t *testing.T) {
	base := config.Config{Provider: "openai", Model: "gpt-4o", ImageDetail: "high", MaxConcurrent: 1}

	assert.Equal(t, base, applyFlags(base, reviewFlags{}))

	got := applyFlags(base, reviewFlags{provider: "Gemini", model: "gemini-2.5-pro", detail: "LOW", concurrency: 4, styleGuide: "g.yaml"})
	assert.Equal(t, "gemini", got.Provider)
	assert.Equal(t, "gemini-2.5-pro", got.Model)
	assert.Equal(t, "low", got.ImageDetail)
	assert.Equal(t, 4, got.MaxConcurrent)
	assert.Equal(t, "g.yaml", got.StyleGuidePath)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "deck-suggestions.csv", outputPath("/tmp/in/deck.pdf", ""))
	assert.Equal(t, "out.xlsx", outputPath("deck.pdf", "out.xlsx"))
	assert.Equal(t, "-", outputPath("deck.pdf", "-"))
}

func TestWriteReportToStdout(t *testing.T) {
	rep := report.Build("", &pipeline.Result{Suggestions: []extract.Suggestion{
		{PageNumber: 1, Issue: "tone", OriginalText: "gonna", SuggestedText: "going to", Severity: extract.SeverityOptional},
	}})
	var out bytes.Buffer
	assert.NoError(t, writeReport(rep, "-", &out))
	assert.Contains(t, out.String(), "1,tone,gonna,going to,,optional,0.00")
}

func TestSummarize(t *testing.T) {
	snap := pipeline.JobSnapshot{Title: "Deck", Status: pipeline.StatusPartial}
	snap.Progress.Pages = 4
	snap.Progress.TotalChunks = 2
	rep := report.Build("Deck", &pipeline.Result{
		FailedChunks: []pipeline.FailedChunk{{ChunkID: 2, PageStart: 3, PageEnd: 4, Kind: extract.KindServer, Error: "timeout"}},
		Warnings:     []string{"chunk 1: page 1 needs 900 tokens"},
	})

	var buf bytes.Buffer
	summarize(&buf, snap, rep, "deck.csv")
	assert.Equal(t, "Deck: 4 pages, 2 chunks, 0 suggestions (partial)\n"+
		"warning: chunk 1: page 1 needs 900 tokens\n"+
		"not reviewed: pages 3-4 (server): timeout\n"+
		"wrote deck.csv\n", buf.String())

	buf.Reset()
	summarize(&buf, pipeline.JobSnapshot{Title: "Clean", Status: pipeline.StatusCompleted}, report.Build("", &pipeline.Result{}), "-")
	assert.Equal(t, "Clean: 0 pages, 0 chunks, 0 suggestions (completed)\nno issues found\n", buf.String())
}

func TestEngineCloseReleasesTransport(t *testing.T) {
	tr, err := extract.NewTransport(context.Background(), config.Config{
		Provider:        config.ProviderAnthropic,
		AnthropicAPIKey: "key",
		Model:           "claude-test",
	})
	assert.NoError(t, err)
	_, isCloser := tr.(io.Closer)
	assert.True(t, isCloser, "anthropic transport should be closable")

	eng := &engine{transport: tr}
	assert.NoError(t, eng.Close())
}
