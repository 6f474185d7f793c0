package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/llm"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/retry"
)

var activeItem = &models.WorkItem{ID: 42, Type: "Task", Title: "Add cache", State: "Active"}

func TestParseResponseShapes(t *testing.T) {
	const obj = `{"analysis": "a", "solution": "s", "tasks": ["t1"], "risks": ["r1"], "suggested_status": "Resolved", "suggested_remaining_work": 1.5, "comment": "c"}`
	tests := []struct {
		name string
		text string
	}{
		{"whole body", obj},
		{"json fence", "Here you go:\n```json\n" + obj + "\n```\nThanks"},
		{"plain fence", "```\n" + obj + "\n```"},
		{"embedded braces", "Sure! " + obj + " Let me know."},
		{"json fence preferred over later braces", "```json\n" + obj + "\n```\n{trailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResponse(tt.text, activeItem)
			require.NoError(t, err)
			assert.Equal(t, "a", res.Analysis)
			assert.Equal(t, "s", res.Solution)
			assert.Equal(t, []string{"t1"}, res.Tasks)
			assert.Equal(t, []string{"r1"}, res.Risks)
			assert.Equal(t, "Resolved", res.SuggestedStatus)
			assert.InDelta(t, 1.5, res.SuggestedRemainingWork, 1e-9)
			assert.Equal(t, "c", res.Comment)
			assert.Equal(t, tt.text, res.RawResponse)
		})
	}
}

func TestParseResponseDefaults(t *testing.T) {
	res, err := ParseResponse(`{"analysis": "only this"}`, activeItem)
	require.NoError(t, err)
	assert.Equal(t, "only this", res.Analysis)
	assert.Equal(t, "", res.Solution)
	assert.Equal(t, "", res.Comment)
	assert.NotNil(t, res.Tasks)
	assert.Empty(t, res.Tasks)
	assert.NotNil(t, res.Risks)
	assert.Empty(t, res.Risks)
	assert.Equal(t, "Active", res.SuggestedStatus, "defaults to the current state")
	assert.Zero(t, res.SuggestedRemainingWork)
	assert.NotNil(t, res.FileChanges)
	assert.Empty(t, res.FileChanges)
}

func TestParseResponseFileChanges(t *testing.T) {
	res, err := ParseResponse(`{"file_changes": [
		{"path": "src/cache.go", "content": "package cache", "description": "new"},
		{"content": "no path"},
		"not an object"
	]}`, activeItem)
	require.NoError(t, err)
	require.Len(t, res.FileChanges, 1)
	assert.Equal(t, models.FileChange{Path: "src/cache.go", Content: "package cache", Description: "new"}, res.FileChanges[0])
}

func TestParseResponseMalformed(t *testing.T) {
	for _, text := range []string{"no json here", "{not: valid}", "", "[1, 2, 3]"} {
		_, err := ParseResponse(text, activeItem)
		require.Error(t, err, text)
		assert.Equal(t, apperr.KindMalformedResponse, apperr.KindOf(err), text)
	}
}

type fakeLLM struct {
	responses []*llm.Response
	errs      []error
	calls     int
	last      llm.Request
}

func (f *fakeLLM) Model() string { return "claude-sonnet-4-5" }

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	i := f.calls
	f.calls++
	f.last = req
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.responses[len(f.responses)-1], nil
}

func newTestAnalyzer(backend llm.LLMClient) *Client {
	s := config.Defaults()
	p := retry.Default()
	p.Unit = time.Millisecond
	return NewClient(&s, backend).WithRetryPolicy(p)
}

func TestAnalyze(t *testing.T) {
	backend := &fakeLLM{responses: []*llm.Response{{
		Text:         `{"analysis": "a", "suggested_status": "Resolved", "comment": "c"}`,
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}}}
	a := newTestAnalyzer(backend)

	res, err := a.Analyze(context.Background(), activeItem, nil, "be brief")
	require.NoError(t, err)
	assert.Equal(t, "Resolved", res.SuggestedStatus)
	assert.Equal(t, 2_000_000, res.TokenUsage.Total())
	assert.InDelta(t, 6.0, res.TokenUsage.Cost(a.Model()), 1e-9)

	assert.Equal(t, 4096, backend.last.MaxTokens)
	assert.InDelta(t, 0.7, backend.last.Temperature, 1e-9)
	assert.NotEmpty(t, backend.last.System)
	assert.Contains(t, backend.last.Prompt, "ADDITIONAL INSTRUCTIONS:\nbe brief")
}

func TestAnalyzeRetriesTransient(t *testing.T) {
	backend := &fakeLLM{
		errs:      []error{apperr.LLM(529, true, nil), apperr.LLM(500, true, nil)},
		responses: []*llm.Response{{Text: `{"analysis": "ok"}`}},
	}

	res, err := newTestAnalyzer(backend).Analyze(context.Background(), activeItem, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Analysis)
	assert.Equal(t, 3, backend.calls)
}

func TestAnalyzeGivesUpAfterThreeAttempts(t *testing.T) {
	final := apperr.LLM(503, true, nil)
	backend := &fakeLLM{errs: []error{apperr.LLM(503, true, nil), apperr.LLM(503, true, nil), final}}

	_, err := newTestAnalyzer(backend).Analyze(context.Background(), activeItem, nil, "")
	assert.Same(t, final, err)
	assert.Equal(t, 3, backend.calls)
}

func TestAnalyzeRateLimitFailsFast(t *testing.T) {
	wait := 20
	backend := &fakeLLM{errs: []error{apperr.RateLimited(&wait, nil)}}

	_, err := newTestAnalyzer(backend).Analyze(context.Background(), activeItem, nil, "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	assert.Equal(t, 1, backend.calls)
}

func TestAnalyzeMalformedIsNotRetried(t *testing.T) {
	backend := &fakeLLM{responses: []*llm.Response{{Text: "I cannot help with that."}}}

	_, err := newTestAnalyzer(backend).Analyze(context.Background(), activeItem, nil, "")
	assert.Equal(t, apperr.KindMalformedResponse, apperr.KindOf(err))
	assert.Equal(t, 1, backend.calls)
}

func TestAnalyzeFileChangesNeedFileRequest(t *testing.T) {
	text := `{"analysis": "a", "file_changes": [{"path": "x.go", "content": "package x", "description": "d"}]}`

	tests := []struct {
		name         string
		instructions string
		want         int
	}{
		{"no instructions", "", 0},
		{"unrelated instructions", "focus on security risks", 0},
		{"asks for a file", "create a file with the fix", 1},
		{"asks to update code", "Please update the code in the cache layer", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeLLM{responses: []*llm.Response{{Text: text}}}
			res, err := newTestAnalyzer(backend).Analyze(context.Background(), activeItem, nil, tt.instructions)
			require.NoError(t, err)
			require.NotNil(t, res.FileChanges)
			assert.Len(t, res.FileChanges, tt.want)
		})
	}
}
