package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/metrics"
	"github.com/tuannvm/ado-ai/internal/models"
)

type fakeTracker struct {
	workItem    *models.WorkItem
	fetchErr    error
	comments    []models.Comment
	outcome     *models.UpdateOutcome
	updateErr   error
	panicOnGet  bool
	commentsTop int

	updateCalls   int
	updatedFields map[string]interface{}
	updateComment string
}

func (f *fakeTracker) GetWorkItem(_ context.Context, _ int) (*models.WorkItem, error) {
	if f.panicOnGet {
		panic("boom")
	}
	return f.workItem, f.fetchErr
}

func (f *fakeTracker) GetComments(_ context.Context, _ int, top int) []models.Comment {
	f.commentsTop = top
	return f.comments
}

func (f *fakeTracker) UpdateWorkItem(_ context.Context, id int, fields map[string]interface{}, comment string) (*models.UpdateOutcome, error) {
	f.updateCalls++
	f.updatedFields = fields
	f.updateComment = comment
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	return &models.UpdateOutcome{Success: true, WorkItemID: id, UpdatedFields: names}, nil
}

func (f *fakeTracker) AddComment(context.Context, int, string) error { return nil }

type fakeAnalyzer struct {
	result   *models.AnalysisResult
	err      error
	comments []models.Comment
	custom   string
}

func (f *fakeAnalyzer) Model() string { return "claude-opus-4-6" }

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *models.WorkItem, comments []models.Comment, custom string) (*models.AnalysisResult, error) {
	f.comments = comments
	f.custom = custom
	return f.result, f.err
}

// recordingSink records steps and optionally answers confirmations.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Step
	}
	return out
}

type confirmingSink struct {
	recordingSink
	answer  bool
	err     error
	asked   int
	request ConfirmRequest
}

func (s *confirmingSink) Confirm(_ context.Context, req ConfirmRequest) (bool, error) {
	s.asked++
	s.request = req
	return s.answer, s.err
}

func scenario() (*fakeTracker, *fakeAnalyzer) {
	tracker := &fakeTracker{
		workItem: &models.WorkItem{
			ID:            42,
			Type:          "Bug",
			Title:         "Crash on save",
			State:         "Active",
			RemainingWork: floatPtr(4.0),
			Tags:          models.StringPtr("foo"),
		},
		comments: []models.Comment{{ID: 1, Text: "seen in prod"}},
	}
	analyzer := &fakeAnalyzer{result: &models.AnalysisResult{
		Analysis:               "null deref",
		SuggestedStatus:        "Resolved",
		SuggestedRemainingWork: 0,
		Comment:                "Fixed.",
		TokenUsage:             models.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}}
	return tracker, analyzer
}

func newOrchestrator(tracker *fakeTracker, analyzer *fakeAnalyzer, opts ...Option) *Orchestrator {
	s := config.Defaults()
	return New(tracker, analyzer, &s, opts...)
}

func TestCompleteWorkItemAutoApprove(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42,
		Options{AutoApprove: true, CustomInstructions: "be brief"}, sink)

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 42, res.WorkItemID)
	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Update)
	assert.True(t, res.Update.Success)

	assert.Equal(t, map[string]interface{}{
		"System.State": "Resolved",
		"Microsoft.VSTS.Scheduling.RemainingWork": 0.0,
		"System.Tags": "foo;AI-Completed",
	}, tracker.updatedFields)
	assert.Equal(t, FormatComment(analyzer.result), tracker.updateComment)

	assert.Equal(t, DefaultCommentLimit, tracker.commentsTop)
	assert.Equal(t, tracker.comments, analyzer.comments)
	assert.Equal(t, "be brief", analyzer.custom)

	assert.Equal(t, []Step{StepFetching, StepFetchingComments, StepAnalyzing, StepUpdating, StepCompleted}, sink.steps())
	for _, ev := range sink.events {
		assert.Equal(t, 42, ev.WorkItemID)
		assert.Equal(t, res.RunID, ev.RunID)
	}
}

func TestCompleteWorkItemDryRun(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &confirmingSink{answer: true}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{DryRun: true}, sink)

	require.True(t, res.Success)
	assert.Nil(t, res.Update)
	assert.NotNil(t, res.Analysis)
	assert.Zero(t, tracker.updateCalls)
	assert.Zero(t, sink.asked)
	assert.Equal(t, []Step{StepFetching, StepFetchingComments, StepAnalyzing, StepDryRunComplete}, sink.steps())
}

func TestCompleteWorkItemDeclined(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &confirmingSink{answer: false}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{}, sink)

	assert.False(t, res.Success)
	assert.Equal(t, MsgUserCancelled, res.ErrorMessage)
	assert.NotNil(t, res.WorkItem)
	assert.NotNil(t, res.Analysis)
	assert.Nil(t, res.Update)
	assert.Zero(t, tracker.updateCalls)

	assert.Equal(t, 1, sink.asked)
	assert.Equal(t, "claude-opus-4-6", sink.request.Model)
	assert.Contains(t, sink.request.Fields, "System.State")
	assert.NotContains(t, sink.steps(), StepError)
}

func TestCompleteWorkItemConfirmed(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &confirmingSink{answer: true}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{}, sink)

	require.True(t, res.Success)
	assert.Equal(t, 1, sink.asked)
	assert.Equal(t, 1, tracker.updateCalls)
}

func TestCompleteWorkItemSinkWithoutConfirmDeclines(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{}, sink)

	assert.False(t, res.Success)
	assert.Equal(t, MsgUserCancelled, res.ErrorMessage)
	assert.Zero(t, tracker.updateCalls)
	assert.Equal(t, []Step{StepFetching, StepFetchingComments, StepAnalyzing}, sink.steps())
}

func TestCompleteWorkItemConfirmError(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &confirmingSink{err: errors.New("stdin closed")}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{}, sink)

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindWorkflow, apperr.KindOf(res.Err))
	assert.Zero(t, tracker.updateCalls)
	assert.Equal(t, StepError, sink.steps()[len(sink.steps())-1])
}

func TestCompleteWorkItemFetchError(t *testing.T) {
	tracker, analyzer := scenario()
	tracker.workItem = nil
	tracker.fetchErr = apperr.NotFound(42)
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{AutoApprove: true}, sink)

	assert.False(t, res.Success)
	assert.Nil(t, res.WorkItem)
	assert.Nil(t, res.Analysis)
	assert.Equal(t, "work item 42 not found", res.ErrorMessage)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(res.Err))
	assert.Equal(t, []Step{StepFetching, StepError}, sink.steps())
	assert.Equal(t, "work item 42 not found", sink.events[1].Error)
}

func TestCompleteWorkItemAnalysisError(t *testing.T) {
	tracker, analyzer := scenario()
	wait := 30
	analyzer.result = nil
	analyzer.err = apperr.RateLimited(&wait, nil)
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{AutoApprove: true}, sink)

	assert.False(t, res.Success)
	assert.NotNil(t, res.WorkItem)
	assert.Nil(t, res.Analysis)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(res.Err))
	assert.Equal(t, []Step{StepFetching, StepFetchingComments, StepAnalyzing, StepError}, sink.steps())
}

func TestCompleteWorkItemUpdateFailed(t *testing.T) {
	tracker, analyzer := scenario()
	tracker.outcome = &models.UpdateOutcome{WorkItemID: 42, ErrorMessage: "Azure DevOps API error: rule violation"}
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{AutoApprove: true}, sink)

	assert.False(t, res.Success)
	assert.Equal(t, "Azure DevOps API error: rule violation", res.ErrorMessage)
	require.NotNil(t, res.Update)
	assert.False(t, res.Update.Success)
	assert.NotNil(t, res.Analysis)
	assert.Equal(t, []Step{StepFetching, StepFetchingComments, StepAnalyzing, StepUpdating, StepFailed}, sink.steps())
}

func TestCompleteWorkItemUpdateError(t *testing.T) {
	tracker, analyzer := scenario()
	tracker.updateErr = apperr.Backend(0, "connection refused", nil)
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{AutoApprove: true}, sink)

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindBackend, apperr.KindOf(res.Err))
	assert.Equal(t, StepError, sink.steps()[len(sink.steps())-1])
}

func TestCompleteWorkItemRecoversPanic(t *testing.T) {
	tracker, analyzer := scenario()
	tracker.panicOnGet = true
	sink := &recordingSink{}

	var res *Result
	require.NotPanics(t, func() {
		res = newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{}, sink)
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "boom")
	assert.Equal(t, apperr.KindWorkflow, apperr.KindOf(res.Err))
	assert.Equal(t, []Step{StepFetching, StepError}, sink.steps())
}

func TestCompleteWorkItemNilSink(t *testing.T) {
	tracker, analyzer := scenario()

	res := newOrchestrator(tracker, analyzer).CompleteWorkItem(context.Background(), 42, Options{DryRun: true}, nil)
	assert.True(t, res.Success)
}

func TestFetchWorkItem(t *testing.T) {
	tracker, analyzer := scenario()
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).FetchWorkItem(context.Background(), 42, sink)

	require.True(t, res.Success)
	assert.Equal(t, "Crash on save", res.WorkItem.Title)
	assert.Nil(t, res.Analysis)
	assert.Equal(t, []Step{StepFetching}, sink.steps())
}

func TestFetchWorkItemError(t *testing.T) {
	tracker, analyzer := scenario()
	tracker.workItem = nil
	tracker.fetchErr = apperr.Authentication(401, "authentication failed")
	sink := &recordingSink{}

	res := newOrchestrator(tracker, analyzer).FetchWorkItem(context.Background(), 42, sink)

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(res.Err))
	assert.Equal(t, []Step{StepFetching, StepError}, sink.steps())
}

func TestOrchestratorMetrics(t *testing.T) {
	tracker, analyzer := scenario()
	m := metrics.New(prometheus.NewRegistry())
	o := newOrchestrator(tracker, analyzer, WithMetrics(m), WithCommentLimit(3))

	o.CompleteWorkItem(context.Background(), 42, Options{AutoApprove: true}, nil)
	o.CompleteWorkItem(context.Background(), 42, Options{}, nil)

	assert.Equal(t, 3, tracker.commentsTop)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("complete", "success")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("complete", "failure")), 1e-9)
	assert.InDelta(t, 2000, testutil.ToFloat64(m.TokensTotal.WithLabelValues("input")), 1e-9)
	assert.InDelta(t, 400, testutil.ToFloat64(m.TokensTotal.WithLabelValues("output")), 1e-9)
}

func TestDefaultOptions(t *testing.T) {
	s := config.Defaults()
	s.AutoApprove = true
	s.DryRun = true
	o := New(&fakeTracker{}, &fakeAnalyzer{}, &s)
	assert.Equal(t, Options{AutoApprove: true, DryRun: true}, o.DefaultOptions())
}
