package workflow

import (
	"context"

	"github.com/tuannvm/ado-ai/internal/models"
)

// Step names a stage of a run.
type Step string

const (
	StepFetching         Step = "fetching"
	StepFetchingComments Step = "fetching_comments"
	StepAnalyzing        Step = "analyzing"
	StepDryRunComplete   Step = "dry_run_complete"
	StepUpdating         Step = "updating"
	StepCompleted        Step = "completed"
	StepFailed           Step = "failed"
	StepError            Step = "error"
)

// Event is emitted to the progress sink at every step.
type Event struct {
	RunID      string `json:"run_id"`
	Step       Step   `json:"step"`
	WorkItemID int    `json:"work_item_id"`
	Error      string `json:"error,omitempty"`
}

// ProgressSink receives step events. Emit must not block the run for long;
// sinks backed by slow stores should hand off asynchronously.
type ProgressSink interface {
	Emit(ctx context.Context, ev Event)
}

// ConfirmRequest is what an interactive sink shows before asking for approval.
type ConfirmRequest struct {
	WorkItem *models.WorkItem
	Analysis *models.AnalysisResult
	Fields   map[string]interface{}
	Model    string
}

// Confirmer is the optional synchronous approval capability of a sink.
// A sink without it cannot approve changes, which the orchestrator treats
// as a decline.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard ProgressSink = SinkFunc(func(context.Context, Event) {})
