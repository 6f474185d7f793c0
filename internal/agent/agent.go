// Package agent exposes work item analysis as an A2A agent skill.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"trpc.group/trpc-go/trpc-a2a-go/protocol"
	"trpc.group/trpc-go/trpc-a2a-go/taskmanager"

	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/workflow"
)

// SkillID is the id of the analysis skill on the agent card.
const SkillID = "analyze-work-item"

// Runner runs one analysis. *workflow.Orchestrator satisfies it.
type Runner interface {
	CompleteWorkItem(ctx context.Context, workItemID int, opts workflow.Options, sink workflow.ProgressSink) *workflow.Result
}

// statusHandle is the part of taskmanager.TaskHandle the agent uses.
type statusHandle interface {
	UpdateStatus(state protocol.TaskState, msg *protocol.Message) error
	AddArtifact(artifact protocol.Artifact) error
}

// Agent implements taskmanager.TaskProcessor for the analysis skill. Every
// task runs as a dry run: the analysis is returned, the work item is not
// touched.
type Agent struct {
	runner Runner
	model  string
}

var _ taskmanager.TaskProcessor = (*Agent)(nil)

// New creates an Agent. model is reported in artifact metadata and used for
// the cost estimate.
func New(runner Runner, model string) *Agent {
	return &Agent{runner: runner, model: model}
}

// TaskOutcome is the JSON body of a completed task's status message.
type TaskOutcome struct {
	RunID      string                 `json:"runId"`
	WorkItemID int                    `json:"workItemId"`
	Success    bool                   `json:"success"`
	Analysis   *models.AnalysisResult `json:"analysis,omitempty"`
	CostUSD    float64                `json:"costUsd"`
	Error      string                 `json:"error,omitempty"`
}

// Process implements taskmanager.TaskProcessor.
func (a *Agent) Process(ctx context.Context, taskID string, msg protocol.Message, handle taskmanager.TaskHandle) error {
	return a.process(ctx, taskID, msg, handle)
}

func (a *Agent) process(ctx context.Context, taskID string, msg protocol.Message, handle statusHandle) error {
	log := logging.With("task_id", taskID)

	if err := handle.UpdateStatus(protocol.TaskStateWorking, textMessage("request received")); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	req, err := ParseRequest(msg)
	if err != nil {
		log.Warnf("Rejecting task: %v", err)
		return a.finish(handle, protocol.TaskStateFailed, TaskOutcome{Error: err.Error()})
	}
	log = log.With("work_item_id", req.WorkItemID)
	log.Infof("Analyzing work item %d", req.WorkItemID)

	sink := workflow.SinkFunc(func(_ context.Context, ev workflow.Event) {
		text := string(ev.Step)
		if ev.Error != "" {
			text += ": " + ev.Error
		}
		if err := handle.UpdateStatus(protocol.TaskStateWorking, textMessage(text)); err != nil {
			log.Warnf("Failed to report step %s: %v", ev.Step, err)
		}
	})

	res := a.runner.CompleteWorkItem(ctx, req.WorkItemID, workflow.Options{
		DryRun:             true,
		CustomInstructions: req.CustomInstructions,
	}, sink)

	outcome := TaskOutcome{
		RunID:      res.RunID,
		WorkItemID: req.WorkItemID,
		Success:    res.Success,
		Analysis:   res.Analysis,
		Error:      res.ErrorMessage,
	}
	if !res.Success {
		log.Errorf("Analysis failed: %s", res.ErrorMessage)
		return a.finish(handle, protocol.TaskStateFailed, outcome)
	}
	if res.Analysis != nil {
		outcome.CostUSD = res.Analysis.TokenUsage.Cost(a.model)
		if err := handle.AddArtifact(a.artifact(res)); err != nil {
			return fmt.Errorf("failed to record artifact: %w", err)
		}
	}
	log.Infof("Task completed")
	return a.finish(handle, protocol.TaskStateCompleted, outcome)
}

func (a *Agent) artifact(res *workflow.Result) protocol.Artifact {
	body, _ := json.Marshal(res.Analysis)
	return protocol.Artifact{
		Name:        models.StringPtr("analysis"),
		Description: models.StringPtr(fmt.Sprintf("Analysis of work item %d", res.WorkItemID)),
		Parts:       []protocol.Part{protocol.NewTextPart(string(body))},
		Metadata: map[string]interface{}{
			"run_id":        res.RunID,
			"work_item_id":  res.WorkItemID,
			"model":         a.model,
			"input_tokens":  res.Analysis.TokenUsage.InputTokens,
			"output_tokens": res.Analysis.TokenUsage.OutputTokens,
		},
	}
}

// finish reports the terminal state. Failures are part of the task result,
// so only a failing handle is returned as an error.
func (a *Agent) finish(handle statusHandle, state protocol.TaskState, outcome TaskOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := handle.UpdateStatus(state, textMessage(string(body))); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

func textMessage(text string) *protocol.Message {
	return &protocol.Message{Parts: []protocol.Part{protocol.NewTextPart(text)}}
}
