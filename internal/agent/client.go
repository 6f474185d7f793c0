package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"trpc.group/trpc-go/trpc-a2a-go/client"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/models"
)

// NewClient creates an A2A client for targetURL. Only API key auth attaches
// credentials; JWT tokens are issued outside this tool.
func NewClient(targetURL, authType, apiKey string) (*client.A2AClient, error) {
	var (
		c   *client.A2AClient
		err error
	)
	switch authType {
	case "apikey":
		c, err = client.NewA2AClient(targetURL, client.WithAPIKeyAuth(apiKey, APIKeyHeader))
	case "":
		c, err = client.NewA2AClient(targetURL)
	default:
		logging.Warnf("Auth type %q is not supported by the client, sending unauthenticated requests", authType)
		c, err = client.NewA2AClient(targetURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create A2A client: %w", err)
	}
	return c, nil
}

// RequestMessage wraps req in a single JSON text part.
func RequestMessage(req models.AnalysisRequest) (protocol.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	return protocol.Message{Parts: []protocol.Part{protocol.NewTextPart(string(body))}}, nil
}

// SendAnalysis submits an analysis task.
func SendAnalysis(ctx context.Context, c *client.A2AClient, req models.AnalysisRequest) (*protocol.Task, error) {
	msg, err := RequestMessage(req)
	if err != nil {
		return nil, err
	}
	task, err := c.SendTasks(ctx, protocol.SendTaskParams{ID: uuid.NewString(), Message: msg})
	if err != nil {
		return nil, fmt.Errorf("SendTasks RPC failed: %w", err)
	}
	return task, nil
}

// IsTerminal reports whether a task in state s will not change again.
func IsTerminal(s protocol.TaskState) bool {
	switch s {
	case protocol.TaskStateCompleted, protocol.TaskStateFailed, protocol.TaskStateCanceled:
		return true
	}
	return false
}

// WaitForTask polls the task every interval until it reaches a terminal
// state or ctx is done.
func WaitForTask(ctx context.Context, c *client.A2AClient, taskID string, interval time.Duration) (*protocol.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTasks(ctx, protocol.TaskQueryParams{ID: taskID})
		if err != nil {
			return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
		}
		logging.Debugf("Task %s state: %s", taskID, task.Status.State)
		if IsTerminal(task.Status.State) {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ParseOutcome decodes the outcome carried by a finished task's status
// message.
func ParseOutcome(task *protocol.Task) (*TaskOutcome, error) {
	if task == nil || task.Status.Message == nil {
		return nil, fmt.Errorf("task has no status message")
	}
	for _, part := range task.Status.Message.Parts {
		text, ok := partText(part)
		if !ok {
			continue
		}
		var out TaskOutcome
		if err := json.Unmarshal([]byte(text), &out); err == nil && (out.WorkItemID != 0 || out.Error != "") {
			return &out, nil
		}
	}
	return nil, fmt.Errorf("task status carries no outcome")
}
