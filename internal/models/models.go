package models

import (
	"fmt"
	"strings"
	"time"
)

// WorkItem represents an Azure DevOps work item fetched from the tracking API.
// A WorkItem is built whole from one fetch and never mutated afterwards.
type WorkItem struct {
	ID                 int                    `json:"id"`
	Type               string                 `json:"work_item_type"`
	Title              string                 `json:"title"`
	State              string                 `json:"state"`
	Description        *string                `json:"description,omitempty"`
	AssignedTo         *string                `json:"assigned_to,omitempty"`
	CreatedBy          *string                `json:"created_by,omitempty"`
	CreatedDate        *time.Time             `json:"created_date,omitempty"`
	ChangedDate        *time.Time             `json:"changed_date,omitempty"`
	AreaPath           *string                `json:"area_path,omitempty"`
	IterationPath      *string                `json:"iteration_path,omitempty"`
	Tags               *string                `json:"tags,omitempty"`
	Priority           *int                   `json:"priority,omitempty"`
	RemainingWork      *float64               `json:"remaining_work,omitempty"`
	CompletedWork      *float64               `json:"completed_work,omitempty"`
	AcceptanceCriteria *string                `json:"acceptance_criteria,omitempty"`
	ReproSteps         *string                `json:"repro_steps,omitempty"`
	SystemInfo         *string                `json:"system_info,omitempty"`
	URL                *string                `json:"url,omitempty"`
	Fields             map[string]interface{} `json:"-"`
}

// ContextForAI renders the work item as the context block of an analysis prompt.
func (w *WorkItem) ContextForAI() string {
	parts := []string{
		fmt.Sprintf("Work Item ID: %d", w.ID),
		fmt.Sprintf("Type: %s", w.Type),
		fmt.Sprintf("Title: %s", w.Title),
		fmt.Sprintf("State: %s", w.State),
	}

	section := func(label string, v *string) {
		if v != nil && *v != "" {
			parts = append(parts, fmt.Sprintf("%s:\n%s", label, *v))
		}
	}
	section("Description", w.Description)
	section("Acceptance Criteria", w.AcceptanceCriteria)
	section("Reproduction Steps", w.ReproSteps)
	section("System Info", w.SystemInfo)

	if w.AssignedTo != nil && *w.AssignedTo != "" {
		parts = append(parts, "Assigned To: "+*w.AssignedTo)
	}
	if w.Priority != nil && *w.Priority != 0 {
		parts = append(parts, fmt.Sprintf("Priority: %d", *w.Priority))
	}
	if w.RemainingWork != nil {
		parts = append(parts, fmt.Sprintf("Remaining Work: %g hours", *w.RemainingWork))
	}
	if w.Tags != nil && *w.Tags != "" {
		parts = append(parts, "Tags: "+*w.Tags)
	}

	return strings.Join(parts, "\n\n")
}

// Comment represents a discussion comment on a work item
type Comment struct {
	ID           int        `json:"id"`
	Text         string     `json:"text"`
	CreatedBy    *string    `json:"created_by,omitempty"`
	CreatedDate  *time.Time `json:"created_date,omitempty"`
	ModifiedDate *time.Time `json:"modified_date,omitempty"`
}

// UpdateOutcome is the result of applying a field diff to a work item.
type UpdateOutcome struct {
	Success       bool     `json:"success"`
	WorkItemID    int      `json:"work_item_id"`
	UpdatedFields []string `json:"updated_fields"`
	ErrorMessage  string   `json:"error_message,omitempty"`
}

// AnalysisRequest is the payload the A2A agent accepts.
type AnalysisRequest struct {
	WorkItemID         int    `json:"workItemId"`
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
