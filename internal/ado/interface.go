package ado

import (
	"context"

	"github.com/tuannvm/ado-ai/internal/models"
)

// Tracker defines the work-item tracking operations the orchestrator uses
type Tracker interface {
	GetWorkItem(ctx context.Context, id int) (*models.WorkItem, error)
	GetComments(ctx context.Context, id int, top int) []models.Comment
	UpdateWorkItem(ctx context.Context, id int, fields map[string]interface{}, comment string) (*models.UpdateOutcome, error)
	AddComment(ctx context.Context, id int, text string) error
}

var _ Tracker = (*Client)(nil)
