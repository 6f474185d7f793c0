package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tuannvm/ado-ai/internal/models"
)

// HistoryStatus is the lifecycle of a background analysis record.
type HistoryStatus string

const (
	StatusPending   HistoryStatus = "pending"
	StatusAnalyzing HistoryStatus = "analyzing"
	StatusCompleted HistoryStatus = "completed"
	StatusFailed    HistoryStatus = "failed"
)

// History is one analysis run requested through the web API.
type History struct {
	ID             int64                  `json:"id"`
	UserID         int64                  `json:"user_id"`
	WorkItemID     int                    `json:"work_item_id"`
	WorkItemType   *string                `json:"work_item_type"`
	Title          *string                `json:"title"`
	AnalysisResult *models.AnalysisResult `json:"analysis_result"`
	CustomPrompt   *string                `json:"custom_prompt"`
	WorkFolderPath *string                `json:"work_folder_path"`
	Status         HistoryStatus          `json:"status"`
	ErrorMessage   *string                `json:"error_message"`
	TokenUsage     *models.TokenUsage     `json:"token_usage"`
	Cost           *float64               `json:"cost"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at"`
}

const historyColumns = `id, user_id, work_item_id, work_item_type, title, analysis_result, custom_prompt,
	work_folder_path, status, error_message, token_usage, cost, created_at, completed_at`

// CreateHistory inserts h with a new id and creation time. The status
// defaults to pending.
func (s *Store) CreateHistory(ctx context.Context, h *History) error {
	h.ID = s.nextID()
	h.CreatedAt = s.now()
	if h.Status == "" {
		h.Status = StatusPending
	}
	analysis, usage, err := encodeHistoryJSON(h)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO work_item_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`),
		h.ID, h.UserID, h.WorkItemID, nullString(h.WorkItemType), nullString(h.Title), analysis,
		nullString(h.CustomPrompt), nullString(h.WorkFolderPath), string(h.Status), nullString(h.ErrorMessage),
		usage, nullFloat(h.Cost), h.CreatedAt, nullTime(h.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}
	return nil
}

// SetHistoryStatus moves a record to status.
func (s *Store) SetHistoryStatus(ctx context.Context, id int64, status HistoryStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE work_item_history SET status = $1 WHERE id = $2`), string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update history status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishHistory writes the outcome columns of h and stamps completed_at.
func (s *Store) FinishHistory(ctx context.Context, h *History) error {
	now := s.now()
	h.CompletedAt = &now
	analysis, usage, err := encodeHistoryJSON(h)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE work_item_history SET
			work_item_type = $1, title = $2, analysis_result = $3, status = $4,
			error_message = $5, token_usage = $6, cost = $7, completed_at = $8
		WHERE id = $9`),
		nullString(h.WorkItemType), nullString(h.Title), analysis, string(h.Status),
		nullString(h.ErrorMessage), usage, nullFloat(h.Cost), h.CompletedAt, h.ID)
	if err != nil {
		return fmt.Errorf("failed to finish history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetHistory loads one record.
func (s *Store) GetHistory(ctx context.Context, id int64) (*History, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+historyColumns+` FROM work_item_history WHERE id = $1`), id)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

// ListHistory returns a user's records newest first, and the total count.
func (s *Store) ListHistory(ctx context.Context, userID int64, limit, offset int) ([]*History, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM work_item_history WHERE user_id = $1`), userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+historyColumns+` FROM work_item_history
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`), userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	out := []*History{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read history: %w", err)
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHistory(sc scanner) (*History, error) {
	h := &History{}
	var (
		itemType, title, analysis, prompt, folder, errMsg, usage sql.NullString
		status                                                   string
		cost                                                     sql.NullFloat64
		completed                                                sql.NullTime
	)
	err := sc.Scan(&h.ID, &h.UserID, &h.WorkItemID, &itemType, &title, &analysis, &prompt,
		&folder, &status, &errMsg, &usage, &cost, &h.CreatedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}

	h.WorkItemType = stringPtr(itemType)
	h.Title = stringPtr(title)
	h.CustomPrompt = stringPtr(prompt)
	h.WorkFolderPath = stringPtr(folder)
	h.Status = HistoryStatus(status)
	h.ErrorMessage = stringPtr(errMsg)
	h.CompletedAt = timePtr(completed)
	if cost.Valid {
		c := cost.Float64
		h.Cost = &c
	}
	if analysis.Valid && analysis.String != "" {
		h.AnalysisResult = &models.AnalysisResult{}
		if err := json.Unmarshal([]byte(analysis.String), h.AnalysisResult); err != nil {
			return nil, fmt.Errorf("failed to decode analysis result %d: %w", h.ID, err)
		}
	}
	if usage.Valid && usage.String != "" {
		h.TokenUsage = &models.TokenUsage{}
		if err := json.Unmarshal([]byte(usage.String), h.TokenUsage); err != nil {
			return nil, fmt.Errorf("failed to decode token usage %d: %w", h.ID, err)
		}
	}
	return h, nil
}

func encodeHistoryJSON(h *History) (analysis, usage sql.NullString, err error) {
	if h.AnalysisResult != nil {
		b, err := json.Marshal(h.AnalysisResult)
		if err != nil {
			return analysis, usage, fmt.Errorf("failed to encode analysis result: %w", err)
		}
		analysis = sql.NullString{String: string(b), Valid: true}
	}
	if h.TokenUsage != nil {
		b, err := json.Marshal(h.TokenUsage)
		if err != nil {
			return analysis, usage, fmt.Errorf("failed to encode token usage: %w", err)
		}
		usage = sql.NullString{String: string(b), Valid: true}
	}
	return analysis, usage, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
