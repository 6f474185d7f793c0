package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// File operations recorded in the audit log.
const (
	FileOpRead   = "read"
	FileOpWrite  = "write"
	FileOpList   = "list"
	FileOpDelete = "delete"
)

// FileAccessLog is one audited file operation.
type FileAccessLog struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	WorkItemID   *int      `json:"work_item_id,omitempty"`
	FilePath     string    `json:"file_path"`
	Operation    string    `json:"operation"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// LogFileAccess appends an audit entry.
func (s *Store) LogFileAccess(ctx context.Context, l *FileAccessLog) error {
	l.ID = s.nextID()
	l.Timestamp = s.now()

	var workItem sql.NullInt64
	if l.WorkItemID != nil {
		workItem = sql.NullInt64{Int64: int64(*l.WorkItemID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO file_access_logs (id, user_id, work_item_id, file_path, operation, success, error_message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		l.ID, l.UserID, workItem, l.FilePath, l.Operation, l.Success, nullString(l.ErrorMessage), l.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to log file access: %w", err)
	}
	return nil
}

// ListFileAccess returns a user's most recent audit entries.
func (s *Store) ListFileAccess(ctx context.Context, userID int64, limit int) ([]*FileAccessLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, work_item_id, file_path, operation, success, error_message, timestamp
		FROM file_access_logs WHERE user_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list file access: %w", err)
	}
	defer rows.Close()

	out := []*FileAccessLog{}
	for rows.Next() {
		l := &FileAccessLog{}
		var workItem sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &workItem, &l.FilePath, &l.Operation, &l.Success, &errMsg, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan file access: %w", err)
		}
		if workItem.Valid {
			id := int(workItem.Int64)
			l.WorkItemID = &id
		}
		l.ErrorMessage = stringPtr(errMsg)
		out = append(out, l)
	}
	return out, rows.Err()
}
