package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is an account. The web service runs in single-user mode and uses the
// first active user.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     *string    `json:"email,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// UserSettings holds a user's connection settings. Credential columns hold
// ciphertext; decryption is the caller's concern.
type UserSettings struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	PATEncrypted    string    `json:"-"`
	APIKeyEncrypted *string   `json:"-"`
	OrgURL          string    `json:"azure_devops_org_url"`
	Project         string    `json:"azure_devops_project"`
	Model           string    `json:"claude_model"`
	WorkFolderPath  *string   `json:"work_folder_path,omitempty"`
	AutoApprove     bool      `json:"auto_approve"`
	MaxTokens       int       `json:"max_tokens"`
	Temperature     float64   `json:"temperature"`
	MaxRetries      int       `json:"max_retries"`
	TimeoutSeconds  int       `json:"timeout_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ErrUsernameTaken is returned when creating a user whose name exists.
var ErrUsernameTaken = errors.New("username already exists")

// CreateUserWithSettings inserts a user and its settings in one transaction.
// IDs and timestamps are assigned on the passed structs.
func (s *Store) CreateUserWithSettings(ctx context.Context, u *User, us *UserSettings) error {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM users WHERE username = $1`), u.Username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	u.ID = s.nextID()
	u.CreatedAt = now
	u.IsActive = true
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, username, email, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)`),
		u.ID, u.Username, nullString(u.Email), u.IsActive, u.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	us.ID = s.nextID()
	us.UserID = u.ID
	us.CreatedAt = now
	us.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO user_settings (id, user_id, azure_devops_pat_encrypted, anthropic_api_key_encrypted,
			azure_devops_org_url, azure_devops_project, claude_model, work_folder_path, auto_approve,
			max_tokens, temperature, max_retries, timeout_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`),
		us.ID, us.UserID, us.PATEncrypted, nullString(us.APIKeyEncrypted),
		us.OrgURL, us.Project, us.Model, nullString(us.WorkFolderPath), us.AutoApprove,
		us.MaxTokens, us.Temperature, us.MaxRetries, us.TimeoutSeconds, us.CreatedAt, us.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DefaultUser returns the first active user.
func (s *Store) DefaultUser(ctx context.Context) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, username, email, is_active, created_at, last_login
		FROM users WHERE is_active = $1 ORDER BY created_at, id LIMIT 1`), true)

	u := &User{}
	var email sql.NullString
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &email, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load default user: %w", err)
	}
	u.Email = stringPtr(email)
	u.LastLogin = timePtr(lastLogin)
	return u, nil
}

// TouchLogin records a login time for the user.
func (s *Store) TouchLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET last_login = $1 WHERE id = $2`), s.now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// DeleteUser removes a user and, by cascade, all owned rows.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = $1`), userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSettings loads the settings of a user.
func (s *Store) GetSettings(ctx context.Context, userID int64) (*UserSettings, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, azure_devops_pat_encrypted, anthropic_api_key_encrypted,
			azure_devops_org_url, azure_devops_project, claude_model, work_folder_path, auto_approve,
			max_tokens, temperature, max_retries, timeout_seconds, created_at, updated_at
		FROM user_settings WHERE user_id = $1`), userID)

	us := &UserSettings{}
	var apiKey, folder sql.NullString
	err := row.Scan(&us.ID, &us.UserID, &us.PATEncrypted, &apiKey,
		&us.OrgURL, &us.Project, &us.Model, &folder, &us.AutoApprove,
		&us.MaxTokens, &us.Temperature, &us.MaxRetries, &us.TimeoutSeconds, &us.CreatedAt, &us.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	us.APIKeyEncrypted = stringPtr(apiKey)
	us.WorkFolderPath = stringPtr(folder)
	return us, nil
}

// UpdateSettings writes every mutable column of us and bumps updated_at.
func (s *Store) UpdateSettings(ctx context.Context, us *UserSettings) error {
	us.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE user_settings SET
			azure_devops_pat_encrypted = $1, anthropic_api_key_encrypted = $2,
			azure_devops_org_url = $3, azure_devops_project = $4, claude_model = $5,
			work_folder_path = $6, auto_approve = $7, max_tokens = $8, temperature = $9,
			max_retries = $10, timeout_seconds = $11, updated_at = $12
		WHERE user_id = $13`),
		us.PATEncrypted, nullString(us.APIKeyEncrypted),
		us.OrgURL, us.Project, us.Model,
		nullString(us.WorkFolderPath), us.AutoApprove, us.MaxTokens, us.Temperature,
		us.MaxRetries, us.TimeoutSeconds, us.UpdatedAt, us.UserID)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
