package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/ado-ai/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store) (*User, *UserSettings) {
	t.Helper()
	u := &User{Username: "default"}
	us := &UserSettings{
		PATEncrypted:   "cipher-pat",
		OrgURL:         "https://dev.azure.com/acme",
		Project:        "Platform",
		Model:          "claude-opus-4-6",
		MaxTokens:      4096,
		Temperature:    0.7,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
	require.NoError(t, s.CreateUserWithSettings(context.Background(), u, us))
	return u, us
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn, driver, source string
	}{
		{"postgres://u:p@db/ado", DriverPostgres, "postgres://u:p@db/ado"},
		{"postgresql://db/ado", DriverPostgres, "postgresql://db/ado"},
		{"sqlite://ado_ai.db", DriverSQLite, "ado_ai.db"},
		{"ado_ai.db", DriverSQLite, "ado_ai.db"},
		{":memory:", DriverSQLite, ":memory:"},
	}
	for _, tt := range tests {
		driver, source := DriverFor(tt.dsn)
		assert.Equal(t, tt.driver, driver, tt.dsn)
		assert.Equal(t, tt.source, source, tt.dsn)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverSQLite}
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", s.rebind("SELECT * FROM t WHERE a = $1 AND b = $2"))
	s.driver = DriverPostgres
	assert.Equal(t, "SELECT * FROM t WHERE a = $1", s.rebind("SELECT * FROM t WHERE a = $1"))
}

func TestUsersAndSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DefaultUser(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	u, us := seedUser(t, s)
	assert.NotZero(t, u.ID)
	assert.Equal(t, u.ID, us.UserID)

	got, err := s.DefaultUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "default", got.Username)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastLogin)

	err = s.CreateUserWithSettings(ctx, &User{Username: "default"}, &UserSettings{})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	loaded, err := s.GetSettings(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "cipher-pat", loaded.PATEncrypted)
	assert.Nil(t, loaded.APIKeyEncrypted)
	assert.Nil(t, loaded.WorkFolderPath)
	assert.Equal(t, "Platform", loaded.Project)
	assert.InDelta(t, 0.7, loaded.Temperature, 1e-9)

	key := "cipher-key"
	folder := "/srv/work"
	loaded.APIKeyEncrypted = &key
	loaded.WorkFolderPath = &folder
	loaded.AutoApprove = true
	require.NoError(t, s.UpdateSettings(ctx, loaded))

	again, err := s.GetSettings(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "cipher-key", *again.APIKeyEncrypted)
	assert.Equal(t, "/srv/work", *again.WorkFolderPath)
	assert.True(t, again.AutoApprove)

	require.NoError(t, s.TouchLogin(ctx, u.ID))
	got, err = s.DefaultUser(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLogin)

	_, err = s.GetSettings(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateSettings(ctx, &UserSettings{UserID: 999}), ErrNotFound)
}

func TestHistoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := seedUser(t, s)

	prompt := "focus on tests"
	h := &History{UserID: u.ID, WorkItemID: 42, CustomPrompt: &prompt}
	require.NoError(t, s.CreateHistory(ctx, h))
	assert.NotZero(t, h.ID)
	assert.Equal(t, StatusPending, h.Status)

	got, err := s.GetHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "focus on tests", *got.CustomPrompt)
	assert.Nil(t, got.AnalysisResult)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.SetHistoryStatus(ctx, h.ID, StatusAnalyzing))
	got, err = s.GetHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzing, got.Status)

	cost := 0.0125
	h.Status = StatusCompleted
	h.WorkItemType = models.StringPtr("Bug")
	h.Title = models.StringPtr("Crash on save")
	h.AnalysisResult = &models.AnalysisResult{
		Analysis:    "null deref",
		Tasks:       []string{"add check"},
		Risks:       []string{},
		FileChanges: []models.FileChange{{Path: "fix.go", Content: "package fix"}},
	}
	h.TokenUsage = &models.TokenUsage{InputTokens: 1500, OutputTokens: 200}
	h.Cost = &cost
	require.NoError(t, s.FinishHistory(ctx, h))

	got, err = s.GetHistory(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "Bug", *got.WorkItemType)
	require.NotNil(t, got.AnalysisResult)
	assert.Equal(t, "null deref", got.AnalysisResult.Analysis)
	assert.Equal(t, []models.FileChange{{Path: "fix.go", Content: "package fix"}}, got.AnalysisResult.FileChanges)
	assert.Equal(t, models.TokenUsage{InputTokens: 1500, OutputTokens: 200}, *got.TokenUsage)
	assert.InDelta(t, 0.0125, *got.Cost, 1e-9)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, time.Now(), *got.CompletedAt, time.Minute)

	_, err = s.GetHistory(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetHistoryStatus(ctx, 12345, StatusFailed), ErrNotFound)
}

func TestListHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := seedUser(t, s)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.CreateHistory(ctx, &History{UserID: u.ID, WorkItemID: i}))
	}

	page, total, err := s.ListHistory(ctx, u.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 5, page[0].WorkItemID, "newest first")
	assert.Equal(t, 4, page[1].WorkItemID)

	page, _, err = s.ListHistory(ctx, u.ID, 10, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].WorkItemID)

	page, total, err = s.ListHistory(ctx, 999, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}

func TestFileAccessLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := seedUser(t, s)

	item := 42
	msg := "path escapes work folder"
	require.NoError(t, s.LogFileAccess(ctx, &FileAccessLog{UserID: u.ID, WorkItemID: &item, FilePath: "src/a.go", Operation: FileOpWrite, Success: true}))
	require.NoError(t, s.LogFileAccess(ctx, &FileAccessLog{UserID: u.ID, FilePath: "../etc/passwd", Operation: FileOpWrite, ErrorMessage: &msg}))

	logs, err := s.ListFileAccess(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "../etc/passwd", logs[0].FilePath)
	assert.False(t, logs[0].Success)
	assert.Equal(t, msg, *logs[0].ErrorMessage)
	assert.Nil(t, logs[0].WorkItemID)
	assert.Equal(t, 42, *logs[1].WorkItemID)
	assert.True(t, logs[1].Success)
}

func TestDeleteUserCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := seedUser(t, s)
	require.NoError(t, s.CreateHistory(ctx, &History{UserID: u.ID, WorkItemID: 1}))

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, total, err := s.ListHistory(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	_, err = s.GetSettings(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), ErrNotFound)
}
