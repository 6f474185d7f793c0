package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/store"
)

// SetupService manages the user's configuration.
type SetupService interface {
	Status(ctx context.Context) (*SetupStatus, error)
	Setup(ctx context.Context, req SetupRequest) (*store.User, error)
	Config(ctx context.Context) (*ConfigView, error)
	UpdateConfig(ctx context.Context, req UpdateConfigRequest) (*ConfigView, error)
}

// WorkItemService runs analyses and serves their history.
type WorkItemService interface {
	FetchWorkItem(ctx context.Context, workItemID int) (*WorkItemView, error)
	Analyze(ctx context.Context, workItemID int, req AnalyzeRequest) (*store.History, error)
	GetHistory(ctx context.Context, historyID int64) (*store.History, error)
	ListHistory(ctx context.Context, limit, offset int) (*HistoryPage, error)
	ApplyFiles(ctx context.Context, historyID int64) (*ApplyFilesResult, error)
	HandleServiceHook(ctx context.Context, payload []byte) (*HookResult, error)
}

// FileBrowser lists server directories for choosing a work folder.
type FileBrowser interface {
	Browse(path string) (*BrowseResult, error)
	ValidatePath(path string) *PathValidation
}

var (
	_ SetupService    = (*SettingsManager)(nil)
	_ WorkItemService = (*WorkflowService)(nil)
	_ FileBrowser     = (*Browser)(nil)
)

// Handler serves the JSON API.
type Handler struct {
	setup      SetupService
	workItems  WorkItemService
	files      FileBrowser
	hookSecret string
}

// NewHandler creates a Handler. An empty hookSecret leaves the service hook
// endpoint unauthenticated.
func NewHandler(setup SetupService, workItems WorkItemService, files FileBrowser, hookSecret string) *Handler {
	return &Handler{setup: setup, workItems: workItems, files: files, hookSecret: hookSecret}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyConfigured), errors.Is(err, ErrNoAPIKey),
		errors.Is(err, ErrNoWorkFolder), errors.Is(err, ErrNoFileChanges),
		errors.Is(err, ErrWorkFolderMissing), errors.Is(err, ErrInvalidHook),
		errors.Is(err, store.ErrUsernameTaken):
		return http.StatusBadRequest
	case errors.Is(err, ErrPathNotAllowed):
		return http.StatusForbidden
	}

	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConfiguration:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindBackend, apperr.KindLLM:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Errorf("Failed to %s: %v", action, err)
	} else {
		logging.Debugf("Failed to %s: %v", action, err)
	}
	c.JSON(status, gin.H{"error": fmt.Sprintf("failed to %s: %v", action, err)})
}

// SetupStatus reports whether setup is complete.
func (h *Handler) SetupStatus(c *gin.Context) {
	st, err := h.setup.Status(c.Request.Context())
	if err != nil {
		h.fail(c, "read setup status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Setup creates the user and its settings.
func (h *Handler) Setup(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	u, err := h.setup.Setup(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "complete setup", err)
		return
	}
	logging.Infof("Setup completed for user %s", u.Username)
	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"message":  "setup completed",
		"user_id":  u.ID,
		"username": u.Username,
	})
}

// GetConfig returns the redacted configuration.
func (h *Handler) GetConfig(c *gin.Context) {
	v, err := h.setup.Config(c.Request.Context())
	if err != nil {
		h.fail(c, "read configuration", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// UpdateConfig applies a partial configuration update.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	v, err := h.setup.UpdateConfig(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "update configuration", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetWorkItem returns a work item with its recent comments.
func (h *Handler) GetWorkItem(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	v, err := h.workItems.FetchWorkItem(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "fetch work item", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Analyze starts a background analysis and returns its tracking record.
func (h *Handler) Analyze(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req AnalyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	rec, err := h.workItems.Analyze(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, "start analysis", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":           rec.ID,
		"history_id":   rec.ID,
		"work_item_id": rec.WorkItemID,
		"status":       rec.Status,
		"created_at":   rec.CreatedAt,
	})
}

// GetHistory returns one analysis record.
func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := int64Param(c, "historyId")
	if !ok {
		return
	}
	rec, err := h.workItems.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "load analysis", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListHistory pages through analysis records.
func (h *Handler) ListHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	page, err := h.workItems.ListHistory(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, "list analyses", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ApplyFiles writes an analysis's file changes into its work folder.
func (h *Handler) ApplyFiles(c *gin.Context) {
	id, ok := int64Param(c, "historyId")
	if !ok {
		return
	}
	res, err := h.workItems.ApplyFiles(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "apply file changes", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ServiceHook receives Azure DevOps work item notifications.
func (h *Handler) ServiceHook(c *gin.Context) {
	if h.hookSecret != "" {
		_, pass, _ := c.Request.BasicAuth()
		if subtle.ConstantTimeCompare([]byte(pass), []byte(h.hookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	res, err := h.workItems.HandleServiceHook(c.Request.Context(), body)
	if err != nil {
		h.fail(c, "handle service hook", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BrowseFiles lists a directory on the server.
func (h *Handler) BrowseFiles(c *gin.Context) {
	res, err := h.files.Browse(c.Query("path"))
	if err != nil {
		c.JSON(browseStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ValidatePath checks a candidate work folder.
func (h *Handler) ValidatePath(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	c.JSON(http.StatusOK, h.files.ValidatePath(path))
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return v, true
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return v, true
}
