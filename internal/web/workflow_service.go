package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tuannvm/ado-ai/internal/ado"
	"github.com/tuannvm/ado-ai/internal/analysis"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/llm"
	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/metrics"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/store"
	"github.com/tuannvm/ado-ai/internal/workflow"
)

const (
	// webCommentLimit is how many comments the work item view returns.
	webCommentLimit = 10

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var (
	// ErrNoWorkFolder means a record has no work folder to write into.
	ErrNoWorkFolder = errors.New("no work folder path specified for this analysis")
	// ErrNoFileChanges means a record's analysis proposed no files.
	ErrNoFileChanges = errors.New("no file changes found in analysis result")
	// ErrWorkFolderMissing means the work folder is not an existing directory.
	ErrWorkFolderMissing = errors.New("work folder does not exist")
	// ErrInvalidHook means a service hook body could not be understood.
	ErrInvalidHook = errors.New("invalid service hook payload")
)

// Runner is the part of the orchestrator the web service drives.
type Runner interface {
	FetchWorkItem(ctx context.Context, workItemID int, sink workflow.ProgressSink) *workflow.Result
	CompleteWorkItem(ctx context.Context, workItemID int, opts workflow.Options, sink workflow.ProgressSink) *workflow.Result
}

// Session is a runner and tracker built from one user's credentials.
type Session struct {
	Runner  Runner
	Tracker ado.Tracker
	Model   string
}

// SessionFactory builds a Session from decrypted settings.
type SessionFactory func(s *config.Settings) (*Session, error)

// DefaultSessionFactory wires the Azure DevOps client, the LLM backend and
// the orchestrator.
func DefaultSessionFactory(m *metrics.Metrics) SessionFactory {
	return func(s *config.Settings) (*Session, error) {
		tracker := ado.NewClient(s)
		backend, err := llm.NewClient(s)
		if err != nil {
			return nil, err
		}
		analyzer := analysis.NewClient(s, backend)
		return &Session{
			Runner:  workflow.New(tracker, analyzer, s, workflow.WithMetrics(m)),
			Tracker: tracker,
			Model:   analyzer.Model(),
		}, nil
	}
}

// WorkflowService runs analyses on behalf of the configured user and keeps
// their history.
type WorkflowService struct {
	settings *SettingsManager
	store    *store.Store
	factory  SessionFactory
	metrics  *metrics.Metrics

	// background runs outlive the request that started them
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewWorkflowService creates a WorkflowService. Background runs use ctx and
// stop when it is cancelled.
func NewWorkflowService(ctx context.Context, settings *SettingsManager, st *store.Store, factory SessionFactory, m *metrics.Metrics) *WorkflowService {
	if ctx == nil {
		ctx = context.Background()
	}
	return &WorkflowService{
		settings: settings,
		store:    st,
		factory:  factory,
		metrics:  m,
		baseCtx:  ctx,
	}
}

// Wait blocks until background runs finish or ctx is done.
func (s *WorkflowService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommentView is a comment with its HTML removed.
type CommentView struct {
	ID           int        `json:"id"`
	Text         string     `json:"text"`
	CreatedBy    *string    `json:"created_by"`
	CreatedDate  *time.Time `json:"created_date"`
	ModifiedDate *time.Time `json:"modified_date"`
}

// WorkItemView is the work item returned by GET /api/work-items/:id.
type WorkItemView struct {
	WorkItemID    int           `json:"work_item_id"`
	WorkItemType  string        `json:"work_item_type"`
	Title         string        `json:"title"`
	State         string        `json:"state"`
	Description   string        `json:"description"`
	AssignedTo    *string       `json:"assigned_to"`
	Priority      *int          `json:"priority"`
	RemainingWork *float64      `json:"remaining_work"`
	Tags          *string       `json:"tags"`
	URL           *string       `json:"url"`
	Comments      []CommentView `json:"comments"`
}

// AnalyzeRequest is the body of POST /api/work-items/:id/analyze.
type AnalyzeRequest struct {
	CustomPrompt   *string `json:"custom_prompt"`
	WorkFolderPath *string `json:"work_folder_path"`
}

// ApplyFilesResult summarises an apply-files call.
type ApplyFilesResult struct {
	Success        bool         `json:"success"`
	WorkFolder     string       `json:"work_folder"`
	FilesProcessed int          `json:"files_processed"`
	FilesSucceeded int          `json:"files_succeeded"`
	FilesFailed    int          `json:"files_failed"`
	Results        []FileResult `json:"results"`
}

// HistoryPage is one page of history records.
type HistoryPage struct {
	Items  []*store.History `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (s *WorkflowService) session(ctx context.Context) (*Session, *config.Settings, *store.User, *store.UserSettings, error) {
	cfg, u, us, err := s.settings.Credentials(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sess, err := s.factory(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return sess, cfg, u, us, nil
}

// FetchWorkItem returns a work item and its latest comments as plain text.
func (s *WorkflowService) FetchWorkItem(ctx context.Context, workItemID int) (*WorkItemView, error) {
	sess, _, _, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	res := sess.Runner.FetchWorkItem(ctx, workItemID, nil)
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("failed to fetch work item: %s", res.ErrorMessage)
	}

	wi := res.WorkItem
	view := &WorkItemView{
		WorkItemID:    wi.ID,
		WorkItemType:  wi.Type,
		Title:         wi.Title,
		State:         wi.State,
		Description:   stripHTMLPtr(wi.Description),
		AssignedTo:    wi.AssignedTo,
		Priority:      wi.Priority,
		RemainingWork: wi.RemainingWork,
		Tags:          wi.Tags,
		URL:           wi.URL,
		Comments:      []CommentView{},
	}
	for _, c := range sess.Tracker.GetComments(ctx, workItemID, webCommentLimit) {
		view.Comments = append(view.Comments, CommentView{
			ID:           c.ID,
			Text:         stripHTML(c.Text),
			CreatedBy:    c.CreatedBy,
			CreatedDate:  c.CreatedDate,
			ModifiedDate: c.ModifiedDate,
		})
	}
	return view, nil
}

// Analyze records a pending analysis and runs it in the background as a dry
// run. Poll GetHistory with the returned record's id for the outcome.
func (s *WorkflowService) Analyze(ctx context.Context, workItemID int, req AnalyzeRequest) (*store.History, error) {
	sess, _, u, us, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	folder := req.WorkFolderPath
	if folder == nil || *folder == "" {
		folder = us.WorkFolderPath
	}
	h := &store.History{
		UserID:         u.ID,
		WorkItemID:     workItemID,
		CustomPrompt:   req.CustomPrompt,
		WorkFolderPath: folder,
		Status:         store.StatusPending,
	}
	if err := s.store.CreateHistory(ctx, h); err != nil {
		return nil, err
	}

	s.startRun(sess, h)
	return h, nil
}

func (s *WorkflowService) startRun(sess *Session, h *store.History) {
	record := *h
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.BackgroundRuns.Inc()
	}
	go func() {
		defer s.wg.Done()
		if s.metrics != nil {
			defer s.metrics.BackgroundRuns.Dec()
		}
		s.runAnalysis(sess, &record)
	}()
}

func (s *WorkflowService) runAnalysis(sess *Session, h *store.History) {
	log := logging.With("history_id", h.ID, "work_item_id", h.WorkItemID)
	log.Infof("Starting background analysis")

	sink := &historySink{store: s.store, historyID: h.ID, log: log}
	res := sess.Runner.CompleteWorkItem(s.baseCtx, h.WorkItemID, workflow.Options{
		DryRun:             true,
		CustomInstructions: models.Deref(h.CustomPrompt),
	}, sink)

	if res.WorkItem != nil {
		h.WorkItemType = models.StringPtr(res.WorkItem.Type)
		h.Title = models.StringPtr(res.WorkItem.Title)
	}
	if res.Success {
		h.Status = store.StatusCompleted
		h.AnalysisResult = res.Analysis
		usage := res.Analysis.TokenUsage
		cost := usage.Cost(sess.Model)
		h.TokenUsage = &usage
		h.Cost = &cost
	} else {
		h.Status = store.StatusFailed
		h.ErrorMessage = models.StringPtr(res.ErrorMessage)
	}

	// the run context may already be cancelled on shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), 10*time.Second)
	defer cancel()
	if err := s.store.FinishHistory(ctx, h); err != nil {
		log.Errorf("Failed to record analysis outcome: %v", err)
		return
	}
	log.Infof("Background analysis finished with status %s", h.Status)
}

// historySink moves the history record to analyzing once the LLM call starts.
type historySink struct {
	store     *store.Store
	historyID int64
	log       *zap.SugaredLogger
}

func (h *historySink) Emit(ctx context.Context, ev workflow.Event) {
	h.log.Debugf("Workflow step: %s", ev.Step)
	if ev.Step != workflow.StepAnalyzing {
		return
	}
	if err := h.store.SetHistoryStatus(ctx, h.historyID, store.StatusAnalyzing); err != nil {
		h.log.Warnf("Failed to update history status: %v", err)
	}
}

// GetHistory returns a record owned by the configured user.
func (s *WorkflowService) GetHistory(ctx context.Context, historyID int64) (*store.History, error) {
	u, err := s.settings.DefaultUser(ctx)
	if err != nil {
		return nil, err
	}
	h, err := s.store.GetHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if h.UserID != u.ID {
		return nil, store.ErrNotFound
	}
	return h, nil
}

// ListHistory returns the configured user's records newest first. limit is
// clamped to 1..100 and defaults to 20.
func (s *WorkflowService) ListHistory(ctx context.Context, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	page := &HistoryPage{Items: []*store.History{}, Limit: limit, Offset: offset}

	u, err := s.settings.DefaultUser(ctx)
	if errors.Is(err, ErrNotConfigured) {
		return page, nil
	}
	if err != nil {
		return nil, err
	}
	items, total, err := s.store.ListHistory(ctx, u.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	page.Items, page.Total = items, total
	return page, nil
}

// ApplyFiles writes a record's proposed file changes into its work folder.
// Each file is attempted independently and audited.
func (s *WorkflowService) ApplyFiles(ctx context.Context, historyID int64) (*ApplyFilesResult, error) {
	h, err := s.GetHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if h.WorkFolderPath == nil || *h.WorkFolderPath == "" {
		return nil, ErrNoWorkFolder
	}
	if h.AnalysisResult == nil || len(h.AnalysisResult.FileChanges) == 0 {
		return nil, ErrNoFileChanges
	}
	folder := *h.WorkFolderPath
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkFolderMissing, folder)
	}

	log := logging.With("history_id", h.ID, "work_item_id", h.WorkItemID)
	out := &ApplyFilesResult{WorkFolder: folder, Results: []FileResult{}}
	for _, fc := range h.AnalysisResult.FileChanges {
		r := FileResult{Path: fc.Path, Description: fc.Description}
		target, err := writeFileChange(folder, fc)
		if err != nil {
			r.Error = err.Error()
			out.FilesFailed++
			log.Warnf("Failed to write %s: %v", fc.Path, err)
		} else {
			r.Success = true
			out.FilesSucceeded++
			if s.metrics != nil {
				s.metrics.FilesWritten.Inc()
			}
		}
		out.Results = append(out.Results, r)
		s.audit(ctx, h, target, fc.Path, err)
	}
	out.FilesProcessed = len(out.Results)
	out.Success = out.FilesFailed == 0
	log.Infof("Applied %d/%d file changes", out.FilesSucceeded, out.FilesProcessed)
	return out, nil
}

func (s *WorkflowService) audit(ctx context.Context, h *store.History, target, rel string, opErr error) {
	path := target
	if path == "" {
		path = rel
	}
	entry := &store.FileAccessLog{
		UserID:     h.UserID,
		WorkItemID: &h.WorkItemID,
		FilePath:   path,
		Operation:  store.FileOpWrite,
		Success:    opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMessage = models.StringPtr(opErr.Error())
	}
	if err := s.store.LogFileAccess(ctx, entry); err != nil {
		logging.Warnf("Failed to audit file write %s: %v", path, err)
	}
}

// HookResult reports how a service hook notification was handled.
type HookResult struct {
	Event      string `json:"event"`
	WorkItemID int    `json:"work_item_id"`
	Queued     bool   `json:"queued"`
	HistoryID  *int64 `json:"history_id,omitempty"`
}

// HandleServiceHook starts a background analysis for newly created work
// items. Other events are acknowledged only, which also keeps the service
// from reacting to its own comments.
func (s *WorkflowService) HandleServiceHook(ctx context.Context, payload []byte) (*HookResult, error) {
	ev, err := ado.ParseServiceHook(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHook, err)
	}
	res := &HookResult{Event: ev.Event, WorkItemID: ev.WorkItemID}
	logging.Infof("Service hook: work item %d %s (fields: %v)", ev.WorkItemID, ev.Event, ev.ChangedFields())

	if ev.Event != "created" || ev.WorkItemID == 0 {
		return res, nil
	}
	h, err := s.Analyze(ctx, ev.WorkItemID, AnalyzeRequest{})
	if err != nil {
		return nil, err
	}
	res.Queued = true
	res.HistoryID = &h.ID
	return res, nil
}
