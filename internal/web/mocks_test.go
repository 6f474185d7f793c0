package web_test

import (
	"context"
	"time"

	"github.com/tuannvm/ado-ai/internal/store"
	"github.com/tuannvm/ado-ai/internal/web"
)

type mockSetupService struct {
	statusFn       func(ctx context.Context) (*web.SetupStatus, error)
	setupFn        func(ctx context.Context, req web.SetupRequest) (*store.User, error)
	configFn       func(ctx context.Context) (*web.ConfigView, error)
	updateConfigFn func(ctx context.Context, req web.UpdateConfigRequest) (*web.ConfigView, error)
}

func (m *mockSetupService) Status(ctx context.Context) (*web.SetupStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx)
	}
	return &web.SetupStatus{}, nil
}

func (m *mockSetupService) Setup(ctx context.Context, req web.SetupRequest) (*store.User, error) {
	if m.setupFn != nil {
		return m.setupFn(ctx, req)
	}
	return &store.User{ID: 1, Username: req.Username}, nil
}

func (m *mockSetupService) Config(ctx context.Context) (*web.ConfigView, error) {
	if m.configFn != nil {
		return m.configFn(ctx)
	}
	return nil, web.ErrNotConfigured
}

func (m *mockSetupService) UpdateConfig(ctx context.Context, req web.UpdateConfigRequest) (*web.ConfigView, error) {
	if m.updateConfigFn != nil {
		return m.updateConfigFn(ctx, req)
	}
	return nil, web.ErrNotConfigured
}

type mockWorkItemService struct {
	fetchFn      func(ctx context.Context, id int) (*web.WorkItemView, error)
	analyzeFn    func(ctx context.Context, id int, req web.AnalyzeRequest) (*store.History, error)
	getHistoryFn func(ctx context.Context, id int64) (*store.History, error)
	listFn       func(ctx context.Context, limit, offset int) (*web.HistoryPage, error)
	applyFn      func(ctx context.Context, id int64) (*web.ApplyFilesResult, error)
	hookFn       func(ctx context.Context, payload []byte) (*web.HookResult, error)
}

func (m *mockWorkItemService) FetchWorkItem(ctx context.Context, id int) (*web.WorkItemView, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, id)
	}
	return &web.WorkItemView{WorkItemID: id}, nil
}

func (m *mockWorkItemService) Analyze(ctx context.Context, id int, req web.AnalyzeRequest) (*store.History, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, id, req)
	}
	return &store.History{ID: 100, WorkItemID: id, Status: store.StatusPending, CreatedAt: time.Now()}, nil
}

func (m *mockWorkItemService) GetHistory(ctx context.Context, id int64) (*store.History, error) {
	if m.getHistoryFn != nil {
		return m.getHistoryFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockWorkItemService) ListHistory(ctx context.Context, limit, offset int) (*web.HistoryPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return &web.HistoryPage{Items: []*store.History{}, Limit: limit, Offset: offset}, nil
}

func (m *mockWorkItemService) ApplyFiles(ctx context.Context, id int64) (*web.ApplyFilesResult, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, id)
	}
	return &web.ApplyFilesResult{Success: true}, nil
}

func (m *mockWorkItemService) HandleServiceHook(ctx context.Context, payload []byte) (*web.HookResult, error) {
	if m.hookFn != nil {
		return m.hookFn(ctx, payload)
	}
	return &web.HookResult{}, nil
}

type mockFileBrowser struct {
	browseFn   func(path string) (*web.BrowseResult, error)
	validateFn func(path string) *web.PathValidation
}

func (m *mockFileBrowser) Browse(path string) (*web.BrowseResult, error) {
	if m.browseFn != nil {
		return m.browseFn(path)
	}
	return &web.BrowseResult{CurrentPath: path, Entries: []web.FileEntry{}}, nil
}

func (m *mockFileBrowser) ValidatePath(path string) *web.PathValidation {
	if m.validateFn != nil {
		return m.validateFn(path)
	}
	return &web.PathValidation{Valid: true, Path: path}
}

type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.retryAfter, s.err
}
