package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/metrics"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/store"
	"github.com/tuannvm/ado-ai/internal/web"
)

var _ = Describe("Handler", func() {
	var (
		router  *gin.Engine
		setup   *mockSetupService
		items   *mockWorkItemService
		files   *mockFileBrowser
		limiter *stubLimiter
		m       *metrics.Metrics
	)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var req *http.Request
		if body != nil {
			b, _ := json.Marshal(body)
			req = httptest.NewRequest(method, path, bytes.NewBuffer(b))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		setup = &mockSetupService{}
		items = &mockWorkItemService{}
		files = &mockFileBrowser{}
		limiter = &stubLimiter{allow: true}
		m = metrics.New(nil)
		h := web.NewHandler(setup, items, files, "")
		router = web.NewRouter(h, web.RouterConfig{Metrics: m, Limiter: limiter})
	})

	Describe("Health", func() {
		It("returns ok and counts the request", func() {
			w := do(http.MethodGet, "/health", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["status"]).To(Equal("ok"))
			Expect(testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/health", "200"))).To(Equal(1.0))
		})

		It("serves prometheus metrics", func() {
			do(http.MethodGet, "/health", nil)
			w := do(http.MethodGet, "/metrics", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("ado_ai_http_requests_total"))
		})
	})

	Describe("Setup", func() {
		It("reports setup status", func() {
			setup.statusFn = func(context.Context) (*web.SetupStatus, error) {
				return &web.SetupStatus{IsConfigured: true, Username: "alice"}, nil
			}

			w := do(http.MethodGet, "/api/setup/status", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["is_configured"]).To(BeTrue())
			Expect(resp["username"]).To(Equal("alice"))
		})

		It("returns 201 when setup succeeds", func() {
			var got web.SetupRequest
			setup.setupFn = func(_ context.Context, req web.SetupRequest) (*store.User, error) {
				got = req
				return &store.User{ID: 7, Username: req.Username}, nil
			}

			w := do(http.MethodPost, "/api/setup", map[string]any{
				"username":             "alice",
				"azure_devops_org_url": "https://dev.azure.com/contoso",
				"azure_devops_project": "Fabrikam",
				"azure_devops_pat":     "pat-value",
			})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(decode(w)["user_id"]).To(BeNumerically("==", 7))
			Expect(got.Project).To(Equal("Fabrikam"))
		})

		It("returns 400 when required fields are missing", func() {
			w := do(http.MethodPost, "/api/setup", map[string]any{"username": "alice"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 when already configured", func() {
			setup.setupFn = func(context.Context, web.SetupRequest) (*store.User, error) {
				return nil, web.ErrAlreadyConfigured
			}

			w := do(http.MethodPost, "/api/setup", map[string]any{
				"username":             "alice",
				"azure_devops_org_url": "https://dev.azure.com/contoso",
				"azure_devops_project": "Fabrikam",
				"azure_devops_pat":     "pat-value",
			})

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["error"]).To(ContainSubstring("setup already completed"))
		})

		It("returns 400 for invalid settings", func() {
			setup.setupFn = func(context.Context, web.SetupRequest) (*store.User, error) {
				return nil, apperr.Configuration("invalid organization URL")
			}

			w := do(http.MethodPost, "/api/setup", map[string]any{
				"username":             "alice",
				"azure_devops_org_url": "https://example.com",
				"azure_devops_project": "Fabrikam",
				"azure_devops_pat":     "pat-value",
			})

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Config", func() {
		It("returns 404 before setup", func() {
			w := do(http.MethodGet, "/api/config", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns the redacted view", func() {
			setup.configFn = func(context.Context) (*web.ConfigView, error) {
				return &web.ConfigView{Project: "Fabrikam", PAT: "***REDACTED***", IsConfigured: true}, nil
			}

			w := do(http.MethodGet, "/api/config", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["azure_devops_pat"]).To(Equal("***REDACTED***"))
		})

		It("passes partial updates through", func() {
			var got web.UpdateConfigRequest
			setup.updateConfigFn = func(_ context.Context, req web.UpdateConfigRequest) (*web.ConfigView, error) {
				got = req
				return &web.ConfigView{MaxTokens: *req.MaxTokens}, nil
			}

			w := do(http.MethodPut, "/api/config", map[string]any{"max_tokens": 2048})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.MaxTokens).NotTo(BeNil())
			Expect(got.PAT).To(BeNil())
			Expect(decode(w)["max_tokens"]).To(BeNumerically("==", 2048))
		})
	})

	Describe("Work items", func() {
		It("fetches a work item", func() {
			items.fetchFn = func(_ context.Context, id int) (*web.WorkItemView, error) {
				return &web.WorkItemView{WorkItemID: id, Title: "Fix login"}, nil
			}

			w := do(http.MethodGet, "/api/work-items/42", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["title"]).To(Equal("Fix login"))
		})

		It("rejects a non-numeric id", func() {
			w := do(http.MethodGet, "/api/work-items/abc", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		DescribeTable("maps fetch errors to status codes",
			func(err error, status int) {
				items.fetchFn = func(context.Context, int) (*web.WorkItemView, error) { return nil, err }
				w := do(http.MethodGet, "/api/work-items/42", nil)
				Expect(w.Code).To(Equal(status))
			},
			Entry("not configured", web.ErrNotConfigured, http.StatusNotFound),
			Entry("work item not found", apperr.NotFound(42), http.StatusNotFound),
			Entry("authentication", apperr.Authentication(401, "bad PAT"), http.StatusUnauthorized),
			Entry("backend", apperr.Backend(503, "unavailable", nil), http.StatusBadGateway),
			Entry("unexpected", errors.New("boom"), http.StatusInternalServerError),
		)

		It("starts an analysis and returns the tracking record", func() {
			var got web.AnalyzeRequest
			items.analyzeFn = func(_ context.Context, id int, req web.AnalyzeRequest) (*store.History, error) {
				got = req
				return &store.History{ID: 555, WorkItemID: id, Status: store.StatusPending, CreatedAt: time.Now()}, nil
			}

			w := do(http.MethodPost, "/api/work-items/42/analyze", map[string]any{"custom_prompt": "focus on tests"})

			Expect(w.Code).To(Equal(http.StatusAccepted))
			resp := decode(w)
			Expect(resp["history_id"]).To(BeNumerically("==", 555))
			Expect(resp["status"]).To(Equal("pending"))
			Expect(models.Deref(got.CustomPrompt)).To(Equal("focus on tests"))
		})

		It("accepts an analyze request without a body", func() {
			w := do(http.MethodPost, "/api/work-items/42/analyze", nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
		})

		It("rate limits analyze requests", func() {
			limiter.allow = false
			limiter.retryAfter = 30 * time.Second

			w := do(http.MethodPost, "/api/work-items/42/analyze", nil)

			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
			Expect(w.Header().Get("Retry-After")).To(Equal("30"))
			Expect(limiter.keys).To(HaveLen(1))
			Expect(testutil.ToFloat64(m.RateLimited)).To(Equal(1.0))
		})

		It("lets requests through when the limiter fails", func() {
			limiter.err = errors.New("redis down")

			w := do(http.MethodPost, "/api/work-items/42/analyze", nil)

			Expect(w.Code).To(Equal(http.StatusAccepted))
		})

		It("does not rate limit other routes", func() {
			limiter.allow = false

			w := do(http.MethodGet, "/api/work-items/42", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(limiter.keys).To(BeEmpty())
		})
	})

	Describe("History", func() {
		It("lists history with defaults", func() {
			var gotLimit, gotOffset int
			items.listFn = func(_ context.Context, limit, offset int) (*web.HistoryPage, error) {
				gotLimit, gotOffset = limit, offset
				return &web.HistoryPage{Items: []*store.History{{ID: 1}}, Total: 1, Limit: limit}, nil
			}

			w := do(http.MethodGet, "/api/work-items", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotLimit).To(Equal(20))
			Expect(gotOffset).To(Equal(0))
			Expect(decode(w)["total"]).To(BeNumerically("==", 1))
		})

		DescribeTable("validates paging",
			func(query string) {
				w := do(http.MethodGet, "/api/work-items?"+query, nil)
				Expect(w.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("zero limit", "limit=0"),
			Entry("limit above 100", "limit=101"),
			Entry("negative offset", "offset=-1"),
			Entry("non-numeric limit", "limit=ten"),
		)

		It("returns a history record", func() {
			items.getHistoryFn = func(_ context.Context, id int64) (*store.History, error) {
				return &store.History{ID: id, WorkItemID: 42, Status: store.StatusCompleted}, nil
			}

			w := do(http.MethodGet, "/api/work-items/history/9", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["status"]).To(Equal("completed"))
		})

		It("returns 404 for a missing record", func() {
			w := do(http.MethodGet, "/api/work-items/history/9", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("applies file changes", func() {
			items.applyFn = func(_ context.Context, id int64) (*web.ApplyFilesResult, error) {
				return &web.ApplyFilesResult{Success: true, FilesProcessed: 2, FilesSucceeded: 2}, nil
			}

			w := do(http.MethodPost, "/api/work-items/history/9/apply-files", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["files_succeeded"]).To(BeNumerically("==", 2))
		})

		It("returns 400 when there is nothing to apply", func() {
			items.applyFn = func(context.Context, int64) (*web.ApplyFilesResult, error) {
				return nil, web.ErrNoFileChanges
			}

			w := do(http.MethodPost, "/api/work-items/history/9/apply-files", nil)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Files", func() {
		It("browses a directory", func() {
			w := do(http.MethodGet, "/api/files/browse?path=/home/alice", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["current_path"]).To(Equal("/home/alice"))
		})

		It("returns 403 outside the allowed roots", func() {
			files.browseFn = func(string) (*web.BrowseResult, error) { return nil, web.ErrPathNotAllowed }

			w := do(http.MethodGet, "/api/files/browse?path=/etc", nil)

			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("requires a path to validate", func() {
			w := do(http.MethodGet, "/api/files/validate-path", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Service hooks", func() {
		payload := map[string]any{"eventType": "workitem.created", "resource": map[string]any{"id": 42}}

		It("hands the payload to the service", func() {
			var got []byte
			items.hookFn = func(_ context.Context, p []byte) (*web.HookResult, error) {
				got = p
				return &web.HookResult{Event: "created", WorkItemID: 42, Queued: true}, nil
			}

			w := do(http.MethodPost, "/api/hooks/azure-devops", payload)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(string(got)).To(ContainSubstring("workitem.created"))
			Expect(decode(w)["queued"]).To(BeTrue())
		})

		It("returns 400 for payloads it cannot parse", func() {
			items.hookFn = func(context.Context, []byte) (*web.HookResult, error) {
				return nil, fmt.Errorf("%w: bad json", web.ErrInvalidHook)
			}

			w := do(http.MethodPost, "/api/hooks/azure-devops", payload)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		Context("with a hook secret", func() {
			BeforeEach(func() {
				h := web.NewHandler(setup, items, files, "s3cret")
				router = web.NewRouter(h, web.RouterConfig{})
			})

			It("rejects requests without credentials", func() {
				w := do(http.MethodPost, "/api/hooks/azure-devops", payload)
				Expect(w.Code).To(Equal(http.StatusUnauthorized))
			})

			It("accepts the shared secret as basic auth password", func() {
				b, _ := json.Marshal(payload)
				req := httptest.NewRequest(http.MethodPost, "/api/hooks/azure-devops", bytes.NewBuffer(b))
				req.SetBasicAuth("ado", "s3cret")
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusOK))
			})
		})
	})
})
