package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	log "github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/retry"
)

const (
	apiVersion         = "7.1"
	commentsAPIVersion = "7.1-preview.4"
)

// Field reference names of the Azure DevOps work item schema.
const (
	FieldWorkItemType       = "System.WorkItemType"
	FieldTitle              = "System.Title"
	FieldState              = "System.State"
	FieldDescription        = "System.Description"
	FieldAssignedTo         = "System.AssignedTo"
	FieldCreatedBy          = "System.CreatedBy"
	FieldCreatedDate        = "System.CreatedDate"
	FieldChangedDate        = "System.ChangedDate"
	FieldAreaPath           = "System.AreaPath"
	FieldIterationPath      = "System.IterationPath"
	FieldTags               = "System.Tags"
	FieldPriority           = "Microsoft.VSTS.Common.Priority"
	FieldRemainingWork      = "Microsoft.VSTS.Scheduling.RemainingWork"
	FieldCompletedWork      = "Microsoft.VSTS.Scheduling.CompletedWork"
	FieldAcceptanceCriteria = "Microsoft.VSTS.Common.AcceptanceCriteria"
	FieldReproSteps         = "Microsoft.VSTS.TCM.ReproSteps"
	FieldSystemInfo         = "Microsoft.VSTS.TCM.SystemInfo"
)

// Client represents an Azure DevOps work item tracking API client
type Client struct {
	baseURL    string
	project    string
	pat        string
	httpClient *http.Client
	policy     retry.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the retry policy derived from the settings.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a new Azure DevOps client
func NewClient(cfg *config.Settings, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.OrgURL, "/"),
		project: cfg.Project,
		pat:     cfg.PAT,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: retry.Default().WithAttempts(cfg.MaxRetries),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type workItemResponse struct {
	ID     int                    `json:"id"`
	Rev    int                    `json:"rev"`
	Fields map[string]interface{} `json:"fields"`
	Links  struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"_links"`
}

type commentsResponse struct {
	Comments []struct {
		ID           int         `json:"id"`
		Text         string      `json:"text"`
		CreatedBy    interface{} `json:"createdBy"`
		CreatedDate  string      `json:"createdDate"`
		ModifiedDate string      `json:"modifiedDate"`
	} `json:"comments"`
}

type patchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// GetWorkItem fetches a work item by its ID
func (c *Client) GetWorkItem(ctx context.Context, id int) (*models.WorkItem, error) {
	log.Infof("Fetching work item %d", id)

	raw, err := retry.Do(ctx, c.policy, fmt.Sprintf("fetch work item %d", id), apperr.IsTransient,
		func(ctx context.Context) (*workItemResponse, error) {
			var wi workItemResponse
			u := c.workItemURL(id, url.Values{"$expand": {"all"}})
			if err := c.doJSON(ctx, http.MethodGet, u, "", nil, &wi, id); err != nil {
				return nil, err
			}
			return &wi, nil
		})
	if err != nil {
		return nil, err
	}

	wi := mapWorkItem(raw)
	log.Debugf("Fetched work item %d: %s", id, wi.Title)
	return wi, nil
}

// GetComments returns up to top comments, newest first. Failures are logged
// and produce an empty list.
func (c *Client) GetComments(ctx context.Context, id int, top int) []models.Comment {
	u := c.commentsURL(id, url.Values{"$top": {fmt.Sprint(top)}, "order": {"desc"}})

	var resp commentsResponse
	if err := c.doJSON(ctx, http.MethodGet, u, "", nil, &resp, id); err != nil {
		log.Warnf("Failed to fetch comments for work item %d: %v", id, err)
		return []models.Comment{}
	}

	comments := make([]models.Comment, 0, len(resp.Comments))
	for _, rc := range resp.Comments {
		comments = append(comments, models.Comment{
			ID:           rc.ID,
			Text:         rc.Text,
			CreatedBy:    IdentityName(rc.CreatedBy),
			CreatedDate:  parseTime(rc.CreatedDate),
			ModifiedDate: parseTime(rc.ModifiedDate),
		})
	}
	if top > 0 && len(comments) > top {
		comments = comments[:top]
	}
	log.Debugf("Fetched %d comments for work item %d", len(comments), id)
	return comments
}

// UpdateWorkItem applies fields as a JSON Patch document. Backend failures are
// reported in the outcome; the returned error is reserved for requests that
// could not be built. A non-empty comment is posted after the fields are
// saved, and its failure does not undo the field update.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, fields map[string]interface{}, comment string) (*models.UpdateOutcome, error) {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	log.Infof("Updating work item %d with fields: %v", id, names)

	doc := make([]patchOperation, 0, len(names))
	for _, name := range names {
		doc = append(doc, patchOperation{Op: "add", Path: "/fields/" + name, Value: fields[name]})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch document: %w", err)
	}

	_, err = retry.Do(ctx, c.policy, fmt.Sprintf("update work item %d", id), apperr.IsTransient,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.doJSON(ctx, http.MethodPatch, c.workItemURL(id, nil), "application/json-patch+json", body, nil, id)
		})
	if err != nil {
		msg := fmt.Sprintf("Azure DevOps API error: %v", err)
		log.Errorf("Failed to update work item %d: %s", id, msg)
		return &models.UpdateOutcome{
			Success:       false,
			WorkItemID:    id,
			UpdatedFields: []string{},
			ErrorMessage:  msg,
		}, nil
	}

	if comment != "" {
		if err := c.AddComment(ctx, id, comment); err != nil {
			log.Warnf("Fields of work item %d were updated but the comment was not posted: %v", id, err)
		}
	}

	log.Infof("Successfully updated work item %d", id)
	return &models.UpdateOutcome{Success: true, WorkItemID: id, UpdatedFields: names}, nil
}

// AddComment posts a comment to a work item
func (c *Client) AddComment(ctx context.Context, id int, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	_, err = retry.Do(ctx, c.policy, fmt.Sprintf("add comment to work item %d", id), apperr.IsTransient,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.doJSON(ctx, http.MethodPost, c.commentsURL(id, nil), "application/json", body, nil, id)
		})
	if err != nil {
		log.Errorf("Failed to add comment to work item %d: %v", id, err)
		if apperr.KindOf(err) == apperr.KindBackend {
			return err
		}
		return apperr.Backend(0, "failed to add comment", err)
	}
	log.Debugf("Successfully added comment to work item %d", id)
	return nil
}

func (c *Client) workItemURL(id int, q url.Values) string {
	return c.apiURL(fmt.Sprintf("_apis/wit/workitems/%d", id), apiVersion, q)
}

func (c *Client) commentsURL(id int, q url.Values) string {
	return c.apiURL(fmt.Sprintf("_apis/wit/workItems/%d/comments", id), commentsAPIVersion, q)
}

func (c *Client) apiURL(path, version string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api-version", version)
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(c.project), path, q.Encode())
}

// doJSON sends one request and classifies the response into apperr kinds.
// out may be nil when the response body is not needed.
func (c *Client) doJSON(ctx context.Context, method, u, contentType string, body []byte, out interface{}, id int) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Backend(0, "failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Backend(0, "failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(id)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.Authentication(resp.StatusCode, "invalid PAT or insufficient permissions")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return apperr.Backend(resp.StatusCode,
			fmt.Sprintf("Azure DevOps API error: status %d, body: %s", resp.StatusCode, log.Truncate(string(respBody), 300)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Backend(resp.StatusCode, "failed to unmarshal response", err)
	}
	return nil
}

// addAuthHeader adds PAT basic authentication to the request
func (c *Client) addAuthHeader(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.pat))
	req.Header.Set("Authorization", "Basic "+auth)
}

func mapWorkItem(raw *workItemResponse) *models.WorkItem {
	f := raw.Fields
	if f == nil {
		f = map[string]interface{}{}
	}

	typ := rawString(f[FieldWorkItemType])
	if typ == "" {
		typ = "Unknown"
	}
	description := optString(f[FieldDescription])
	if description == nil {
		description = optString(f[FieldReproSteps])
	}

	wi := &models.WorkItem{
		ID:                 raw.ID,
		Type:               typ,
		Title:              rawString(f[FieldTitle]),
		State:              rawString(f[FieldState]),
		Description:        description,
		AssignedTo:         IdentityName(f[FieldAssignedTo]),
		CreatedBy:          IdentityName(f[FieldCreatedBy]),
		CreatedDate:        parseTime(rawString(f[FieldCreatedDate])),
		ChangedDate:        parseTime(rawString(f[FieldChangedDate])),
		AreaPath:           optString(f[FieldAreaPath]),
		IterationPath:      optString(f[FieldIterationPath]),
		Tags:               optString(f[FieldTags]),
		RemainingWork:      optFloat(f[FieldRemainingWork]),
		CompletedWork:      optFloat(f[FieldCompletedWork]),
		AcceptanceCriteria: optString(f[FieldAcceptanceCriteria]),
		ReproSteps:         optString(f[FieldReproSteps]),
		SystemInfo:         optString(f[FieldSystemInfo]),
		Fields:             f,
	}
	if p := optFloat(f[FieldPriority]); p != nil {
		n := int(*p)
		wi.Priority = &n
	}
	if raw.Links.HTML.Href != "" {
		wi.URL = &raw.Links.HTML.Href
	}
	return wi
}

// rawString safely converts an interface{} to a string
func rawString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func optString(v interface{}) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func optFloat(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
