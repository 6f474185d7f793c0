// Package analysis turns a work item into a structured AnalysisResult by
// prompting an LLM and decoding its answer.
package analysis

import (
	"context"
	"fmt"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/llm"
	log "github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/prompts"
	"github.com/tuannvm/ado-ai/internal/retry"
)

// Analyzer is the contract the orchestrator depends on
type Analyzer interface {
	Analyze(ctx context.Context, wi *models.WorkItem, comments []models.Comment, customInstructions string) (*models.AnalysisResult, error)
	Model() string
}

// Client analyzes work items with an LLM
type Client struct {
	llm         llm.LLMClient
	maxTokens   int
	temperature float64
	policy      retry.Policy
}

// NewClient creates an analysis client on top of an LLM backend
func NewClient(cfg *config.Settings, backend llm.LLMClient) *Client {
	return &Client{
		llm:         backend,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		policy:      retry.Default().WithAttempts(cfg.MaxRetries),
	}
}

// WithRetryPolicy replaces the retry policy.
func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	c.policy = p
	return c
}

// Model returns the model used for pricing.
func (c *Client) Model() string { return c.llm.Model() }

// Analyze runs one analysis. Transient LLM failures are retried; rate limits
// surface immediately as apperr.KindRateLimited.
func (c *Client) Analyze(ctx context.Context, wi *models.WorkItem, comments []models.Comment, customInstructions string) (*models.AnalysisResult, error) {
	log.Infof("Analyzing work item %d with %s", wi.ID, c.llm.Model())

	req := llm.Request{
		System:      prompts.SystemPrompt,
		Prompt:      prompts.Build(wi, comments, customInstructions),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	resp, err := retry.Do(ctx, c.policy, fmt.Sprintf("analyze work item %d", wi.ID), apperr.IsTransient,
		func(ctx context.Context) (*llm.Response, error) {
			return c.llm.Complete(ctx, req)
		})
	if err != nil {
		if apperr.Is(err, apperr.KindRateLimited) {
			log.Errorf("Rate limit exceeded while analyzing work item %d: %v", wi.ID, err)
		} else {
			log.Errorf("LLM API error while analyzing work item %d: %v", wi.ID, err)
		}
		return nil, err
	}

	result, err := ParseResponse(resp.Text, wi)
	if err != nil {
		return nil, err
	}
	result.TokenUsage = models.TokenUsage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
	if len(result.FileChanges) > 0 && !prompts.RequestsFileOutput(customInstructions) {
		log.Warnf("Dropping %d file changes for work item %d: file output was not requested", len(result.FileChanges), wi.ID)
		result.FileChanges = []models.FileChange{}
	}

	log.Infof("Analysis complete. Tokens: input=%d output=%d total=%d, Cost: $%.4f",
		resp.InputTokens, resp.OutputTokens, result.TokenUsage.Total(), result.TokenUsage.Cost(c.llm.Model()))
	return result, nil
}

// ParseResponse decodes a model response into an AnalysisResult, filling
// defaults for missing fields.
func ParseResponse(text string, wi *models.WorkItem) (*models.AnalysisResult, error) {
	obj, err := DecodeJSONObject(text)
	if err != nil {
		log.Errorf("Failed to parse JSON response for work item %d: %v", wi.ID, err)
		log.Debugf("Raw response: %s", text)
		return nil, apperr.MalformedResponse(err)
	}

	result := &models.AnalysisResult{
		Analysis:               stringField(obj, "analysis", ""),
		Solution:               stringField(obj, "solution", ""),
		Tasks:                  listField(obj, "tasks"),
		Risks:                  listField(obj, "risks"),
		SuggestedStatus:        stringField(obj, "suggested_status", wi.State),
		SuggestedRemainingWork: numberField(obj, "suggested_remaining_work"),
		Comment:                stringField(obj, "comment", ""),
		FileChanges:            fileChanges(obj),
		RawResponse:            text,
	}
	return result, nil
}

func stringField(obj map[string]interface{}, key, def string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return def
}

func numberField(obj map[string]interface{}, key string) float64 {
	if n, ok := obj[key].(float64); ok {
		return n
	}
	return 0
}

func listField(obj map[string]interface{}, key string) []string {
	raw, ok := obj[key].([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func fileChanges(obj map[string]interface{}) []models.FileChange {
	raw, ok := obj["file_changes"].([]interface{})
	if !ok {
		return []models.FileChange{}
	}
	out := make([]models.FileChange, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		fc := models.FileChange{
			Path:        stringField(m, "path", ""),
			Content:     stringField(m, "content", ""),
			Description: stringField(m, "description", ""),
		}
		if fc.Path == "" {
			continue
		}
		out = append(out, fc)
	}
	return out
}
