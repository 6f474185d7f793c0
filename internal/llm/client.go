package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
)

// Request is a single-turn completion request
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the completion text and its billed token counts
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// LLMClient defines the interface for interacting with LLM services
type LLMClient interface {
	// Complete sends a prompt to the LLM and returns the completion.
	// Errors are classified as *apperr.Error.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Model returns the model name used for pricing.
	Model() string
}

// NewClient creates a new LLM client based on the provided configuration
func NewClient(cfg *config.Settings) (LLMClient, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Provider {
	case "", "anthropic":
		return newAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model, timeout)
	case "openai":
		return newLangchainClient(cfg.APIKey, cfg.BaseURL, cfg.Model, timeout)
	default:
		return nil, apperr.Configuration("unsupported LLM provider: %s", cfg.Provider)
	}
}

// classifyStatus maps an HTTP status from an LLM API to an application error.
func classifyStatus(status int, retryAfter string, err error) error {
	switch {
	case status == 429:
		return apperr.RateLimited(parseRetryAfter(retryAfter), err)
	case status == 401 || status == 403:
		return apperr.Authentication(status, fmt.Sprintf("LLM API rejected the API key: %v", err))
	case status >= 500:
		// 529 is Anthropic's "overloaded"
		return apperr.LLM(status, true, err)
	default:
		return apperr.LLM(status, false, err)
	}
}

// classifyTransport handles failures that produced no API response.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return apperr.LLM(0, false, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.LLM(0, true, err)
	}
	return apperr.LLM(0, false, err)
}

func parseRetryAfter(v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// truncateForLogging truncates a string to a reasonable length for logging
func truncateForLogging(s string) string {
	const maxLength = 500
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "... [truncated]"
}
