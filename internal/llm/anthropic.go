package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	log "github.com/tuannvm/ado-ai/internal/logging"
)

type anthropicClient struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

func newAnthropicClient(apiKey, baseURL, model string, timeout time.Duration) (LLMClient, error) {
	if apiKey == "" {
		return nil, apperr.Configuration("anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the caller's policy
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = config.DefaultModel
	}

	return &anthropicClient{
		client:  anthropic.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	log.Debugf("Sending prompt to Anthropic (%s): %s", c.model, truncateForLogging(req.Prompt))

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			retryAfter := ""
			if apiErr.Response != nil {
				retryAfter = apiErr.Response.Header.Get("retry-after")
			}
			return nil, classifyStatus(apiErr.StatusCode, retryAfter, err)
		}
		return nil, classifyTransport(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	log.Debugf("Anthropic completion in %s: input_tokens=%d output_tokens=%d stop_reason=%s",
		time.Since(start), resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.StopReason)

	return &Response{
		Text:         text.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
