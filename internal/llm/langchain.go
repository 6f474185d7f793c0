package llm

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tuannvm/ado-ai/internal/apperr"
	log "github.com/tuannvm/ado-ai/internal/logging"
)

// langchainClient talks to OpenAI-compatible endpoints through langchaingo
type langchainClient struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

func newLangchainClient(apiKey, baseURL, model string, timeout time.Duration) (LLMClient, error) {
	if apiKey == "" {
		return nil, apperr.Configuration("LLM API key is required")
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llmModel, err := openai.New(opts...)
	if err != nil {
		return nil, apperr.Configuration("failed to initialize LLM: %v", err)
	}
	return &langchainClient{llm: llmModel, model: model, timeout: timeout}, nil
}

func (c *langchainClient) Model() string { return c.model }

func (c *langchainClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.llm == nil {
		return nil, errors.New("LLM client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content []llms.MessageContent
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	log.Debugf("Sending prompt to LLM: %s", truncateForLogging(req.Prompt))

	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
	)
	if err != nil {
		return nil, classifyLangchainError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.LLM(0, false, errors.New("LLM returned no choices"))
	}

	choice := resp.Choices[0]
	log.Debugf("Received response from LLM: %s", truncateForLogging(choice.Content))

	return &Response{
		Text:         choice.Content,
		InputTokens:  intInfo(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// classifyLangchainError recovers the HTTP status from the openai backend's
// error text, which is the only place langchaingo exposes it.
func classifyLangchainError(err error) error {
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return classifyStatus(status, "", err)
	}
	return classifyTransport(err)
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
