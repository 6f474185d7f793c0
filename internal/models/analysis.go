package models

import "strings"

// FileChange is a file the model proposes to write into the work folder.
type FileChange struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// AnalysisResult is the structured output of one LLM analysis.
type AnalysisResult struct {
	Analysis               string       `json:"analysis"`
	Solution               string       `json:"solution"`
	Tasks                  []string     `json:"tasks"`
	Risks                  []string     `json:"risks"`
	SuggestedStatus        string       `json:"suggested_status"`
	SuggestedRemainingWork float64      `json:"suggested_remaining_work"`
	Comment                string       `json:"comment"`
	FileChanges            []FileChange `json:"file_changes"`
	TokenUsage             TokenUsage   `json:"token_usage"`
	RawResponse            string       `json:"-"`
}

// TokenUsage counts the tokens billed for one analysis.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// Cost estimates the USD cost of the usage for the given model.
func (u TokenUsage) Cost(model string) float64 {
	t := PricingFor(model)
	return float64(u.InputTokens)/1_000_000*t.InputPerMillion +
		float64(u.OutputTokens)/1_000_000*t.OutputPerMillion
}

// PricingTier holds USD prices per million tokens.
type PricingTier struct {
	Name             string
	InputPerMillion  float64
	OutputPerMillion float64
}

var pricingTiers = []PricingTier{
	{Name: "opus", InputPerMillion: 5.0, OutputPerMillion: 25.0},
	{Name: "sonnet", InputPerMillion: 1.0, OutputPerMillion: 5.0},
}

// DefaultPricingTier applies to model names that match no tier.
var DefaultPricingTier = pricingTiers[0]

// PricingFor selects the tier whose name appears in model, case-insensitively.
func PricingFor(model string) PricingTier {
	m := strings.ToLower(model)
	for _, t := range pricingTiers {
		if strings.Contains(m, t.Name) {
			return t
		}
	}
	return DefaultPricingTier
}
