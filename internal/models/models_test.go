package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsageCost(t *testing.T) {
	tests := []struct {
		model string
		usage TokenUsage
		want  float64
	}{
		{"claude-opus-4-6", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 30.0},
		{"claude-sonnet-4-5", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 6.0},
		{"CLAUDE-SONNET", TokenUsage{InputTokens: 2_000, OutputTokens: 1_000}, 0.007},
		{"unknown-model", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 30.0},
		{"claude-opus-4-6", TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.Cost(tt.model), 1e-9)
		})
	}
}

func TestPricingDefault(t *testing.T) {
	assert.Equal(t, DefaultPricingTier, PricingFor("gpt-4o"))
	assert.Equal(t, "sonnet", PricingFor("claude-3-5-Sonnet-latest").Name)
}

func TestTokenUsageTotal(t *testing.T) {
	assert.Equal(t, 150, TokenUsage{InputTokens: 100, OutputTokens: 50}.Total())
}

func TestContextForAI(t *testing.T) {
	remaining := 0.0
	prio := 2
	w := &WorkItem{
		ID:            42,
		Type:          "Bug",
		Title:         "Crash on save",
		State:         "Active",
		Description:   StringPtr("Saving crashes the app"),
		ReproSteps:    StringPtr("1. open\n2. save"),
		Priority:      &prio,
		RemainingWork: &remaining,
		Tags:          StringPtr(""),
	}

	ctx := w.ContextForAI()
	assert.Contains(t, ctx, "Work Item ID: 42")
	assert.Contains(t, ctx, "Description:\nSaving crashes the app")
	assert.Contains(t, ctx, "Reproduction Steps:\n1. open\n2. save")
	assert.Contains(t, ctx, "Priority: 2")
	assert.Contains(t, ctx, "Remaining Work: 0 hours")
	assert.NotContains(t, ctx, "Tags:")
	assert.NotContains(t, ctx, "Assigned To:")
}
