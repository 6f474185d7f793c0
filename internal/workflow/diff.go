package workflow

import (
	"strings"

	"github.com/tuannvm/ado-ai/internal/ado"
	"github.com/tuannvm/ado-ai/internal/models"
)

// CompletedTag marks work items that went through an AI-assisted update.
const CompletedTag = "AI-Completed"

// BuildUpdateFields computes the fields to send for an analysis. It only
// includes values that change: the state when it differs, the remaining
// work when it differs or was unset, and the tag list when CompletedTag is
// missing from it.
func BuildUpdateFields(wi *models.WorkItem, a *models.AnalysisResult) map[string]interface{} {
	fields := map[string]interface{}{}

	if a.SuggestedStatus != "" && a.SuggestedStatus != wi.State {
		fields[ado.FieldState] = a.SuggestedStatus
	}

	if wi.RemainingWork == nil || *wi.RemainingWork != a.SuggestedRemainingWork {
		fields[ado.FieldRemainingWork] = a.SuggestedRemainingWork
	}

	var tags []string
	if wi.Tags != nil && *wi.Tags != "" {
		tags = strings.Split(*wi.Tags, ";")
	}
	if !hasTag(tags, CompletedTag) {
		tags = append(tags, CompletedTag)
		fields[ado.FieldTags] = strings.Join(tags, ";")
	}

	return fields
}

// hasTag compares ignoring the blanks Azure DevOps puts after separators.
func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.TrimSpace(t) == tag {
			return true
		}
	}
	return false
}

// FormatComment renders the analysis comment posted to the work item.
func FormatComment(a *models.AnalysisResult) string {
	return "🤖 AI Analysis\n\n" + a.Comment + "\n\n---\n*Generated by Claude AI*\n"
}
