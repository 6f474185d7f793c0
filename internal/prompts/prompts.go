// Package prompts builds the analysis prompts sent to the LLM.
package prompts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/tuannvm/ado-ai/internal/models"
)

// SystemPrompt is sent as the system instructions of every analysis.
const SystemPrompt = `You are an AI assistant specialized in analyzing and completing Azure DevOps work items.

Your role is to:
1. Thoroughly analyze work item requirements, descriptions, and acceptance criteria
2. Provide actionable solutions, implementation approaches, or fixes
3. Identify potential risks, edge cases, and considerations
4. Suggest appropriate status updates based on the analysis
5. Generate professional comments suitable for adding to the work item

Always respond in valid JSON format with the specified structure.
Be concise but comprehensive in your analysis.`

// Kind selects a prompt template.
type Kind string

const (
	KindBug     Kind = "bug"
	KindTask    Kind = "task"
	KindStory   Kind = "story"
	KindGeneric Kind = "generic"
)

// KindFor picks the template by case-insensitive substring match on the
// work item type, falling through to the generic template.
func KindFor(workItemType string) Kind {
	t := strings.ToLower(workItemType)
	switch {
	case strings.Contains(t, "bug"):
		return KindBug
	case strings.Contains(t, "task"):
		return KindTask
	case strings.Contains(t, "story"):
		return KindStory
	default:
		return KindGeneric
	}
}

type template struct {
	intro    string
	analysis string
	solution string
	tasks    []string
	risks    []string
	status   string
	comment  string
	closing  string
}

var templates = map[Kind]template{
	KindBug: {
		intro:    "Analyze this bug and provide a comprehensive fix strategy.",
		analysis: "Root cause analysis of the bug",
		solution: "Detailed fix approach with specific code changes or configuration updates",
		tasks:    []string{"Steps to implement the fix", "Testing steps to verify the fix", "Steps to prevent regression"},
		risks:    []string{"Potential side effects of the fix", "Areas that might be impacted", "Additional testing needed"},
		status:   "Resolved",
		comment:  "Professional comment summarizing the bug analysis and fix",
		closing: `Focus on:
1. Root cause identification
2. Specific fix implementation
3. Verification approach
4. Prevention of similar issues in the future`,
	},
	KindTask: {
		intro:    "Analyze this task and provide a detailed implementation plan.",
		analysis: "Understanding of the task requirements and scope",
		solution: "Step-by-step implementation approach",
		tasks: []string{"Specific implementation steps", "Configuration or setup needed",
			"Testing and validation steps", "Documentation updates needed"},
		risks: []string{"Potential challenges or blockers", "Dependencies on other work items or systems",
			"Areas requiring clarification"},
		status:  "Resolved",
		comment: "Professional comment summarizing the implementation approach",
		closing: "Provide practical, actionable guidance for completing this task.",
	},
	KindStory: {
		intro:    "Analyze this user story and provide an implementation strategy that meets the acceptance criteria.",
		analysis: "Understanding of the user story and acceptance criteria",
		solution: "Implementation approach that fulfills the acceptance criteria",
		tasks: []string{"Development tasks to implement the story", "Test scenarios based on acceptance criteria",
			"UI/UX considerations if applicable", "Documentation or user guide updates"},
		risks: []string{"Potential UX challenges", "Integration points with existing features",
			"Performance or scalability considerations"},
		status:  "Resolved",
		comment: "Professional comment describing how the acceptance criteria will be met",
		closing: "Ensure your solution directly addresses the acceptance criteria and provides clear test scenarios.",
	},
	KindGeneric: {
		intro:    "Analyze the following Azure DevOps work item and provide a comprehensive completion strategy.",
		analysis: "Brief analysis of the work item and its requirements (2-3 sentences)",
		solution: "Detailed solution or implementation approach (be specific and actionable)",
		tasks: []string{"List of specific tasks needed to complete this work item",
			"Each task should be clear and actionable", "Include testing and verification steps"},
		risks: []string{"Potential risks, edge cases, or considerations",
			"Dependencies or blockers that should be addressed", "Areas that might need additional clarification"},
		status:  "Recommended status (e.g., 'Resolved', 'Active', 'Closed')",
		comment: "Professional comment to add to the work item summarizing the analysis and solution (suitable for team visibility)",
		closing: `Important guidelines:
- For Bugs: Focus on root cause analysis, fix verification, and preventing recurrence
- For Tasks: Provide step-by-step implementation approach
- For User Stories: Ensure acceptance criteria are addressed, suggest test scenarios
- Be specific and actionable in your recommendations
- Consider the current state and suggest appropriate next steps
- The comment should be professional and suitable for team collaboration`,
	},
}

const fileChangesGuideline = `- file_changes is optional: only include it if the additional instructions specifically request file modifications (e.g. "create a file", "update the code", "write to a file"). Each file change must include the complete file content.`

var fileRequest = regexp.MustCompile(`(?i)\b(create|write|update|modify|edit|change|generate|save|add)\b[\w\s./'"-]{0,40}?\b(files?|code|source)\b`)

// RequestsFileOutput reports whether custom instructions ask for files to be
// written, in the same terms fileChangesGuideline gives the model.
func RequestsFileOutput(customInstructions string) bool {
	return fileRequest.MatchString(customInstructions)
}

// Build renders the user prompt for a work item.
func Build(wi *models.WorkItem, comments []models.Comment, customInstructions string) string {
	tmpl := templates[KindFor(wi.Type)]

	var b strings.Builder
	b.WriteString(tmpl.intro)
	b.WriteString("\n\n")
	b.WriteString(wi.ContextForAI())

	if len(comments) > 0 {
		b.WriteString("\n\nRecent Comments:\n")
		for i, c := range comments {
			author := models.Deref(c.CreatedBy)
			if author == "" {
				author = "unknown"
			}
			fmt.Fprintf(&b, "%d. [%s]: %s\n", i+1, author, c.Text)
		}
	}

	b.WriteString("\n\nPlease provide your analysis in the following JSON format:\n\n")
	b.WriteString(tmpl.example())
	b.WriteString("\n\nThe response must validate against this JSON schema:\n\n")
	b.WriteString(Schema())
	b.WriteString("\n\n")
	b.WriteString(tmpl.closing)
	b.WriteString("\n")
	b.WriteString(fileChangesGuideline)
	b.WriteString("\n")

	if strings.TrimSpace(customInstructions) != "" {
		b.WriteString("\n\nADDITIONAL INSTRUCTIONS:\n")
		b.WriteString(customInstructions)
		b.WriteString("\n")
	}
	return b.String()
}

func (t template) example() string {
	ex := map[string]interface{}{
		"analysis":                 t.analysis,
		"solution":                 t.solution,
		"tasks":                    t.tasks,
		"risks":                    t.risks,
		"suggested_status":         t.status,
		"suggested_remaining_work": 0,
		"comment":                  t.comment,
		"file_changes": []map[string]string{{
			"path":        "relative/path/to/file.ext",
			"content":     "Complete file content to write",
			"description": "Brief description of what changed",
		}},
	}
	out, _ := json.MarshalIndent(ex, "", "  ")
	return string(out)
}

// Response mirrors the JSON document the model is asked to return.
type Response struct {
	Analysis               string               `json:"analysis" jsonschema:"required,description=Analysis of the work item and its requirements"`
	Solution               string               `json:"solution" jsonschema:"required,description=Specific and actionable solution or implementation approach"`
	Tasks                  []string             `json:"tasks" jsonschema:"required,description=Concrete tasks needed to complete the work item"`
	Risks                  []string             `json:"risks" jsonschema:"required,description=Risks and edge cases and open questions"`
	SuggestedStatus        string               `json:"suggested_status" jsonschema:"required,description=Recommended work item state"`
	SuggestedRemainingWork float64              `json:"suggested_remaining_work" jsonschema:"required,minimum=0,description=Remaining work in hours"`
	Comment                string               `json:"comment" jsonschema:"required,description=Professional comment for the work item discussion"`
	FileChanges            []ResponseFileChange `json:"file_changes,omitempty" jsonschema:"description=Files to write when the instructions request file output"`
}

// ResponseFileChange is one entry of Response.FileChanges.
type ResponseFileChange struct {
	Path        string `json:"path" jsonschema:"required,description=Path relative to the work folder"`
	Content     string `json:"content" jsonschema:"required,description=Complete file content"`
	Description string `json:"description" jsonschema:"description=What changed"`
}

var (
	schemaOnce sync.Once
	schemaText string
)

// Schema returns the JSON schema of Response, rendered once.
func Schema() string {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		out, err := json.MarshalIndent(reflector.Reflect(&Response{}), "", "  ")
		if err != nil {
			schemaText = "{}"
			return
		}
		schemaText = string(out)
	})
	return schemaText
}
