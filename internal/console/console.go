// Package console renders workflow progress and results in the terminal and
// asks the user to approve proposed changes.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/workflow"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Bold(true)
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
)

// Console is an interactive progress sink.
type Console struct {
	out io.Writer
	in  *bufio.Reader
}

var (
	_ workflow.ProgressSink = (*Console)(nil)
	_ workflow.Confirmer    = (*Console)(nil)
)

// New creates a Console on the given streams. Nil streams default to the
// process stdin and stdout.
func New(in io.Reader, out io.Writer) *Console {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, in: bufio.NewReader(in)}
}

// Emit prints one line per workflow step.
func (c *Console) Emit(_ context.Context, ev workflow.Event) {
	var line string
	switch ev.Step {
	case workflow.StepFetching:
		line = stepStyle.Render(fmt.Sprintf("→ Fetching work item #%d...", ev.WorkItemID))
	case workflow.StepFetchingComments:
		line = stepStyle.Render("→ Fetching recent comments...")
	case workflow.StepAnalyzing:
		line = stepStyle.Render("→ Analyzing with Claude AI...")
	case workflow.StepDryRunComplete:
		line = warnStyle.Render("Dry run complete, no changes made")
	case workflow.StepUpdating:
		line = stepStyle.Render(fmt.Sprintf("→ Updating work item #%d...", ev.WorkItemID))
	case workflow.StepCompleted:
		line = successStyle.Render(fmt.Sprintf("✓ Work item #%d updated", ev.WorkItemID))
	case workflow.StepFailed:
		line = errorStyle.Render("✗ Update failed: " + ev.Error)
	case workflow.StepError:
		line = errorStyle.Render("✗ Error: " + ev.Error)
	default:
		line = mutedStyle.Render(string(ev.Step))
	}
	fmt.Fprintln(c.out, line)
}

// Confirm shows the proposed changes and reads a yes/no answer. Anything but
// "y" or "yes" declines.
func (c *Console) Confirm(ctx context.Context, req workflow.ConfirmRequest) (bool, error) {
	fmt.Fprintln(c.out, RenderAnalysis(req.Analysis, req.Model))
	fmt.Fprintln(c.out, RenderChanges(req.Fields, req.Analysis))
	fmt.Fprint(c.out, titleStyle.Render("Apply these changes? [y/N]: "))

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("reading confirmation: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		fmt.Fprintln(c.out, mutedStyle.Render("Changes discarded"))
		return false, nil
	}
}

// RenderWorkItem formats a work item for display.
func RenderWorkItem(wi *models.WorkItem) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("#%d %s", wi.ID, wi.Title)))
	b.WriteString("\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(label+":"), value)
	}
	row("Type", wi.Type)
	row("State", wi.State)
	row("Assigned To", models.Deref(wi.AssignedTo))
	if wi.Priority != nil {
		row("Priority", fmt.Sprint(*wi.Priority))
	}
	if wi.RemainingWork != nil {
		row("Remaining Work", fmt.Sprintf("%gh", *wi.RemainingWork))
	}
	row("Area", models.Deref(wi.AreaPath))
	row("Iteration", models.Deref(wi.IterationPath))
	row("Tags", models.Deref(wi.Tags))
	row("URL", models.Deref(wi.URL))
	if d := models.Deref(wi.Description); d != "" {
		b.WriteString("\n")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderComments formats comments newest first.
func RenderComments(comments []models.Comment) string {
	if len(comments) == 0 {
		return mutedStyle.Render("No comments")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Comments (%d)", len(comments))))
	for _, cm := range comments {
		author := models.Deref(cm.CreatedBy)
		if author == "" {
			author = "Unknown"
		}
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render(author+":"), cm.Text)
	}
	return b.String()
}

// RenderAnalysis formats an analysis with its token usage and cost.
func RenderAnalysis(a *models.AnalysisResult, model string) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("AI Analysis"))
	b.WriteString("\n")
	b.WriteString(a.Analysis)
	b.WriteString("\n")

	if a.Solution != "" {
		b.WriteString("\n" + labelStyle.Render("Solution:") + "\n" + a.Solution + "\n")
	}
	list := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n" + labelStyle.Render(label+":") + "\n")
		for i, it := range items {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, it)
		}
	}
	list("Tasks", a.Tasks)
	list("Risks", a.Risks)

	if len(a.FileChanges) > 0 {
		b.WriteString("\n" + labelStyle.Render("Proposed Files:") + "\n")
		for _, fc := range a.FileChanges {
			fmt.Fprintf(&b, "  %s %s\n", fc.Path, mutedStyle.Render(fc.Description))
		}
	}

	u := a.TokenUsage
	fmt.Fprintf(&b, "\n%s", mutedStyle.Render(fmt.Sprintf("Tokens: %d in / %d out, est. cost $%.4f",
		u.InputTokens, u.OutputTokens, u.Cost(model))))
	return panelStyle.Render(b.String())
}

// RenderChanges lists the field updates and the comment that will be posted.
func RenderChanges(fields map[string]interface{}, a *models.AnalysisResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Proposed Changes"))
	if len(fields) == 0 {
		b.WriteString("\n" + mutedStyle.Render("No field changes"))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s %v", labelStyle.Render(k+":"), fields[k])
	}
	if a != nil && a.Comment != "" {
		b.WriteString("\n" + labelStyle.Render("Comment:") + "\n" + a.Comment)
	}
	return b.String()
}

// RenderResult prints the final line of a run.
func RenderResult(res *workflow.Result) string {
	if res.Success {
		return successStyle.Render(fmt.Sprintf("Done: work item #%d", res.WorkItemID))
	}
	if res.ErrorMessage == workflow.MsgUserCancelled {
		return warnStyle.Render(res.ErrorMessage)
	}
	return errorStyle.Render("Failed: " + res.ErrorMessage)
}
