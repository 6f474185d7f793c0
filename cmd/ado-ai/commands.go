package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tuannvm/ado-ai/internal/ado"
	"github.com/tuannvm/ado-ai/internal/analysis"
	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/console"
	"github.com/tuannvm/ado-ai/internal/llm"
	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/workflow"
)

// orchestrator is the part of *workflow.Orchestrator the commands drive.
type orchestrator interface {
	FetchWorkItem(ctx context.Context, workItemID int, sink workflow.ProgressSink) *workflow.Result
	CompleteWorkItem(ctx context.Context, workItemID int, opts workflow.Options, sink workflow.ProgressSink) *workflow.Result
}

type orchestratorFactory func(s *config.Settings) (orchestrator, string, error)

func defaultFactory(s *config.Settings) (orchestrator, string, error) {
	backend, err := llm.NewClient(s)
	if err != nil {
		return nil, "", err
	}
	analyzer := analysis.NewClient(s, backend)
	return workflow.New(ado.NewClient(s), analyzer, s), analyzer.Model(), nil
}

// errFailed signals a handled failure whose message was already printed.
var errFailed = errors.New("command failed")

type app struct {
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	factory orchestratorFactory

	configFile string
	verbose    bool
	quiet      bool
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, factory: defaultFactory}
}

// run executes the command line and returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(a.errOut, "Error:", err)
		}
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ado-ai",
		Short:         "Analyze Azure DevOps work items with Claude",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setupLogging("")
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "optional settings file (yaml, json or toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "only log errors")

	root.AddCommand(a.fetchCmd(), a.completeCmd(), a.configCmd(), a.versionCmd())
	return root
}

// setupLogging applies the verbosity flags, falling back to the configured
// level.
func (a *app) setupLogging(configured string) {
	lvl := "warn"
	switch {
	case a.verbose:
		lvl = "debug"
	case a.quiet:
		lvl = "error"
	case configured != "":
		lvl = configured
	}
	logging.Setup(lvl, true)
}

func (a *app) loadSettings() (*config.Settings, error) {
	s, err := config.Load(config.Options{ConfigFile: a.configFile})
	if err != nil {
		a.printError(err)
		return nil, errFailed
	}
	if !a.verbose && !a.quiet {
		a.setupLogging(s.ZapLevel())
	}
	return s, nil
}

func (a *app) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <work-item-id>",
		Short: "Fetch and display a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			orch, _, err := a.factory(s)
			if err != nil {
				a.printError(err)
				return errFailed
			}

			res := orch.FetchWorkItem(cmd.Context(), id, console.New(a.in, a.out))
			if !res.Success {
				a.printError(resultErr(res))
				return errFailed
			}
			fmt.Fprintln(a.out, console.RenderWorkItem(res.WorkItem))
			return nil
		},
	}
}

func (a *app) completeCmd() *cobra.Command {
	var autoApprove, dryRun bool
	cmd := &cobra.Command{
		Use:   "complete <work-item-id>",
		Short: "Analyze a work item and apply the proposed changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			orch, model, err := a.factory(s)
			if err != nil {
				a.printError(err)
				return errFailed
			}

			opts := workflow.Options{
				AutoApprove: autoApprove || s.AutoApprove,
				DryRun:      dryRun || s.DryRun,
			}
			res := orch.CompleteWorkItem(cmd.Context(), id, opts, console.New(a.in, a.out))

			// the console shows the analysis while confirming; other paths show it here
			if res.Analysis != nil && (opts.DryRun || opts.AutoApprove) {
				fmt.Fprintln(a.out, console.RenderAnalysis(res.Analysis, model))
			}
			fmt.Fprintln(a.out, console.RenderResult(res))
			if !res.Success {
				if res.ErrorMessage != workflow.MsgUserCancelled {
					a.printHint(resultErr(res))
				}
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "apply changes without asking")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze only, never update the work item")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration is complete and valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.loadSettings(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Configuration is valid")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, renderSettings(s.Redacted()))
			return nil
		},
	})
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "ado-ai %s\n", config.Version)
		},
	}
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid work item id %q", arg)
	}
	return id, nil
}

func resultErr(res *workflow.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.ErrorMessage)
}

var errorLabels = map[apperr.Kind]string{
	apperr.KindConfiguration:  "Configuration error",
	apperr.KindAuthentication: "Authentication error",
}

var errorHints = map[apperr.Kind]string{
	apperr.KindConfiguration:  "Check your .env file or environment variables; run 'ado-ai config validate' for details.",
	apperr.KindAuthentication: "Check that AZURE_DEVOPS_PAT and ANTHROPIC_API_KEY are valid and not expired.",
}

// printError prints configuration and authentication errors with a category
// and a remediation hint; anything else prints the message only.
func (a *app) printError(err error) {
	label, ok := errorLabels[apperr.KindOf(err)]
	if !ok {
		fmt.Fprintln(a.errOut, err)
		return
	}
	fmt.Fprintf(a.errOut, "%s: %v\n", label, err)
	a.printHint(err)
}

func (a *app) printHint(err error) {
	if hint, ok := errorHints[apperr.KindOf(err)]; ok {
		fmt.Fprintln(a.errOut, hint)
	}
}

func renderSettings(s config.Settings) string {
	rows := [][2]string{
		{"Organization URL", s.OrgURL},
		{"Project", s.Project},
		{"Personal access token", s.PAT},
		{"API key", s.APIKey},
		{"LLM provider", s.Provider},
		{"Model", s.Model},
		{"Max tokens", strconv.Itoa(s.MaxTokens)},
		{"Temperature", strconv.FormatFloat(s.Temperature, 'f', -1, 64)},
		{"Log level", s.LogLevel},
		{"Auto approve", strconv.FormatBool(s.AutoApprove)},
		{"Dry run", strconv.FormatBool(s.DryRun)},
		{"Max retries", strconv.Itoa(s.MaxRetries)},
		{"Timeout (s)", strconv.Itoa(s.TimeoutSeconds)},
		{"Requests per minute", strconv.Itoa(s.RequestsPerMinute)},
	}
	if s.BaseURL != "" {
		rows = append(rows, [2]string{"LLM base URL", s.BaseURL})
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-22s %s\n", r[0]+":", r[1])
	}
	return b.String()
}
