package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	liblog "trpc.group/trpc-go/trpc-a2a-go/log"

	"github.com/tuannvm/ado-ai/internal/ado"
	"github.com/tuannvm/ado-ai/internal/agent"
	"github.com/tuannvm/ado-ai/internal/analysis"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/llm"
	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/models"
	"github.com/tuannvm/ado-ai/internal/telemetry"
	"github.com/tuannvm/ado-ai/internal/workflow"
)

func main() {
	config.LoadDotEnv()
	cfg := config.NewServerConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "ado-ai-agent",
		Short:         "A2A agent exposing Azure DevOps work item analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var debug bool
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging, including the A2A library")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl := "info"
		if debug {
			lvl = "debug"
		}
		logging.Setup(lvl, false)
		// route the A2A library's logs through our logger
		liblog.Default = logging.Logger
	}

	root.AddCommand(serveCmd(cfg), sendCmd(cfg))
	// no subcommand means serve
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	}

	err := root.ExecuteContext(ctx)
	if err != nil {
		logging.Errorf("%v", err)
	}
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func serveCmd(cfg *config.ServerConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the A2A server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	settings, err := config.Load(config.Options{SkipDotEnv: true})
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Headers:        cfg.OTLPHeaders,
		ServiceName:    cfg.ServiceName + "-agent",
		ServiceVersion: config.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logging.Errorf("OTel shutdown error: %v", err)
		}
	}()

	backend, err := llm.NewClient(settings)
	if err != nil {
		return err
	}
	analyzer := analysis.NewClient(settings, backend)
	orch := workflow.New(ado.NewClient(settings), analyzer, settings)

	srv, err := agent.SetupServer(agent.ServerOptions{
		AgentName:    cfg.AgentName,
		AgentVersion: cfg.AgentVersion,
		AgentURL:     cfg.AgentURL,
		AuthType:     cfg.AuthType,
		JWTSecret:    cfg.JWTSecret,
		APIKey:       cfg.APIKey,
		Processor:    agent.New(orch, analyzer.Model()),
	})
	if err != nil {
		return fmt.Errorf("failed to set up A2A server: %w", err)
	}

	logging.Infof("%s %s serving skill %s for project %s", cfg.AgentName, cfg.AgentVersion, agent.SkillID, settings.Project)
	if err := agent.StartServer(ctx, srv, cfg.ServerHost, cfg.ServerPort); err != nil {
		return err
	}
	logging.Infof("Server shutdown complete")
	return nil
}

func sendCmd(cfg *config.ServerConfig) *cobra.Command {
	var (
		instructions string
		timeout      time.Duration
		target       string
	)
	cmd := &cobra.Command{
		Use:   "send <work-item-id>",
		Short: "Send an analysis task to a running agent and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid work item id %q", args[0])
			}
			if target == "" {
				target = cfg.AgentURL
			}
			c, err := agent.NewClient(target, cfg.AuthType, cfg.APIKey)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			task, err := agent.SendAnalysis(ctx, c, models.AnalysisRequest{WorkItemID: id, CustomInstructions: instructions})
			if err != nil {
				return err
			}
			logging.Infof("Task %s submitted", task.ID)
			if !agent.IsTerminal(task.Status.State) {
				if task, err = agent.WaitForTask(ctx, c, task.ID, time.Second); err != nil {
					return err
				}
			}

			outcome, err := agent.ParseOutcome(task)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(outcome, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !outcome.Success {
				return fmt.Errorf("analysis failed: %s", outcome.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "custom instructions for the analysis")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for the result")
	cmd.Flags().StringVar(&target, "url", "", "agent URL (default AGENT_URL)")
	return cmd
}
