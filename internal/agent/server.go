package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trpc.group/trpc-go/trpc-a2a-go/auth"
	"trpc.group/trpc-go/trpc-a2a-go/server"
	"trpc.group/trpc-go/trpc-a2a-go/taskmanager"

	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/models"
)

// APIKeyHeader carries the key when AuthType is "apikey".
const APIKeyHeader = "X-API-Key"

// ServerOptions contains options for setting up the A2A server
type ServerOptions struct {
	AgentName    string
	AgentVersion string
	AgentURL     string
	AuthType     string
	JWTSecret    string
	APIKey       string
	Processor    taskmanager.TaskProcessor
}

// AnalyzeSkill describes the analysis skill on the agent card.
func AnalyzeSkill() server.AgentSkill {
	return server.AgentSkill{
		ID:   SkillID,
		Name: "Analyze work item",
		Description: models.StringPtr("Fetches an Azure DevOps work item with its recent comments and returns " +
			`an AI analysis. Input: {"workItemId": 1234, "customInstructions": "..."}`),
		Tags: []string{"azure-devops", "analysis"},
	}
}

// NewAgentCard builds the card served at /.well-known/agent.json.
func NewAgentCard(opts ServerOptions) server.AgentCard {
	return server.AgentCard{
		Name:        opts.AgentName,
		Description: models.StringPtr("Analyzes Azure DevOps work items and proposes status, remaining work and a comment"),
		URL:         opts.AgentURL,
		Version:     opts.AgentVersion,
		Provider: &server.AgentProvider{
			Organization: "ado-ai",
		},
		DefaultInputModes:  []string{"text", "data"},
		DefaultOutputModes: []string{"text"},
		Skills:             []server.AgentSkill{AnalyzeSkill()},
	}
}

// NewAuthProvider returns the provider for authType, or nil for "".
func NewAuthProvider(authType, jwtSecret, apiKey string) (auth.Provider, error) {
	switch authType {
	case "":
		return nil, nil
	case "jwt":
		if jwtSecret == "" {
			return nil, errors.New("jwt auth requires JWT_SECRET")
		}
		return auth.NewJWTAuthProvider([]byte(jwtSecret), "", "", 24*time.Hour), nil
	case "apikey":
		if apiKey == "" {
			return nil, errors.New("apikey auth requires API_KEY")
		}
		return auth.NewAPIKeyAuthProvider(map[string]string{apiKey: "user"}, APIKeyHeader), nil
	}
	return nil, fmt.Errorf("unsupported auth type: %s", authType)
}

// SetupServer creates the A2A server with an in-memory task manager
func SetupServer(opts ServerOptions) (*server.A2AServer, error) {
	taskManager, err := taskmanager.NewMemoryTaskManager(opts.Processor)
	if err != nil {
		return nil, fmt.Errorf("failed to create task manager: %w", err)
	}

	serverOpts := []server.Option{
		// JSON-RPC at root so A2AClient.SendTasks posts to "/"
		server.WithJSONRPCEndpoint("/"),
		// an analysis can take longer than the default timeouts
		server.WithReadTimeout(2 * time.Minute),
		server.WithWriteTimeout(2 * time.Minute),
	}

	provider, err := NewAuthProvider(opts.AuthType, opts.JWTSecret, opts.APIKey)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		logging.Infof("Configuring %s authentication for %s", opts.AuthType, opts.AgentName)
		serverOpts = append(serverOpts, server.WithAuthProvider(provider))
	} else {
		logging.Warnf("No authentication configured for %s, running unauthenticated", opts.AgentName)
	}

	srv, err := server.NewA2AServer(NewAgentCard(opts), taskManager, serverOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, nil
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, srv *server.A2AServer, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting A2A server on %s", addr)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logging.Infof("Shutting down server...")
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
