package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tuannvm/ado-ai/internal/apperr"
	log "github.com/tuannvm/ado-ai/internal/logging"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-opus-4-6"

const RedactedValue = "***REDACTED***"

// Settings holds the configuration of a single analysis run
type Settings struct {
	// Azure DevOps
	OrgURL  string `mapstructure:"azure_devops_org_url" yaml:"azure_devops_org_url"`
	Project string `mapstructure:"azure_devops_project" yaml:"azure_devops_project"`
	PAT     string `mapstructure:"azure_devops_pat" yaml:"azure_devops_pat"`

	// LLM
	APIKey      string  `mapstructure:"anthropic_api_key" yaml:"anthropic_api_key"`
	Provider    string  `mapstructure:"llm_provider" yaml:"llm_provider"` // "anthropic" or "openai"
	BaseURL     string  `mapstructure:"llm_base_url" yaml:"llm_base_url"`
	Model       string  `mapstructure:"claude_model" yaml:"claude_model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	// Application
	LogLevel          string `mapstructure:"log_level" yaml:"log_level"`
	AutoApprove       bool   `mapstructure:"auto_approve" yaml:"auto_approve"`
	// MaxRetries is the total number of attempts per remote call; 0 and 1 both
	// mean a single attempt.
	MaxRetries        int    `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	DryRun            bool   `mapstructure:"dry_run" yaml:"dry_run"`
	RequestsPerMinute int    `mapstructure:"rate_limit_requests_per_minute" yaml:"rate_limit_requests_per_minute"`
}

// Options controls where settings are read from.
type Options struct {
	// ConfigFile is an optional YAML/JSON/TOML file merged under the environment.
	ConfigFile string
	// SkipDotEnv disables .env loading, for tests and callers that already loaded it.
	SkipDotEnv bool
}

var defaults = map[string]interface{}{
	"azure_devops_org_url":           "",
	"azure_devops_project":           "",
	"azure_devops_pat":               "",
	"anthropic_api_key":              "",
	"llm_provider":                   "anthropic",
	"llm_base_url":                   "",
	"claude_model":                   DefaultModel,
	"max_tokens":                     4096,
	"temperature":                    0.7,
	"log_level":                      "INFO",
	"auto_approve":                   false,
	"max_retries":                    3,
	"timeout_seconds":                30,
	"dry_run":                        false,
	"rate_limit_requests_per_minute": 60,
}

// Defaults returns settings populated with default values only.
func Defaults() Settings {
	return Settings{
		Provider:          "anthropic",
		Model:             DefaultModel,
		MaxTokens:         4096,
		Temperature:       0.7,
		LogLevel:          "INFO",
		MaxRetries:        3,
		TimeoutSeconds:    30,
		RequestsPerMinute: 60,
	}
}

// LoadDotEnv loads a .env file from the working directory or up to two
// parent directories.
func LoadDotEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			log.Debugf("Loaded configuration from %s file", p)
			return
		}
	}
	log.Debugf("No .env file found. Using environment variables or defaults.")
}

// Load reads settings from the environment (and an optional config file)
// and validates them.
func Load(opts Options) (*Settings, error) {
	if !opts.SkipDotEnv {
		LoadDotEnv()
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, apperr.Configuration("failed to bind %s: %v", k, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.Configuration("failed to read config file %s: %v", opts.ConfigFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, apperr.Configuration("failed to decode configuration: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var placeholders = map[string]bool{
	"your_personal_access_token_here": true,
	"your_anthropic_api_key_here":     true,
	"<personal-access-token>":         true,
	"<api-key>":                       true,
	"placeholder":                     true,
	"changeme":                        true,
	"":                                true,
}

// Validate checks required credentials, the organization URL and numeric ranges.
func (s *Settings) Validate() error {
	var problems []string

	if strings.TrimSpace(s.OrgURL) == "" {
		problems = append(problems, "azure_devops_org_url is required")
	} else if u, err := url.Parse(s.OrgURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("azure_devops_org_url is not a valid URL: %s", s.OrgURL))
	} else if !strings.Contains(s.OrgURL, "dev.azure.com") && !strings.Contains(s.OrgURL, "visualstudio.com") {
		problems = append(problems, fmt.Sprintf(
			"invalid Azure DevOps organization URL: %s (expected https://dev.azure.com/YourOrganization)", s.OrgURL))
	}
	if strings.TrimSpace(s.Project) == "" {
		problems = append(problems, "azure_devops_project is required")
	}
	if placeholders[strings.ToLower(s.PAT)] {
		problems = append(problems, "azure_devops_pat is missing or contains a placeholder value")
	}
	if placeholders[strings.ToLower(s.APIKey)] {
		problems = append(problems, "anthropic_api_key is missing or contains a placeholder value")
	}

	switch strings.ToUpper(s.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "WARN", "ERROR", "CRITICAL":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of DEBUG, INFO, WARNING, ERROR, CRITICAL", s.LogLevel))
	}
	switch s.Provider {
	case "anthropic", "openai":
	default:
		problems = append(problems, fmt.Sprintf("llm_provider %q is not supported", s.Provider))
	}

	problems = append(problems, s.rangeProblems()...)

	if len(problems) > 0 {
		return apperr.Configuration("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (s *Settings) rangeProblems() []string {
	var problems []string
	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		problems = append(problems, "max_retries must be between 0 and 10")
	}
	if s.TimeoutSeconds < 1 || s.TimeoutSeconds > 300 {
		problems = append(problems, "timeout_seconds must be between 1 and 300")
	}
	if s.RequestsPerMinute < 1 || s.RequestsPerMinute > 1000 {
		problems = append(problems, "rate_limit_requests_per_minute must be between 1 and 1000")
	}
	if s.MaxTokens < 100 || s.MaxTokens > 8192 {
		problems = append(problems, "max_tokens must be between 100 and 8192")
	}
	if s.Temperature < 0 || s.Temperature > 1 {
		problems = append(problems, "temperature must be between 0.0 and 1.0")
	}
	return problems
}

// Redacted returns a copy with credentials masked for display.
func (s Settings) Redacted() Settings {
	if s.PAT != "" {
		s.PAT = RedactedValue
	}
	if s.APIKey != "" {
		s.APIKey = RedactedValue
	}
	return s
}

// ZapLevel maps the configured log level onto zap's level names.
func (s *Settings) ZapLevel() string {
	switch strings.ToUpper(s.LogLevel) {
	case "WARNING":
		return "warn"
	case "CRITICAL":
		return "fatal"
	default:
		return strings.ToLower(s.LogLevel)
	}
}
