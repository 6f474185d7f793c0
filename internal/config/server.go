package config

import (
	"os"
	"strconv"
)

// ServerConfig holds the configuration of the long-running services
// (web API and A2A agent)
type ServerConfig struct {
	// Server configuration
	ServerPort int
	ServerHost string

	// Agent configuration
	AgentName    string
	AgentVersion string
	AgentURL     string

	// Authentication for the A2A endpoint
	AuthType  string // "jwt", "apikey" or "" for none
	JWTSecret string
	APIKey    string

	// Persistence
	DatabaseURL       string // sqlite file path or postgres:// DSN
	RedisURL          string
	EncryptionKey     string // base64, 32 bytes
	EncryptionKeyFile string

	// Telemetry
	OTLPEndpoint string
	OTLPHeaders  string // comma separated key=value pairs
	ServiceName  string

	// Web
	RequestsPerMinute int
	GinMode           string
	HookSecret        string // basic auth password expected on service hooks
}

// NewServerConfig creates a new configuration with values from environment variables
func NewServerConfig() *ServerConfig {
	port, _ := strconv.Atoi(getEnvOrDefault("SERVER_PORT", "8080"))
	rpm, _ := strconv.Atoi(getEnvOrDefault("RATE_LIMIT_REQUESTS_PER_MINUTE", "60"))

	return &ServerConfig{
		// Server configuration
		ServerPort: port,
		ServerHost: getEnvOrDefault("SERVER_HOST", "localhost"),

		// Agent configuration
		AgentName:    getEnvOrDefault("AGENT_NAME", "WorkItemAnalysisAgent"),
		AgentVersion: getEnvOrDefault("AGENT_VERSION", Version),
		AgentURL:     getEnvOrDefault("AGENT_URL", "http://localhost:8080"),

		// Authentication
		AuthType:  getEnvOrDefault("AUTH_TYPE", "apikey"),
		JWTSecret: getEnvOrDefault("JWT_SECRET", ""),
		APIKey:    getEnvOrDefault("API_KEY", ""),

		// Persistence
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "ado_ai.db"),
		RedisURL:          getEnvOrDefault("REDIS_URL", ""),
		EncryptionKey:     getEnvOrDefault("ENCRYPTION_MASTER_KEY", ""),
		EncryptionKeyFile: getEnvOrDefault("ENCRYPTION_KEY_FILE", ".encryption_key"),

		// Telemetry
		OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPHeaders:  getEnvOrDefault("OTEL_EXPORTER_OTLP_HEADERS", ""),
		ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", "ado-ai"),

		RequestsPerMinute: rpm,
		GinMode:           getEnvOrDefault("GIN_MODE", "release"),
		HookSecret:        getEnvOrDefault("SERVICE_HOOK_SECRET", ""),
	}
}

// getEnvOrDefault returns the value of the environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
