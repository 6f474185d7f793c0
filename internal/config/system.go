package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	log "github.com/tuannvm/ado-ai/internal/logging"
)

// SystemConfig holds server-wide settings shared by every user of the web
// service.
type SystemConfig struct {
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	DefaultWorkFolder string `yaml:"default_work_folder"`
}

// SystemConfigPaths returns the locations searched, in order.
func SystemConfigPaths() []string {
	paths := []string{"/etc/ado-ai/config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ado-ai", "config.yaml"))
	}
	return append(paths, "./server_config.yaml", "./server_config.json")
}

// LoadSystemConfig reads the first readable file in paths. A missing or
// unreadable file yields an empty config.
func LoadSystemConfig(paths ...string) *SystemConfig {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var sc SystemConfig
		// yaml.v3 also accepts JSON documents
		if err := yaml.Unmarshal(data, &sc); err != nil {
			log.Warnf("Failed to load system config from %s: %v", p, err)
			continue
		}
		log.Infof("Loaded system config from: %s", p)
		return &sc
	}
	log.Infof("No system config file found. Using user-provided credentials only.")
	return &SystemConfig{}
}

// HasAPIKey reports whether the system config supplies an LLM API key.
func (c *SystemConfig) HasAPIKey() bool {
	return c != nil && c.AnthropicAPIKey != ""
}
