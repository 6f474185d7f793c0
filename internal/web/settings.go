package web

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/store"
)

var (
	// ErrNotConfigured means setup has not been completed.
	ErrNotConfigured = errors.New("no configuration found, complete setup first")
	// ErrAlreadyConfigured means setup was already completed.
	ErrAlreadyConfigured = errors.New("setup already completed, use /api/config to update settings")
	// ErrNoAPIKey means neither the user nor the system config provides an LLM key.
	ErrNoAPIKey = errors.New("anthropic API key must be provided or configured in the system config file")
)

// Cipher encrypts credentials at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SettingsManager stores the single user's settings with encrypted
// credentials and resolves them into run settings.
type SettingsManager struct {
	store  *store.Store
	cipher Cipher
	system *config.SystemConfig
}

// NewSettingsManager creates a SettingsManager. system may be nil.
func NewSettingsManager(st *store.Store, cipher Cipher, system *config.SystemConfig) *SettingsManager {
	if system == nil {
		system = &config.SystemConfig{}
	}
	return &SettingsManager{store: st, cipher: cipher, system: system}
}

// SetupRequest is the body of POST /api/setup.
type SetupRequest struct {
	Username       string   `json:"username" binding:"required"`
	Email          *string  `json:"email"`
	OrgURL         string   `json:"azure_devops_org_url" binding:"required"`
	Project        string   `json:"azure_devops_project" binding:"required"`
	PAT            string   `json:"azure_devops_pat" binding:"required"`
	APIKey         string   `json:"anthropic_api_key"`
	WorkFolderPath *string  `json:"work_folder_path"`
	Model          string   `json:"claude_model"`
	AutoApprove    bool     `json:"auto_approve"`
	MaxTokens      int      `json:"max_tokens"`
	Temperature    *float64 `json:"temperature"`
}

// UpdateConfigRequest is the body of PUT /api/config. Nil fields are left
// unchanged.
type UpdateConfigRequest struct {
	OrgURL         *string  `json:"azure_devops_org_url"`
	Project        *string  `json:"azure_devops_project"`
	PAT            *string  `json:"azure_devops_pat"`
	APIKey         *string  `json:"anthropic_api_key"`
	WorkFolderPath *string  `json:"work_folder_path"`
	Model          *string  `json:"claude_model"`
	AutoApprove    *bool    `json:"auto_approve"`
	MaxTokens      *int     `json:"max_tokens"`
	Temperature    *float64 `json:"temperature"`
	MaxRetries     *int     `json:"max_retries"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
}

// ConfigView is the redacted configuration returned by the API.
type ConfigView struct {
	OrgURL         string  `json:"azure_devops_org_url"`
	Project        string  `json:"azure_devops_project"`
	PAT            string  `json:"azure_devops_pat"`
	APIKey         string  `json:"anthropic_api_key"`
	APIKeySource   string  `json:"anthropic_api_key_source"`
	Model          string  `json:"claude_model"`
	WorkFolderPath *string `json:"work_folder_path"`
	AutoApprove    bool    `json:"auto_approve"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	MaxRetries     int     `json:"max_retries"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	IsConfigured   bool    `json:"is_configured"`
}

// SetupStatus reports whether setup has been completed.
type SetupStatus struct {
	IsConfigured   bool   `json:"is_configured"`
	Username       string `json:"username,omitempty"`
	SystemAPIKey   bool   `json:"system_api_key_available"`
	DefaultWorkDir string `json:"default_work_folder,omitempty"`
}

// Status reports whether a user exists.
func (m *SettingsManager) Status(ctx context.Context) (*SetupStatus, error) {
	st := &SetupStatus{SystemAPIKey: m.system.HasAPIKey(), DefaultWorkDir: m.system.DefaultWorkFolder}
	u, err := m.store.DefaultUser(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.IsConfigured = true
	st.Username = u.Username
	return st, nil
}

// Setup creates the user and its encrypted settings after validating them.
func (m *SettingsManager) Setup(ctx context.Context, req SetupRequest) (*store.User, error) {
	if _, err := m.store.DefaultUser(ctx); err == nil {
		return nil, ErrAlreadyConfigured
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if req.APIKey == "" && !m.system.HasAPIKey() {
		return nil, ErrNoAPIKey
	}

	us := &store.UserSettings{
		OrgURL:         req.OrgURL,
		Project:        req.Project,
		Model:          req.Model,
		WorkFolderPath: req.WorkFolderPath,
		AutoApprove:    req.AutoApprove,
		MaxTokens:      req.MaxTokens,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
	d := config.Defaults()
	if us.Model == "" {
		us.Model = d.Model
	}
	if us.MaxTokens == 0 {
		us.MaxTokens = d.MaxTokens
	}
	us.Temperature = d.Temperature
	if req.Temperature != nil {
		us.Temperature = *req.Temperature
	}
	if us.WorkFolderPath == nil && m.system.DefaultWorkFolder != "" {
		folder := m.system.DefaultWorkFolder
		us.WorkFolderPath = &folder
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = m.system.AnthropicAPIKey
	}
	if err := m.settingsFor(us, req.PAT, apiKey).Validate(); err != nil {
		return nil, err
	}

	var err error
	if us.PATEncrypted, err = m.cipher.Encrypt(req.PAT); err != nil {
		return nil, fmt.Errorf("encrypting PAT: %w", err)
	}
	if req.APIKey != "" {
		enc, err := m.cipher.Encrypt(req.APIKey)
		if err != nil {
			return nil, fmt.Errorf("encrypting API key: %w", err)
		}
		us.APIKeyEncrypted = &enc
	}

	u := &store.User{Username: req.Username, Email: req.Email}
	if err := m.store.CreateUserWithSettings(ctx, u, us); err != nil {
		return nil, err
	}
	return u, nil
}

// DefaultUser returns the configured user or ErrNotConfigured.
func (m *SettingsManager) DefaultUser(ctx context.Context) (*store.User, error) {
	u, err := m.store.DefaultUser(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	return u, err
}

// Credentials returns the decrypted run settings of the default user along
// with the user and stored settings. The LLM key falls back to the system
// config when the user has none.
func (m *SettingsManager) Credentials(ctx context.Context) (*config.Settings, *store.User, *store.UserSettings, error) {
	u, err := m.DefaultUser(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	us, err := m.store.GetSettings(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, ErrNotConfigured
	}
	if err != nil {
		return nil, nil, nil, err
	}

	pat, err := m.cipher.Decrypt(us.PATEncrypted)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypting PAT: %w", err)
	}

	var apiKey string
	if us.APIKeyEncrypted != nil && *us.APIKeyEncrypted != "" {
		if apiKey, err = m.cipher.Decrypt(*us.APIKeyEncrypted); err != nil {
			return nil, nil, nil, fmt.Errorf("decrypting API key: %w", err)
		}
	} else if m.system.HasAPIKey() {
		apiKey = m.system.AnthropicAPIKey
	} else {
		return nil, nil, nil, ErrNoAPIKey
	}

	return m.settingsFor(us, pat, apiKey), u, us, nil
}

func (m *SettingsManager) settingsFor(us *store.UserSettings, pat, apiKey string) *config.Settings {
	s := config.Defaults()
	s.OrgURL = us.OrgURL
	s.Project = us.Project
	s.PAT = pat
	s.APIKey = apiKey
	s.Model = us.Model
	s.AutoApprove = us.AutoApprove
	s.MaxTokens = us.MaxTokens
	s.Temperature = us.Temperature
	s.MaxRetries = us.MaxRetries
	s.TimeoutSeconds = us.TimeoutSeconds
	return &s
}

// Config returns the redacted configuration.
func (m *SettingsManager) Config(ctx context.Context) (*ConfigView, error) {
	u, err := m.DefaultUser(ctx)
	if err != nil {
		return nil, err
	}
	us, err := m.store.GetSettings(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return m.view(us), nil
}

// UpdateConfig applies a partial update, re-encrypting changed credentials.
func (m *SettingsManager) UpdateConfig(ctx context.Context, req UpdateConfigRequest) (*ConfigView, error) {
	u, err := m.DefaultUser(ctx)
	if err != nil {
		return nil, err
	}
	us, err := m.store.GetSettings(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	setString(&us.OrgURL, req.OrgURL)
	setString(&us.Project, req.Project)
	setString(&us.Model, req.Model)
	if req.WorkFolderPath != nil {
		us.WorkFolderPath = req.WorkFolderPath
	}
	if req.AutoApprove != nil {
		us.AutoApprove = *req.AutoApprove
	}
	if req.MaxTokens != nil {
		us.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		us.Temperature = *req.Temperature
	}
	if req.MaxRetries != nil {
		us.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		us.TimeoutSeconds = *req.TimeoutSeconds
	}

	pat, apiKey, err := m.mergedCredentials(us, req)
	if err != nil {
		return nil, err
	}
	if err := m.settingsFor(us, pat, apiKey).Validate(); err != nil {
		return nil, err
	}

	if req.PAT != nil {
		if us.PATEncrypted, err = m.cipher.Encrypt(*req.PAT); err != nil {
			return nil, fmt.Errorf("encrypting PAT: %w", err)
		}
	}
	if req.APIKey != nil {
		if *req.APIKey == "" {
			us.APIKeyEncrypted = nil
		} else {
			enc, err := m.cipher.Encrypt(*req.APIKey)
			if err != nil {
				return nil, fmt.Errorf("encrypting API key: %w", err)
			}
			us.APIKeyEncrypted = &enc
		}
	}

	if err := m.store.UpdateSettings(ctx, us); err != nil {
		return nil, err
	}
	return m.view(us), nil
}

// mergedCredentials resolves the credentials an update would leave in place.
// An empty API key in the request removes the user's key in favour of the
// system one.
func (m *SettingsManager) mergedCredentials(us *store.UserSettings, req UpdateConfigRequest) (pat, apiKey string, err error) {
	if req.PAT != nil {
		pat = *req.PAT
	} else if pat, err = m.cipher.Decrypt(us.PATEncrypted); err != nil {
		return "", "", fmt.Errorf("decrypting PAT: %w", err)
	}

	switch {
	case req.APIKey != nil && *req.APIKey != "":
		apiKey = *req.APIKey
	case req.APIKey == nil && us.APIKeyEncrypted != nil:
		if apiKey, err = m.cipher.Decrypt(*us.APIKeyEncrypted); err != nil {
			return "", "", fmt.Errorf("decrypting API key: %w", err)
		}
	case m.system.HasAPIKey():
		apiKey = m.system.AnthropicAPIKey
	default:
		return "", "", ErrNoAPIKey
	}
	return pat, apiKey, nil
}

func (m *SettingsManager) view(us *store.UserSettings) *ConfigView {
	v := &ConfigView{
		OrgURL:         us.OrgURL,
		Project:        us.Project,
		PAT:            config.RedactedValue,
		Model:          us.Model,
		WorkFolderPath: us.WorkFolderPath,
		AutoApprove:    us.AutoApprove,
		MaxTokens:      us.MaxTokens,
		Temperature:    us.Temperature,
		MaxRetries:     us.MaxRetries,
		TimeoutSeconds: us.TimeoutSeconds,
		IsConfigured:   true,
	}
	switch {
	case us.APIKeyEncrypted != nil:
		v.APIKey = config.RedactedValue
		v.APIKeySource = "user"
	case m.system.HasAPIKey():
		v.APIKey = config.RedactedValue
		v.APIKeySource = "system"
	default:
		v.APIKeySource = "none"
	}
	return v
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
