package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	GitHub  GitHubConfig      `yaml:"github"`
	Store   StoreConfig       `yaml:"store"`
	Auth    AuthConfig        `yaml:"auth"`
	Extract ExtractConfig     `yaml:"extract"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.GitHub.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// GitHubConfig holds the remote repository configuration. The token is
// usually injected through the environment (GITREFER_TOKEN) via the
// ${...} expansion the config loader applies.
type GitHubConfig struct {
	Repo    string `yaml:"repo"`
	Token   string `yaml:"token"`
	Branch  string `yaml:"branch"`
	BaseURL string `yaml:"base_url"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Token, validation.Required),
	)
}

// StoreConfig holds reference-store configuration.
type StoreConfig struct {
	// Root is the directory inside the repository holding the
	// references.
	Root string `yaml:"root"`

	// ConflictRetries bounds the read-modify-write retry loop on
	// concurrent edits.
	ConflictRetries int `yaml:"conflict_retries"`

	// ConflictBackoffMS is the base backoff between conflict retries,
	// in milliseconds.
	ConflictBackoffMS int `yaml:"conflict_backoff_ms"`

	// TransportRetries bounds the resubmission of transient transport
	// failures.
	TransportRetries int `yaml:"transport_retries"`

	// TransportBackoffMS is the base backoff between transport
	// retries, in milliseconds.
	TransportBackoffMS int `yaml:"transport_backoff_ms"`
}

// ConflictBackoff returns the conflict backoff as a duration.
func (c *StoreConfig) ConflictBackoff() time.Duration {
	return time.Duration(c.ConflictBackoffMS) * time.Millisecond
}

// TransportBackoff returns the transport backoff as a duration.
func (c *StoreConfig) TransportBackoff() time.Duration {
	return time.Duration(c.TransportBackoffMS) * time.Millisecond
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ConflictRetries, validation.Min(0)),
		validation.Field(&c.ConflictBackoffMS, validation.Min(0)),
		validation.Field(&c.TransportRetries, validation.Min(0)),
		validation.Field(&c.TransportBackoffMS, validation.Min(0)),
	)
}

// ExtractConfig holds metadata-extraction configuration. The base URLs
// are overridable for tests and mirrors; empty means the public
// registries.
type ExtractConfig struct {
	CrossrefBaseURL string `yaml:"crossref_base_url"`
	DataCiteBaseURL string `yaml:"datacite_base_url"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		GitHub: GitHubConfig{},
		Store: StoreConfig{
			Root:               "references",
			ConflictRetries:    4,
			ConflictBackoffMS:  150,
			TransportRetries:   3,
			TransportBackoffMS: 250,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
