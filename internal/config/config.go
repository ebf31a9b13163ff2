// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.strand/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Model: provider preference and generation limits, resolved per
//     session through the chain in resolve.go
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: mode, HMAC secret, CORS, rate limits
//
// Security: Sensitive data (secrets, passwords) are never logged; config
// directory uses 0750 permissions.
// Validation: Range checks in validation.go with clear error messages.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidMode indicates the run mode is not supported.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxTurns indicates the tool-loop turn limit is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingHMACSecret indicates the HMAC secret is not set in prod mode.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")
)

// Run modes. Dev mode keeps conversations in memory and relaxes the
// security requirements; prod mode requires PostgreSQL and a stable
// HMAC secret.
const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

const (
	// DefaultMaxHistoryTurns is the default number of prior turns loaded
	// as model context.
	DefaultMaxHistoryTurns = 100

	// MaxAllowedHistoryTurns is the absolute maximum to prevent OOM.
	MaxAllowedHistoryTurns = 10000

	// MinHistoryTurns is the minimum allowed value for MaxHistoryTurns.
	MinHistoryTurns = 10
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Run mode: "dev" (default) or "prod"
	Mode string `mapstructure:"mode" json:"mode"`

	// Model preference. Empty values defer to the resolution chain in
	// resolve.go; see Config.ResolveModel.
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini", "openai", "ollama"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "gpt-4o-mini", "llama3.3"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost  string `mapstructure:"ollama_host" json:"ollama_host"`
	OllamaModel string `mapstructure:"ollama_model" json:"ollama_model"`

	// Conversation limits
	MaxHistoryTurns int `mapstructure:"max_history_turns" json:"max_history_turns"`
	MaxTurns        int `mapstructure:"max_turns" json:"max_turns"` // tool-loop rounds per message

	// Project file override; empty means look for strand.yaml in the
	// working directory (see resolve.go)
	ProjectFile string `mapstructure:"project_file" json:"project_file"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Security configuration (serve mode only)
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.strand/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".strand")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
//
// Note: provider and model_name deliberately default to empty. A model
// is resolved per session (see resolve.go) so the server can boot
// without any provider key and fail only when a generation is asked for.
func setDefaults() {
	viper.SetDefault("mode", ModeDev)

	// Generation defaults
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 4096)
	viper.SetDefault("max_history_turns", DefaultMaxHistoryTurns)
	viper.SetDefault("max_turns", 8)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "strand")
	viper.SetDefault("postgres_password", "strand_dev_password")
	viper.SetDefault("postgres_db_name", "strand")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// CORS defaults (local development clients)
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})

	// Proxy trust (default: false — safe for direct exposure; set true behind reverse proxy)
	viper.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("mode", "STRAND_MODE")

	// Model preference overrides
	mustBind("provider", "STRAND_PROVIDER")
	mustBind("model_name", "STRAND_MODEL")
	mustBind("ollama_host", "STRAND_OLLAMA_HOST")
	mustBind("ollama_model", "STRAND_OLLAMA_MODEL")
	mustBind("project_file", "STRAND_PROJECT_FILE")

	// Serve mode security
	mustBind("hmac_secret", "STRAND_HMAC_SECRET")
	mustBind("cors_origins", "STRAND_CORS_ORIGINS")
	mustBind("trust_proxy", "STRAND_TRUST_PROXY")

	// NOTE: GEMINI_API_KEY is read directly by the Genkit plugin, not via Viper
	// NOTE: OPENAI_API_KEY is read directly by the Genkit OpenAI plugin, not via Viper
	// The resolution chain checks their presence; see resolve.go
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) cannot collide with substrings of real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep
// their first and last 2 characters for debug utility.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - HMACSecret
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.HMACSecret = maskSecret(a.HMACSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
