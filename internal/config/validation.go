package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// minHMACSecretLength keeps cookie signatures unforgeable in practice.
const minHMACSecretLength = 32

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
//
// Note: provider keys are deliberately NOT validated here. A server may
// boot with no key at all; the resolution chain reports
// ErrNoModelConfigured when a generation is actually requested.
func (c *Config) Validate() error {
	// 0. Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. Run mode
	if c.Mode != ModeDev && c.Mode != ModeProd {
		return fmt.Errorf("%w: %q, must be %q or %q", ErrInvalidMode, c.Mode, ModeDev, ModeProd)
	}

	// 2. Model preference, when one is set
	if c.Provider != "" && !knownProvider(c.Provider) {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// MaxTurns bounds the tool loop per message
	if c.MaxTurns < 1 || c.MaxTurns > 32 {
		return fmt.Errorf("%w: must be between 1 and 32, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	// 3. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn on the default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "strand_dev_password" && c.Mode == ModeProd {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 4. PostgreSQL SSL mode validation
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 5. HMAC secret: prod mode signs user identity cookies with it, so
	// it must be present and strong. Dev mode generates an ephemeral one.
	if c.Mode == ModeProd {
		if c.HMACSecret == "" {
			return fmt.Errorf("%w: set STRAND_HMAC_SECRET in prod mode", ErrMissingHMACSecret)
		}
		if len(c.HMACSecret) < minHMACSecretLength {
			return fmt.Errorf("%w: must be at least %d characters (got %d)",
				ErrInvalidHMACSecret, minHMACSecretLength, len(c.HMACSecret))
		}
	}

	return nil
}

// ValidateServe layers the checks that only matter when serving HTTP
// on top of Validate (which Load already ran). A configuration can be
// fine for a local client yet unsafe to expose.
func (c *Config) ValidateServe() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.Mode != ModeProd {
		return nil
	}
	if c.PostgresPassword == "strand_dev_password" {
		return fmt.Errorf("%w: refusing to serve in prod mode with the default development password",
			ErrInvalidPostgresPassword)
	}
	return nil
}

// NormalizeMaxHistoryTurns clamps the history window to sane bounds.
func NormalizeMaxHistoryTurns(limit int) int {
	if limit <= 0 {
		return DefaultMaxHistoryTurns
	}
	if limit < MinHistoryTurns {
		return MinHistoryTurns
	}
	if limit > MaxAllowedHistoryTurns {
		return MaxAllowedHistoryTurns
	}
	return limit
}
