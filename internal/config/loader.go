// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, then apply the
//     environment-dependent rules validator tags cannot express.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the configuration from the environment.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// Does not override variables already present in the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()
	cfg.Firebase.PrivateKey = SecretString(normalizePrivateKey(cfg.Firebase.PrivateKey.Unmask()))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := cfg.validateEnvironment(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateEnvironment enforces settings that are only mandatory outside local.
func (c *Config) validateEnvironment() error {
	if c.IsLocal() {
		return nil
	}
	if !c.Server.AdminAPIKey.IsSet() {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "ADMIN_API_KEY is required when APP_ENV is not local",
		}
	}
	return nil
}

// normalizePrivateKey turns escaped newlines from single-line env values
// back into a PEM block.
func normalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}
