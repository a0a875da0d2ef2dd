package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
//
// Struct tag validation (validator/v10) covers per-field rules like value
// ranges and enumerations; the checks below cover cross-field rules that
// tags cannot express. Validate never mutates the configuration, so it can
// run on user-supplied structs before ApplyDefaults.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	// Node ID becomes a queue name component and a ledger column value.
	if strings.ContainsAny(cfg.Node.ID, " \t\n") {
		return fmt.Errorf("node id must not contain whitespace, got %q", cfg.Node.ID)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("profiling endpoint is required when profiling is enabled")
	}

	// The secret from the environment is checked by the verifier at daemon
	// startup; here we only catch config file values that can never work.
	if cfg.Auth.Secret != "" && len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 characters, got %d", len(cfg.Auth.Secret))
	}

	if cfg.Mount.PIDDir != "" && !filepath.IsAbs(cfg.Mount.PIDDir) {
		return fmt.Errorf("mount pid_dir must be an absolute path, got %q", cfg.Mount.PIDDir)
	}
	if cfg.Lock.Dir != "" && !filepath.IsAbs(cfg.Lock.Dir) {
		return fmt.Errorf("lock dir must be an absolute path, got %q", cfg.Lock.Dir)
	}

	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"lock.timeout", cfg.Lock.Timeout},
		{"mount.term_wait", cfg.Mount.TermWait},
		{"auth.secret_store_timeout", cfg.Auth.SecretStoreTimeout},
		{"reconcile.interval", cfg.Reconcile.Interval},
	} {
		if d.val < 0 {
			return fmt.Errorf("%s must not be negative, got %v", d.name, d.val)
		}
	}

	return nil
}
