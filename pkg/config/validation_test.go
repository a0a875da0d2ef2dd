package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_MissingBrokerURL(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Broker.URL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing broker URL")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' validation error, got: %v", err)
	}
}

func TestValidate_NodeIDWhitespace(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Node.ID = "backup node 1"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for node id with whitespace")
	}
	if !strings.Contains(err.Error(), "node id") {
		t.Errorf("Expected error about node id, got: %v", err)
	}
}

func TestValidate_InvalidDatabaseType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.Type = "oracle"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unsupported database type")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("Expected error about database, got: %v", err)
	}
}

func TestValidate_ShortAuthSecret(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Auth.Secret = "too-short"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for short auth secret")
	}
	if !strings.Contains(err.Error(), "32") {
		t.Errorf("Expected error about the 32 character minimum, got: %v", err)
	}
}

func TestValidate_RelativePIDDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Mount.PIDDir = "relative/pids"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for relative pid dir")
	}
	if !strings.Contains(err.Error(), "absolute") {
		t.Errorf("Expected error about absolute path, got: %v", err)
	}
}

func TestValidate_RelativeLockDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Lock.Dir = "relative/lock"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for relative lock dir")
	}
}

func TestValidate_NegativeDurations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"lock timeout", func(cfg *Config) { cfg.Lock.Timeout = -time.Second }},
		{"term wait", func(cfg *Config) { cfg.Mount.TermWait = -time.Second }},
		{"secret store timeout", func(cfg *Config) { cfg.Auth.SecretStoreTimeout = -time.Second }},
		{"reconcile interval", func(cfg *Config) { cfg.Reconcile.Interval = -time.Minute }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tc.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error for negative duration")
			}
			if !strings.Contains(err.Error(), "negative") {
				t.Errorf("Expected error about negative duration, got: %v", err)
			}
		})
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") && !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.Telemetry.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	// Test that validation accepts both uppercase and lowercase log levels
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		err := Validate(cfg)
		if err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		// Validation should NOT normalize - level should remain as-is
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}
}
