package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// InitConfig creates a sample configuration file at the default location.
//
// Returns the path of the created file. Fails if a config file already
// exists there, unless force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path,
// creating parent directories as needed. Fails if the file already exists,
// unless force is true.
//
// The generated file is a commented YAML template populated with the
// default values, plus a freshly generated random auth secret so a
// development setup works out of the box.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("failed to generate auth secret: %w", err)
	}

	content := renderSampleConfig(GetDefaultConfig(), secret)

	// 0600: the file carries the generated secret and may later carry
	// broker passwords.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateSecret returns a 64-character hex string (32 bytes of entropy)
// suitable as an HMAC signing key.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// renderSampleConfig produces a commented YAML document from the default
// configuration. Kept as a template rather than yaml.Marshal output so the
// generated file documents every knob an operator is likely to touch.
func renderSampleConfig(cfg *Config, secret string) string {
	return fmt.Sprintf(`# mountd Configuration File
#
# This file configures the dynamic mount daemon. Every value shown here is
# the default; uncomment and edit what you need. Environment variables with
# the MOUNTD_ prefix override file values (MOUNTD_LOGGING_LEVEL=DEBUG).

# Node identity. Every node sharing a ledger must use a distinct ID.
node:
  id: %q

logging:
  # DEBUG, INFO, WARN, ERROR
  level: %q
  # text or json
  format: %q
  # stdout, stderr, or a file path
  output: %q

# Mount ledger database. sqlite is fine for a single node; use postgres
# when several nodes share one ledger.
database:
  type: %q
  sqlite:
    path: %q
  # postgres:
  #   host: ledger.example.com
  #   port: 5432
  #   database: mountd
  #   user: mountd
  #   password: ""
  #   ssl_mode: require

# Message broker carrying mount/unmount requests.
broker:
  url: %q
  queue_prefix: %q

# Mount driver settings.
mount:
  # Filesystem type for network mounts (mount -t).
  fstype: %q
  # Privilege helper; leave empty when the daemon runs as root.
  # rootwrap_path: /usr/bin/mountd-rootwrap
  # rootwrap_conf: /etc/mountd/rootwrap.conf
  # User-space filesystem binary for object-storage targets.
  # userfs_binary: /usr/bin/s3fsmount
  # userfs_log_config: /etc/mountd/userfs-logging.conf
  pid_dir: %q
  term_wait: %s

# Cross-process operation lock.
lock:
  dir: %q
  timeout: %s

# Request token verification and secret-store access.
auth:
  # Generated for development use. For production, prefer the environment:
  #   export %s=$(openssl rand -hex 32)
  secret: %q
  issuer: %q
  # allow_insecure: true disables token verification (development only).
  allow_insecure: false

# Prometheus metrics, served on the API listener at /metrics.
metrics:
  enabled: false

# OpenTelemetry tracing (OTLP gRPC) and Pyroscope profiling.
# telemetry:
#   enabled: true
#   endpoint: localhost:4317
#   sample_rate: 1.0
#   profiling:
#     enabled: true
#     endpoint: http://localhost:4040

# Local status HTTP endpoint.
api:
  host: %q
  port: %d

# Periodic ledger/kernel reconciliation. 0 means startup only.
reconcile:
  interval: %s

shutdown_timeout: %s
`,
		cfg.Node.ID,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		string(cfg.Database.Type),
		cfg.Database.SQLite.Path,
		cfg.Broker.URL,
		cfg.Broker.QueuePrefix,
		cfg.Mount.FSType,
		cfg.Mount.PIDDir,
		cfg.Mount.TermWait,
		cfg.Lock.Dir,
		cfg.Lock.Timeout,
		EnvAuthSecret,
		secret,
		cfg.Auth.Issuer,
		cfg.API.Host,
		cfg.API.Port,
		cfg.Reconcile.Interval,
		cfg.ShutdownTimeout,
	)
}
