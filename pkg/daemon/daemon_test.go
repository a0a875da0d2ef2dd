//go:build integration

package daemon

import (
	"strings"
	"testing"

	"github.com/marmos91/mountd/pkg/config"
	"github.com/marmos91/mountd/pkg/store"
)

// testConfig returns a configuration that builds a daemon without touching
// the network: in-memory database, temp directories, insecure auth.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.EnvAuthSecret, "")

	cfg := config.GetDefaultConfig()
	cfg.Node.ID = "node-test"
	cfg.Database = store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	}
	cfg.Mount.PIDDir = t.TempDir()
	cfg.Lock.Dir = t.TempDir()
	cfg.Auth.AllowInsecure = true
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewBuildsDaemon(t *testing.T) {
	d, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.store.Close()

	if got, want := d.Queue(), "dms.ops.node-test"; got != want {
		t.Errorf("Queue() = %q, want %q", got, want)
	}
	if d.status == nil {
		t.Error("expected the status server to be enabled by default")
	}
	if d.reconciler == nil || d.dispatcher == nil || d.registry == nil {
		t.Error("expected all components to be assembled")
	}
}

func TestNewRequiresNodeID(t *testing.T) {
	cfg := testConfig(t)
	cfg.Node.ID = ""

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("expected an error for a missing node id")
	}
}

func TestNewRequiresAuthSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.AllowInsecure = false
	cfg.Auth.Secret = ""

	_, err := New(cfg, "test")
	if err == nil {
		t.Fatal("expected an error when no secret is configured")
	}
	if !strings.Contains(err.Error(), "auth") {
		t.Errorf("error should mention auth configuration, got: %v", err)
	}
}

func TestNewWithJWTSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.AllowInsecure = false
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"

	d, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.store.Close()
}

func TestNewRejectsShortSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.AllowInsecure = false
	cfg.Auth.Secret = "too-short"

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("expected an error for a short signing secret")
	}
}

func TestNewStatusServerDisabled(t *testing.T) {
	cfg := testConfig(t)
	disabled := false
	cfg.API.Enabled = &disabled

	d, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.store.Close()

	if d.status != nil {
		t.Error("expected no status server when the endpoint is disabled")
	}
}

func TestNewRejectsBadBrokerURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.URL = "http://not-a-broker:5672/"

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("expected an error for a non-AMQP broker URL")
	}
}
