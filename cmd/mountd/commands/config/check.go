package config

import (
	"fmt"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/pkg/broker"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration file",
	Long: `Load and validate the mountd configuration.

Checks syntax, required fields, value ranges, and path requirements the
same way the daemon does at startup. Exits non-zero when the configuration
would prevent the daemon from starting.

Examples:
  # Check default config
  mountd config check

  # Check specific file
  mountd config check --config /etc/mountd/config.yaml`,
	RunE: runConfigCheck,
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.MustLoadConfig()
	if err != nil {
		return err
	}

	brokerURL, err := broker.NormalizeURL(cfg.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url: %w", err)
	}

	fmt.Println("Configuration OK")
	fmt.Printf("  Node:     %s\n", cfg.Node.ID)
	fmt.Printf("  Database: %s\n", cfg.Database.Type)
	fmt.Printf("  Broker:   %s\n", broker.SafeURL(brokerURL))
	fmt.Printf("  Queue:    %s.%s\n", cfg.Broker.QueuePrefix, cfg.Node.ID)
	if cfg.Mount.UserFSBinary != "" {
		fmt.Printf("  User-fs:  %s\n", cfg.Mount.UserFSBinary)
	} else {
		fmt.Println("  User-fs:  not configured (object-storage targets rejected)")
	}
	if !cfg.Auth.HasSecret() {
		if cfg.Auth.AllowInsecure {
			fmt.Println("\nWarning: request token verification is disabled (auth.allow_insecure).")
		} else {
			fmt.Println("\nWarning: no auth secret configured; the daemon will refuse to start.")
		}
	}

	return nil
}
