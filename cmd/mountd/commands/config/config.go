// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage mountd configuration files.

Use 'mountd init' to create a new configuration file.

Subcommands:
  show    Display current configuration
  check   Validate configuration file
  export  Export configuration as json, yaml, or environment variables
  schema  Generate JSON schema for configuration`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(checkCmd)
	Cmd.AddCommand(exportCmd)
	Cmd.AddCommand(schemaCmd)
}
