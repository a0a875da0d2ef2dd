package config

import (
	"os"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current mountd configuration.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  mountd config show

  # Show as JSON
  mountd config show --output json

  # Show specific config file
  mountd config show --config /etc/mountd/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.MustLoadConfig()
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
