package commands

import (
	"fmt"

	"github.com/marmos91/mountd/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample mountd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/mountd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  mountd init

  # Initialize with custom path
  mountd init --config /etc/mountd/config.yaml

  # Force overwrite existing config
  mountd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file: set node.id, database, and broker")
	fmt.Println("  2. Register backup targets with: mountd target register")
	fmt.Println("  3. Start the daemon with: mountd start")
	fmt.Printf("  4. Or specify custom config: mountd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random request token secret has been generated for development use.")
	fmt.Println("  For production, generate a secure secret and use an environment variable:")
	fmt.Println("    # Generates a 64-character hex string (32 bytes of entropy)")
	fmt.Printf("    export %s=$(openssl rand -hex 32)\n", config.EnvAuthSecret)

	return nil
}
