// Package commands implements the CLI commands for mountd daemon management.
package commands

import (
	"os"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	configcmd "github.com/marmos91/mountd/cmd/mountd/commands/config"
	mountscmd "github.com/marmos91/mountd/cmd/mountd/commands/mounts"
	targetcmd "github.com/marmos91/mountd/cmd/mountd/commands/target"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	nodeID   string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mountd",
	Short: "mountd - Dynamic mount daemon for backup workloads",
	Long: `mountd mounts and unmounts backup targets on demand for backup jobs.

Jobs request mounts over a message queue; the daemon reference-counts
them in a shared ledger so concurrent jobs share one filesystem mount
and the last job out detaches it. Network filesystems are attached with
mount(8), object-storage targets through a user-space filesystem child
process that survives daemon restarts.

Use "mountd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.ConfigFile, _ = cmd.Flags().GetString("config")
		cmdutil.Flags.NodeID, _ = cmd.Flags().GetString("node-id")
		cmdutil.Flags.LogLevel, _ = cmd.Flags().GetString("log-level")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/mountd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "", "node identity override (default: node.id from config, or hostname)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (DEBUG|INFO|WARN|ERROR)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(systemdCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(targetcmd.Cmd)
	rootCmd.AddCommand(mountscmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
