// Package target implements the target command group: registering,
// inspecting, validating and retiring the backup targets the daemon
// mounts on request.
package target

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for backup target administration.
var Cmd = &cobra.Command{
	Use:   "target",
	Short: "Manage backup targets",
	Long: `Manage the backup targets jobs can ask this daemon to mount.

A target is either a network filesystem export (mounted with mount(8))
or an object-storage bucket exposed through a user-space filesystem
child process. Targets live in the shared ledger database, so a target
registered here is visible to every node sharing that database.`,
}

func init() {
	Cmd.AddCommand(registerCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(validateCmd)
}
