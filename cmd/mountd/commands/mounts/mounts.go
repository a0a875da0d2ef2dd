// Package mounts implements the mounts command group: inspecting this
// node's ledger entries, exercising the mount path end to end, and the
// manual escape hatches (force-unmount, stale detection, entry cleanup).
package mounts

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for mount ledger operations.
var Cmd = &cobra.Command{
	Use:   "mounts",
	Short: "Inspect and manage this node's mounts",
	Long: `Inspect and manage the mount ledger entries for this node.

Entries are claims: one row per (job, target) pair that requested a
mount here. The daemon mounts a target when its first claim arrives and
unmounts it when the last one is released. These commands read the same
shared ledger the daemon writes, so they show claims even while the
daemon is stopped.`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(testMountCmd)
	Cmd.AddCommand(detectStaleCmd)
	Cmd.AddCommand(forceUnmountCmd)
	Cmd.AddCommand(cleanupCmd)
}
