package mounts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/internal/cli/prompt"
	"github.com/marmos91/mountd/pkg/daemon"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/procs"
	"github.com/spf13/cobra"
)

var forceUnmountYes bool

var forceUnmountCmd = &cobra.Command{
	Use:   "force-unmount <path|id|name>",
	Short: "Unmount a target regardless of ledger state",
	Long: `Detach a target's filesystem without consulting the ledger.

This bypasses the refcount: jobs that still hold claims lose their mount
and fail on their next access. The ledger's mounted flags are cleared so
the daemon's view stays consistent; claims themselves are kept, and the
next mount request (or the reconciler) re-attaches the target for them.

Use when a mount wedged and the daemon cannot release it. Arguments
starting with '/' are treated as mount paths, anything else as a target
ID or name.`,
	Args: cobra.ExactArgs(1),
	RunE: runForceUnmount,
}

func init() {
	forceUnmountCmd.Flags().BoolVarP(&forceUnmountYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runForceUnmount(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	st, err := cmdutil.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()

	var target *models.BackupTarget
	if strings.HasPrefix(args[0], "/") {
		target, err = st.FindTargetByMountPath(ctx, args[0])
	} else {
		target, err = st.ResolveTarget(ctx, args[0])
	}
	if err != nil {
		return err
	}

	entries, err := st.ListEntriesForTarget(ctx, target.ID, cfg.Node.ID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = strconv.FormatUint(e.JobID, 10)
		}
		output.DefaultPrinter().Warning(
			fmt.Sprintf("Warning: jobs %s still claim '%s' on this node; they will lose the mount",
				strings.Join(ids, ", "), target.Name))
	}

	if !forceUnmountYes {
		ok, err := prompt.ConfirmDanger(
			fmt.Sprintf("Force-unmount %s", target.MountPath), target.Name)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	registry, err := procs.NewRegistry(cfg.Mount.PIDDir)
	if err != nil {
		return fmt.Errorf("failed to open process registry: %w", err)
	}
	driver, err := daemon.BuildDrivers(&cfg.Mount, registry).ForTarget(target)
	if err != nil {
		return err
	}

	// Same lock the daemon holds during mount transitions, so a force
	// unmount cannot race an in-flight operation.
	lock, err := oplock.New(cfg.Lock.Dir, cfg.Lock.Timeout)
	if err != nil {
		return err
	}
	release, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire node lock: %w", err)
	}
	defer release()

	if err := driver.Unmount(ctx, target); err != nil {
		return fmt.Errorf("unmount failed: %w", err)
	}

	cleared, err := st.SetMountedFlag(ctx, target.ID, cfg.Node.ID, false, true)
	if err != nil {
		return fmt.Errorf("unmounted, but failed to clear ledger flags: %w", err)
	}

	fmt.Printf("Force-unmounted %s (%d ledger entries cleared)\n", target.MountPath, cleared)
	if len(entries) > 0 {
		fmt.Println("Claims were kept; the next mount request re-attaches the target.")
	}
	return nil
}
