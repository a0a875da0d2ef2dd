package mounts

import (
	"fmt"
	"os"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/pkg/daemon"
	"github.com/marmos91/mountd/pkg/procs"
	"github.com/spf13/cobra"
)

var detectStaleOutput string

var detectStaleCmd = &cobra.Command{
	Use:   "detect-stale",
	Short: "Probe this node's mounts for stale filesystem handles",
	Long: `Probe every target this node has ledger entries for.

A mount is stale when it still appears in the kernel mount table but no
longer answers a bounded stat probe, typically after the far end of an
NFS export went away. Stale mounts are cleaned by the daemon's
reconciler; this command only reports them.`,
	RunE: runDetectStale,
}

func init() {
	detectStaleCmd.Flags().StringVarP(&detectStaleOutput, "output", "o", "table", "Output format (table|json|yaml|csv)")
}

// staleRow is one probed target.
type staleRow struct {
	TargetID   string `json:"target_id" yaml:"target_id"`
	Name       string `json:"name" yaml:"name"`
	MountPath  string `json:"mount_path" yaml:"mount_path"`
	Mounted    bool   `json:"mounted" yaml:"mounted"`
	Accessible bool   `json:"accessible" yaml:"accessible"`
	Stale      bool   `json:"stale" yaml:"stale"`
}

type staleTable struct {
	rows []staleRow
}

func (t *staleTable) Headers() []string {
	return []string{"TARGET", "NAME", "MOUNT PATH", "MOUNTED", "ACCESSIBLE", "STALE"}
}

func (t *staleTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.rows))
	for _, r := range t.rows {
		rows = append(rows, []string{
			r.TargetID,
			cmdutil.EmptyOr(r.Name, "-"),
			r.MountPath,
			cmdutil.BoolToYesNo(r.Mounted),
			cmdutil.BoolToYesNo(r.Accessible),
			cmdutil.BoolToYesNo(r.Stale),
		})
	}
	return rows
}

func runDetectStale(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	st, err := cmdutil.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	registry, err := procs.NewRegistry(cfg.Mount.PIDDir)
	if err != nil {
		return fmt.Errorf("failed to open process registry: %w", err)
	}
	drivers := daemon.BuildDrivers(&cfg.Mount, registry)

	ctx := cmd.Context()
	targetIDs, err := st.DistinctTargetsForNode(ctx, cfg.Node.ID)
	if err != nil {
		return err
	}

	rows := make([]staleRow, 0, len(targetIDs))
	staleCount := 0
	for _, id := range targetIDs {
		target, err := st.GetTargetIncludingDeleted(ctx, id)
		if err != nil {
			return err
		}
		driver, err := drivers.ForTarget(target)
		if err != nil {
			// Unmountable kind (e.g. userfs with no binary configured);
			// nothing to probe.
			continue
		}
		status, err := driver.IsMounted(ctx, target.MountPath)
		if err != nil {
			return fmt.Errorf("failed to probe %s: %w", target.MountPath, err)
		}
		if status.Stale() {
			staleCount++
		}
		rows = append(rows, staleRow{
			TargetID:   target.ID,
			Name:       target.Name,
			MountPath:  target.MountPath,
			Mounted:    status.Mounted,
			Accessible: status.Accessible,
			Stale:      status.Stale(),
		})
	}

	if err := cmdutil.PrintOutput(os.Stdout, detectStaleOutput, rows,
		len(rows) == 0, "No targets with ledger entries on this node.",
		&staleTable{rows: rows}); err != nil {
		return err
	}

	if detectStaleOutput == "table" && len(rows) > 0 {
		if staleCount == 0 {
			fmt.Println("\nNo stale mounts detected.")
		} else {
			fmt.Printf("\n%d stale mount(s) detected. Run 'mountd reconcile' to clean them up.\n", staleCount)
		}
	}
	return nil
}
