package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/pkg/daemon"
	"github.com/marmos91/mountd/pkg/oplock"
	"github.com/marmos91/mountd/pkg/procs"
	"github.com/marmos91/mountd/pkg/service"
	"github.com/marmos91/mountd/pkg/store"
	"github.com/spf13/cobra"
)

var (
	reconcileOutput string
	reconcileFull   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Converge ledger and kernel mount state",
	Long: `Reconcile the mount ledger against the kernel mount table.

Targets with active jobs but a stale or missing mount get their mountpoint
cleaned up; targets that are mounted with no active jobs remaining are
unmounted. The same file lock the daemon uses serializes this command
against a running daemon, so it is safe to run either way.

Inconsistencies that cannot be healed without credentials (active jobs
waiting on a mount) are reported for the jobs to retry.

Examples:
  # Reconcile this node
  mountd reconcile

  # Inspect per-target state without changing anything
  mountd reconcile status

  # Machine-readable report
  mountd reconcile status -o json`,
	RunE: runReconcile,
}

var reconcileStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-target mount state",
	Long: `Display the per-target mount state for this node without changing anything.

For each target that appears in this node's ledger, shows the active job
count, whether the filesystem is attached, and whether the mountpoint is
stale. Inconsistencies between the ledger and the kernel are listed
separately.

Examples:
  # Show mount state as a table
  mountd reconcile status

  # Include user-fs child process details
  mountd reconcile status --full

  # Export as CSV
  mountd reconcile status -o csv`,
	RunE: runReconcileStatus,
}

func init() {
	reconcileStatusCmd.Flags().StringVarP(&reconcileOutput, "output", "o", "table", "Output format (table|json|yaml|csv)")
	reconcileStatusCmd.Flags().BoolVar(&reconcileFull, "full", false, "Include user-fs child process columns")
	reconcileCmd.AddCommand(reconcileStatusCmd)
}

// buildReconciler assembles an offline reconciler from configuration. The
// returned store must be closed by the caller.
func buildReconciler() (*service.Reconciler, *store.Store, error) {
	cfg, err := cmdutil.MustLoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := InitCLILogger(cfg); err != nil {
		return nil, nil, err
	}

	st, err := cmdutil.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	registry, err := procs.NewRegistry(cfg.Mount.PIDDir)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to open process registry: %w", err)
	}

	lock, err := oplock.New(cfg.Lock.Dir, cfg.Lock.Timeout)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to open operation lock: %w", err)
	}

	rec, err := service.NewReconciler(service.ReconcilerOptions{
		Store:        st,
		Drivers:      daemon.BuildDrivers(&cfg.Mount, registry),
		Lock:         lock,
		NodeID:       cfg.Node.ID,
		Registry:     registry,
		UserFSBinary: cfg.Mount.UserFSBinary,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	return rec, st, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rec, st, err := buildReconciler()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	if err := rec.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	report, err := rec.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	var mounted int
	var activeJobs int64
	for _, state := range report.Mounts {
		if state.IsMounted {
			mounted++
		}
		activeJobs += state.ActiveJobs
	}

	fmt.Println("Reconciliation complete.")
	fmt.Printf("  Node:            %s\n", report.NodeID)
	fmt.Printf("  Targets:         %d\n", len(report.Mounts))
	fmt.Printf("  Mounted:         %d\n", mounted)
	fmt.Printf("  Active jobs:     %d\n", activeJobs)
	fmt.Printf("  Inconsistencies: %d\n", len(report.Inconsistencies))

	if len(report.Inconsistencies) > 0 {
		fmt.Println()
		printInconsistencies(report.Inconsistencies)
		fmt.Println("\nActive jobs waiting on a mount recover when they retry their mount request.")
	}

	return nil
}

func runReconcileStatus(cmd *cobra.Command, args []string) error {
	rec, st, err := buildReconciler()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	report, err := rec.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	table := mountStateTable{states: report.Mounts, full: reconcileFull}
	if err := cmdutil.PrintOutput(os.Stdout, reconcileOutput, report, len(report.Mounts) == 0,
		"No targets in this node's ledger.", table); err != nil {
		return err
	}

	if reconcileOutput == "table" && len(report.Inconsistencies) > 0 {
		fmt.Println()
		printInconsistencies(report.Inconsistencies)
	}

	return nil
}

func printInconsistencies(items []service.Inconsistency) {
	fmt.Println("Inconsistencies:")
	for _, inc := range items {
		fmt.Printf("  %s  %s (%d active jobs, mounted=%s)\n",
			inc.TargetID, inc.Issue, inc.ActiveJobs, cmdutil.BoolToYesNo(inc.IsMounted))
	}
}

// mountStateTable renders reconciliation target states for table and CSV
// output.
type mountStateTable struct {
	states []service.TargetState
	full   bool
}

func (t mountStateTable) Headers() []string {
	headers := []string{"TARGET", "NAME", "KIND", "MOUNT PATH", "JOBS", "MOUNTED", "STALE"}
	if t.full {
		headers = append(headers, "PID", "ADOPTED")
	}
	return headers
}

func (t mountStateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.states))
	for _, s := range t.states {
		row := []string{
			s.TargetID,
			cmdutil.EmptyOr(s.Name, "-"),
			string(s.Kind),
			s.MountPath,
			strconv.FormatInt(s.ActiveJobs, 10),
			cmdutil.BoolToYesNo(s.IsMounted),
			cmdutil.BoolToYesNo(s.Stale),
		}
		if t.full {
			pid, adopted := "-", "-"
			if s.Process != nil {
				pid = strconv.Itoa(s.Process.PID)
				adopted = cmdutil.BoolToYesNo(s.Process.Adopted)
			}
			row = append(row, pid, adopted)
		}
		rows = append(rows, row)
	}
	return rows
}
