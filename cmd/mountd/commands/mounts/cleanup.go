package mounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/prompt"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/spf13/cobra"
)

var (
	cleanupYes        bool
	cleanupPurgeAfter time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Release ledger entries left behind by finished jobs",
	Long: `Release this node's ledger entries whose job is gone.

An entry is orphaned when its job reached a terminal status (succeeded,
failed, canceled) or no longer exists, usually because the job crashed
before sending its unmount. Orphaned entries are soft-deleted, the same
release the daemon performs on an unmount request.

With --purge-after, soft-deleted entries older than the given age are
also removed from the database entirely.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Skip the confirmation prompt")
	cleanupCmd.Flags().DurationVar(&cleanupPurgeAfter, "purge-after", 0, "Also purge entries released longer than this ago (e.g. 720h)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
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
	entries, err := st.ListEntriesForNode(ctx, cfg.Node.ID, false)
	if err != nil {
		return err
	}

	var orphaned []*models.MountLedgerEntry
	for _, entry := range entries {
		job, err := st.GetJob(ctx, entry.JobID)
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			orphaned = append(orphaned, entry)
		case err != nil:
			return err
		case !job.Active():
			orphaned = append(orphaned, entry)
		}
	}

	if len(orphaned) == 0 {
		fmt.Println("No orphaned ledger entries.")
	} else {
		fmt.Printf("Found %d orphaned entries:\n", len(orphaned))
		for _, entry := range orphaned {
			fmt.Printf("  job %d -> target %s\n", entry.JobID, entry.TargetID)
		}

		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Release %d entries?", len(orphaned)), cleanupYes)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}

		for _, entry := range orphaned {
			if err := st.SoftDeleteEntry(ctx, entry.ID); err != nil {
				return fmt.Errorf("failed to release entry for job %d: %w", entry.JobID, err)
			}
		}
		fmt.Printf("Released %d entries.\n", len(orphaned))
		fmt.Println("Run 'mountd reconcile' to unmount targets left without active jobs.")
	}

	if cleanupPurgeAfter > 0 {
		purged, err := st.PurgeDeletedEntries(ctx, time.Now().Add(-cleanupPurgeAfter))
		if err != nil {
			return fmt.Errorf("failed to purge released entries: %w", err)
		}
		fmt.Printf("Purged %d released entries older than %s.\n", purged, cleanupPurgeAfter)
	}

	return nil
}
