package target

import (
	"fmt"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/internal/cli/prompt"
	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <id|name>",
	Short: "Retire a backup target",
	Long: `Soft-delete a backup target.

The row is kept so ledger history stays attributable, but new mount
requests against the target fail. Jobs that still hold claims keep
their mount until they release it; the warning below lists them.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
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
	target, err := st.ResolveTarget(ctx, args[0])
	if err != nil {
		return err
	}

	claims, err := st.ActiveClaimCount(ctx, target.ID)
	if err != nil {
		return err
	}
	if claims > 0 {
		output.DefaultPrinter().Warning(fmt.Sprintf(
			"Warning: %d ledger entries still claim '%s'; their jobs keep the mount until they release it",
			claims, target.Name))
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete target '%s'?", target.Name), deleteYes)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !ok {
		fmt.Println("Aborted.")
		return nil
	}

	if err := st.DeleteTarget(ctx, target.ID); err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}

	output.DefaultPrinter().Success(fmt.Sprintf("Target '%s' deleted", target.Name))
	return nil
}
