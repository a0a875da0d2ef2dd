package target

import (
	"errors"
	"os"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/marmos91/mountd/internal/cli/timeutil"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Show one backup target in detail",
	Long: `Show every registered field of a backup target.

Accepts the target's ID or its name. Soft-deleted targets still resolve
when addressed by ID, so the deletion timestamp of a retired target
stays inspectable.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runShow(cmd *cobra.Command, args []string) error {
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
	if errors.Is(err, models.ErrTargetNotFound) {
		// Deleted targets keep their row; an explicit ID still finds it.
		target, err = st.GetTargetIncludingDeleted(ctx, args[0])
	}
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, target)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, target)
	}

	pairs := [][2]string{
		{"ID", target.ID},
		{"Name", target.Name},
		{"Kind", string(target.Kind)},
		{"Export", target.Export},
		{"Mount path", target.MountPath},
		{"Status", string(target.Status)},
	}
	switch target.Kind {
	case models.TargetKindNetFS:
		pairs = append(pairs, [2]string{"Mount options", target.EffectiveMountOptions()})
	case models.TargetKindUserFS:
		pairs = append(pairs, [2]string{"Credential ref", cmdutil.EmptyOr(target.CredentialRef, "-")})
	}
	pairs = append(pairs,
		[2]string{"Created", timeutil.Local(target.CreatedAt)},
		[2]string{"Updated", timeutil.Local(target.UpdatedAt)},
	)
	if target.Deleted && target.DeletedAt != nil {
		pairs = append(pairs, [2]string{"Deleted", timeutil.Local(*target.DeletedAt)})
	}

	return output.SimpleTable(os.Stdout, pairs)
}
