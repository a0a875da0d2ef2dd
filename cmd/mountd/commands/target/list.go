package target

import (
	"os"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/spf13/cobra"
)

var listOutput string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered backup targets",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|yaml|csv)")
}

type targetTable struct {
	targets []*models.BackupTarget
}

func (t *targetTable) Headers() []string {
	return []string{"NAME", "ID", "KIND", "EXPORT", "MOUNT PATH", "STATUS"}
}

func (t *targetTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.targets))
	for _, target := range t.targets {
		rows = append(rows, []string{
			target.Name,
			target.ID,
			string(target.Kind),
			target.Export,
			target.MountPath,
			string(target.Status),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	st, err := cmdutil.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	targets, err := st.ListTargets(cmd.Context())
	if err != nil {
		return err
	}

	return cmdutil.PrintOutput(os.Stdout, listOutput, targets,
		len(targets) == 0, "No targets registered. Run 'mountd target register' to add one.",
		&targetTable{targets: targets})
}
