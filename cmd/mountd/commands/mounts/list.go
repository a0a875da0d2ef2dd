package mounts

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/timeutil"
	"github.com/marmos91/mountd/pkg/models"
	"github.com/marmos91/mountd/pkg/store"
	"github.com/spf13/cobra"
)

var (
	listOutput string
	listAll    bool
	listNode   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List mount ledger entries for this node",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|yaml|csv)")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include released (soft-deleted) entries")
	listCmd.Flags().StringVar(&listNode, "node", "", "List entries for another node (default: this node)")
}

// ledgerRow joins an entry with its target's name for display.
type ledgerRow struct {
	Entry      *models.MountLedgerEntry `json:"entry" yaml:"entry"`
	TargetName string                   `json:"target_name" yaml:"target_name"`
}

type ledgerTable struct {
	rows []ledgerRow
	all  bool
}

func (t *ledgerTable) Headers() []string {
	headers := []string{"JOB", "TARGET", "NAME", "MOUNTED", "CREATED"}
	if t.all {
		headers = append(headers, "RELEASED")
	}
	return headers
}

func (t *ledgerTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.rows))
	for _, r := range t.rows {
		row := []string{
			strconv.FormatUint(r.Entry.JobID, 10),
			r.Entry.TargetID,
			cmdutil.EmptyOr(r.TargetName, "-"),
			cmdutil.BoolToYesNo(r.Entry.Mounted),
			timeutil.Local(r.Entry.CreatedAt),
		}
		if t.all {
			released := "-"
			if r.Entry.Deleted && r.Entry.DeletedAt != nil {
				released = timeutil.Local(*r.Entry.DeletedAt)
			}
			row = append(row, released)
		}
		rows = append(rows, row)
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

	nodeID := listNode
	if nodeID == "" {
		nodeID = cfg.Node.ID
	}

	ctx := cmd.Context()
	entries, err := st.ListEntriesForNode(ctx, nodeID, listAll)
	if err != nil {
		return err
	}

	rows, err := joinTargetNames(ctx, st, entries)
	if err != nil {
		return err
	}

	return cmdutil.PrintOutput(os.Stdout, listOutput, rows,
		len(rows) == 0, "No ledger entries for node "+nodeID+".",
		&ledgerTable{rows: rows, all: listAll})
}

// joinTargetNames resolves target names once per distinct target. Deleted
// targets still resolve so released entries stay attributable; a purged
// target row leaves the name blank rather than failing the listing.
func joinTargetNames(ctx context.Context, st *store.Store, entries []*models.MountLedgerEntry) ([]ledgerRow, error) {
	names := make(map[string]string)
	rows := make([]ledgerRow, 0, len(entries))
	for _, entry := range entries {
		name, ok := names[entry.TargetID]
		if !ok {
			target, err := st.GetTargetIncludingDeleted(ctx, entry.TargetID)
			switch {
			case err == nil:
				name = target.Name
			case errors.Is(err, models.ErrTargetNotFound):
				name = ""
			default:
				return nil, err
			}
			names[entry.TargetID] = name
		}
		rows = append(rows, ledgerRow{Entry: entry, TargetName: name})
	}
	return rows, nil
}
