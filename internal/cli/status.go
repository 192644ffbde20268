package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// StatusResult is the output of status.
type StatusResult struct {
	Database string             `json:"database"`
	Total    int                `json:"total"`
	Limbo    int                `json:"limbo"`
	Stages   map[string]int     `json:"stages"`
	Receipts store.ReceiptStats `json:"receipts"`
	Chains   []ChainStatus      `json:"chains"`
}

// ChainStatus is how far the node has seen one author's chain.
type ChainStatus struct {
	Author ir.AgentKey `json:"author"`
	// HeadSeq is the highest seq stored, validated or not.
	HeadSeq int64 `json:"head_seq"`
	// IntegratedSeq is the highest seq with live integrated activity.
	IntegratedSeq *int64 `json:"integrated_seq,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show op counts per stage",
		Long: `Show how many ops sit in each pipeline stage.

Integrated ops are split by verdict. Everything not yet integrated is
counted as limbo. Receipts received for our own ops are totalled, and for
every author the highest stored seq is shown next to the highest seq whose
activity is integrated.

Example:
  aingle status --db ./node.db
  aingle status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	opts.bind(cmd)
	return cmd
}

func runStatus(opts *NodeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	out := newFormatter(cmd, opts.RootOptions)
	out.VerboseLog("opening %s", cfg.Database)
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.StageCounts(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stage counts", err)
	}

	res := StatusResult{Database: cfg.Database, Stages: counts, Chains: []ChainStatus{}}
	for k, n := range counts {
		res.Total += n
		if !isIntegrated(k) {
			res.Limbo += n
		}
	}
	if res.Receipts, err = st.ReceiptStats(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipts", err)
	}
	if res.Chains, err = chainStatuses(cmd, st); err != nil {
		return WrapExitError(ExitCommandError, "failed to read chains", err)
	}

	lines := []string{
		fmt.Sprintf("Database: %s", res.Database),
		fmt.Sprintf("Ops: %d (%d in limbo)", res.Total, res.Limbo),
	}
	for _, k := range sortedKeys(counts) {
		lines = append(lines, fmt.Sprintf("  %-36s %d", k, counts[k]))
	}
	lines = append(lines, fmt.Sprintf("Receipts: %d on %d ops", res.Receipts.Receipts, res.Receipts.Ops))
	if len(res.Chains) > 0 {
		lines = append(lines, "Chains:")
	}
	for _, c := range res.Chains {
		integrated := "nothing integrated"
		if c.IntegratedSeq != nil {
			integrated = fmt.Sprintf("integrated through seq %d", *c.IntegratedSeq)
		}
		lines = append(lines, fmt.Sprintf("  %s  head seq %d, %s", c.Author.AsHash().Short(), c.HeadSeq, integrated))
	}
	return out.Success(res, lines...)
}

func chainStatuses(cmd *cobra.Command, st *store.Store) ([]ChainStatus, error) {
	ctx := cmd.Context()
	authors, err := st.Authors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ChainStatus, 0, len(authors))
	for _, a := range authors {
		head, _, err := st.ChainHead(ctx, a)
		if err != nil {
			return nil, err
		}
		c := ChainStatus{Author: a, HeadSeq: head.Action.Seq}
		seq, found, err := st.HighestObservedSeq(ctx, a)
		if err != nil {
			return nil, err
		}
		if found {
			c.IntegratedSeq = &seq
		}
		out = append(out, c)
	}
	return out, nil
}

func isIntegrated(status string) bool {
	for _, vs := range []ir.ValidationStatus{ir.StatusValid, ir.StatusRejected} {
		if status == (ir.OpStatus{Stage: ir.StageIntegrated, Validation: vs}).String() {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
