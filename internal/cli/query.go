package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Daironode/aingle-sub000/internal/authority"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	NodeOptions
	Since     int64
	Until     int64
	Live      bool
	TagPrefix string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{NodeOptions: NodeOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "query <entry|record|links|activity> <basis>",
		Short: "Query the integrated index",
		Long: `Query what this node holds as an authority for a basis.

The basis is an entry hash, an action hash, a link base or an agent key,
depending on the kind. Only integrated ops are visible.

Example:
  aingle query record 5f1c...
  aingle query links 9ab2... --live --tag-prefix rev
  aingle query activity <agent-key> --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only actions at or after this timestamp (µs)")
	cmd.Flags().Int64Var(&opts.Until, "until", 0, "only actions before this timestamp (µs)")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "links: list live links instead of the raw view")
	cmd.Flags().StringVar(&opts.TagPrefix, "tag-prefix", "", "links: only live links whose tag has this prefix")

	return cmd
}

func runQuery(opts *QueryOptions, kindArg, basisArg string, cmd *cobra.Command) error {
	kind, err := authority.ParseKind(kindArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}
	basis := ir.Hash(basisArg)
	if !basis.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid basis %q: expected %d hex bytes", basisArg, ir.HashSize))
	}
	if opts.Live && kind != authority.KindLinks {
		return NewExitError(ExitCommandError, "--live only applies to links")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	out := newFormatter(cmd, opts.RootOptions)
	out.VerboseLog("querying %s %s in %s", kind, basis.Short(), cfg.Database)
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng := authority.New(st)

	if opts.Live {
		links, err := eng.LiveLinks(cmd.Context(), basis, authority.LinkFilter{TagPrefix: []byte(opts.TagPrefix)})
		if err != nil {
			return WrapExitError(ExitCommandError, "query failed", err)
		}
		lines := []string{fmt.Sprintf("Live links on %s: %d", basis.Short(), len(links))}
		for _, l := range links {
			lines = append(lines, fmt.Sprintf("  %s -> %s tag=%q", l.CreateHash.Short(), l.Target.Short(), l.Tag))
		}
		return out.Success(links, lines...)
	}

	view, err := eng.Query(cmd.Context(), authority.Request{
		Kind:   kind,
		Basis:  basis,
		Window: store.Window{Start: ir.Timestamp(opts.Since), End: ir.Timestamp(opts.Until)},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "query failed", err)
	}
	return out.Success(view, viewLines(view)...)
}

func viewLines(v authority.View) []string {
	lines := []string{fmt.Sprintf("%s %s", v.Kind, v.Basis.Short())}
	if v.Canonical != nil {
		lines = append(lines, fmt.Sprintf("  canonical: %s by %s at %d",
			v.Canonical.ActionHash.Short(), v.Canonical.Author.AsHash().Short(), v.Canonical.Timestamp))
	}
	if v.Entry != nil {
		lines = append(lines, fmt.Sprintf("  entry: %d bytes", v.Entry.Size()))
	}
	section := func(name string, ms []authority.Member) {
		if len(ms) == 0 {
			return
		}
		lines = append(lines, fmt.Sprintf("  %s: %d", name, len(ms)))
		for _, m := range ms {
			lines = append(lines, fmt.Sprintf("    %s %s seq=%d %s", m.ActionHash.Short(), m.Type, m.Seq, m.Validation))
		}
	}
	section("updates", v.Updates)
	section("deletes", v.Deletes)
	section("creates", v.Creates)
	section("valid", v.Valid)
	section("rejected", v.Rejected)
	if v.HighestSeq != nil {
		lines = append(lines, fmt.Sprintf("  highest seq: %d", *v.HighestSeq))
	}
	if v.Forked {
		lines = append(lines, "  forked")
	}
	return lines
}
