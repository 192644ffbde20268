package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/crypto/blake2b"

	"github.com/Daironode/aingle-sub000/internal/authority"
	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/engine"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
	"github.com/Daironode/aingle-sub000/internal/store"
	"github.com/Daironode/aingle-sub000/internal/telemetry"
	"github.com/Daironode/aingle-sub000/internal/testutil"
)

// Harness runs one scenario against a fresh node.
//
// The node is a full pipeline over an in-memory store. Its network is a
// loopback: every authored commit is served back for fetches, publishes are
// recorded instead of sent, and receipts come back to the node as if it were
// every author, so the trace reports what the author side stored.
type Harness struct {
	scenario  *Scenario
	store     *store.Store
	pipeline  *engine.Pipeline
	network   *testutil.FakeNetwork
	app       *testutil.ScriptedApp
	authority *authority.Engine
	reader    *sdkmetric.ManualReader
	dna       ir.Hash

	signers   map[string]keys.Signer
	authors   map[string]*chain.Author
	commits   map[string]authored
	order     []string
	delivered map[string]bool
	scripted  map[int]bool
}

type authored struct {
	label  string
	agent  string
	commit chain.Commit
}

type runConfig struct {
	logger *slog.Logger
}

// RunOption configures Run.
type RunOption func(*runConfig)

// WithLogger sends pipeline logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario and returns the trace and any failed
// expectations. An error means the scenario could not be executed at all.
//
// Execution flow:
//  1. Open a fresh in-memory store and pipeline
//  2. Run the steps in order
//  3. Drain the pipeline and loop sent receipts back
//  4. Build the trace and check expectations
func Run(ctx context.Context, scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(&cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := telemetry.New(provider.Meter("harness"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	validator, err := deriveSigner("node", scenario.Name)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario:  scenario,
		store:     st,
		network:   testutil.NewFakeNetwork(),
		app:       testutil.NewScriptedApp(),
		authority: authority.New(st),
		reader:    reader,
		dna:       ir.Entry{Kind: ir.EntryApp, Content: []byte(scenario.DNA)}.Hash(),
		signers:   make(map[string]keys.Signer),
		authors:   make(map[string]*chain.Author),
		commits:   make(map[string]authored),
		delivered: make(map[string]bool),
		scripted:  make(map[int]bool),
	}

	fetch := true
	if scenario.Node.FetchMissing != nil {
		fetch = *scenario.Node.FetchMissing
	}
	h.pipeline = engine.New(engine.Config{
		Store:   st,
		Network: h.network,
		App:     h.app,
		Signer:  validator,
		Options: engine.Options{
			MaxEntryBytes: scenario.Node.MaxEntryBytes,
			MaxTagBytes:   scenario.Node.MaxTagBytes,
			FetchMissing:  fetch,
			Logger:        cfg.logger.With("scenario", scenario.Name),
			Metrics:       metrics,
			Clock:         testutil.NewDeterministicClock(),
			RunIDs:        testutil.NewRunIDs(scenario.Name),
		},
	})

	for _, name := range scenario.Agents {
		s, err := deriveSigner("agent", name)
		if err != nil {
			return nil, err
		}
		h.signers[name] = s
		h.authors[name] = chain.NewAuthor(s, h.dna)
	}

	for i, step := range scenario.Steps {
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := h.pipeline.Drain(ctx); err != nil {
		return nil, fmt.Errorf("final drain: %w", err)
	}
	if err := h.returnReceipts(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	if result.Trace, err = h.trace(ctx); err != nil {
		return nil, err
	}
	if result.Metrics, err = telemetry.Snapshot(ctx, reader); err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	for _, msg := range h.checkOps(result.Trace) {
		result.AddError(msg)
	}
	msgs, err := h.checkViews(ctx)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		result.AddError(msg)
	}
	return result, nil
}

// deriveSigner gives every name a stable key, separated by role so an agent
// named like the node never shares its key.
func deriveSigner(role, name string) (keys.Signer, error) {
	seed := blake2b.Sum256([]byte(role + "\x00" + name))
	s, err := keys.FromSeed(seed[:])
	if err != nil {
		return nil, fmt.Errorf("derive %s key %q: %w", role, name, err)
	}
	return s, nil
}

func (h *Harness) step(ctx context.Context, s Step) error {
	switch {
	case s.Commit != nil:
		if err := h.commit(ctx, s.Commit); err != nil {
			return err
		}
		h.installApp()
		return nil
	case len(s.Deliver) > 0:
		return h.deliver(ctx, s.Deliver)
	case s.Drain:
		return h.pipeline.Drain(ctx)
	case s.Reject != nil:
		return h.pipeline.Integrator().RejectAction(ctx, h.commits[s.Reject.Label].commit.Hash(), s.Reject.Reason)
	case s.Reinstate != "":
		return h.pipeline.Integrator().ReinstateAction(ctx, h.commits[s.Reinstate].commit.Hash())
	}
	return nil
}

func (h *Harness) commit(ctx context.Context, c *CommitStep) error {
	author := h.authors[c.Agent]
	head, hadHead := author.Head()

	var (
		commit chain.Commit
		err    error
	)
	switch c.Action {
	case CommitGenesis:
		commit, err = author.Genesis()
	case CommitCreate:
		vis := ir.Public
		if c.Private {
			vis = ir.Private
		}
		commit, err = author.Create(chain.AppEntry(0, 0, vis), appEntry(c.Entry))
	case CommitUpdate:
		commit, err = author.Update(h.commits[c.Of].commit, appEntry(c.Entry))
	case CommitDelete:
		commit, err = author.Delete(h.commits[c.Of].commit)
	case CommitCreateLink:
		commit, err = author.CreateLink(h.address(c.Base), h.address(c.Target), 0, 0, []byte(c.Tag))
	case CommitDeleteLink:
		commit, err = author.DeleteLink(h.commits[c.Of].commit)
	case CommitClose:
		commit, err = author.Append(ir.Action{Type: ir.ActionChainClose}, nil)
	default:
		err = fmt.Errorf("unknown action %q", c.Action)
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", c.Label, err)
	}

	if t := c.Tamper; t != nil {
		body := commit.Action.Action
		if t.Seq != nil {
			body.Seq = *t.Seq
		}
		if t.Timestamp != nil {
			body.Timestamp = ir.Timestamp(*t.Timestamp)
		}
		if t.Prev != "" {
			body.PrevAction = h.commits[t.Prev].commit.Hash()
		}
		if commit, err = author.Sign(body, commit.Entry); err != nil {
			return fmt.Errorf("tamper %s: %w", c.Label, err)
		}
		signer := h.signers[c.Agent]
		if hadHead {
			h.authors[c.Agent] = chain.Resume(signer, h.dna, head)
		} else {
			h.authors[c.Agent] = chain.NewAuthor(signer, h.dna)
		}
	}

	if !c.Withhold {
		h.network.Serve(commit.Ops()...)
	}
	h.commits[c.Label] = authored{label: c.Label, agent: c.Agent, commit: commit}
	h.order = append(h.order, c.Label)

	if c.Local {
		if _, err := h.pipeline.Ingestor().IngestAuthored(ctx, commit.Action, commit.Entry); err != nil {
			return fmt.Errorf("author %s: %w", c.Label, err)
		}
		h.delivered[c.Label] = true
	}
	return nil
}

func appEntry(content string) ir.Entry {
	return ir.Entry{Kind: ir.EntryApp, Content: []byte(content)}
}

// address is what a link made to the labelled commit points at: its entry
// when it has one, otherwise the action itself.
func (h *Harness) address(label string) ir.Hash {
	a := h.commits[label].commit.Action
	if !a.Action.EntryHash.IsZero() {
		return a.Action.EntryHash
	}
	return a.Hash()
}

// deliver hands the ops of each labelled commit to the node as if they had
// arrived from their author.
func (h *Harness) deliver(ctx context.Context, labels []string) error {
	var expanded []string
	for _, l := range labels {
		if l != DeliverRest {
			expanded = append(expanded, l)
			continue
		}
		for _, o := range h.order {
			if !h.delivered[o] && !slices.Contains(labels, o) {
				expanded = append(expanded, o)
			}
		}
	}

	for _, l := range expanded {
		rec := h.commits[l]
		var in []engine.IncomingOp
		for _, op := range rec.commit.Ops() {
			in = append(in, engine.IncomingOp{
				Hash:   op.Hash(),
				Op:     op,
				From:   rec.commit.Action.Action.Author,
				Origin: engine.OriginNetwork,
			})
		}
		if _, err := h.pipeline.Ingestor().Ingest(ctx, in); err != nil {
			return fmt.Errorf("deliver %s: %w", l, err)
		}
		h.delivered[l] = true
	}
	return nil
}

// returnReceipts hands every receipt the node sent back to it on the author
// side.
func (h *Harness) returnReceipts(ctx context.Context) error {
	sent := h.network.Receipts()
	rs := make([]ir.SignedReceipt, len(sent))
	for i, s := range sent {
		rs[i] = s.Receipt
	}
	if _, err := h.pipeline.ReceiptSender().ReceiveReceipts(ctx, rs); err != nil {
		return fmt.Errorf("return receipts: %w", err)
	}
	return nil
}

// installApp scripts every app rule whose labels are all committed.
func (h *Harness) installApp() {
	for i, rule := range h.scenario.App {
		if h.scripted[i] {
			continue
		}
		target, ok := h.commits[rule.Label]
		if !ok {
			continue
		}
		outcomes, ready := h.outcomes(rule)
		if !ready {
			continue
		}
		h.app.Script(target.commit.Hash(), outcomes...)
		h.scripted[i] = true
	}
}

func (h *Harness) outcomes(rule AppRule) ([]engine.Outcome, bool) {
	out := make([]engine.Outcome, 0, len(rule.Verdicts))
	for _, v := range rule.Verdicts {
		switch v.Verdict {
		case "valid":
			out = append(out, engine.Valid())
		case "invalid":
			out = append(out, engine.Invalid(v.Reason))
		case "unresolved":
			var missing []ir.Hash
			for _, m := range v.Missing {
				rec, ok := h.commits[m]
				if !ok {
					return nil, false
				}
				missing = append(missing, rec.commit.Hash())
			}
			out = append(out, engine.Unresolved(missing...))
		}
	}
	return out, true
}

// trace reports the final status of every authored op.
func (h *Harness) trace(ctx context.Context) ([]TraceEvent, error) {
	out := []TraceEvent{}
	for _, label := range h.order {
		rec := h.commits[label]
		for _, op := range rec.commit.Ops() {
			ev := TraceEvent{
				Label:  label,
				Agent:  rec.agent,
				Action: string(op.Action.Action.Type),
				Op:     string(op.Type),
				Stage:  StageAbsent,
			}
			r, ok, err := h.store.LookupOp(ctx, op.Hash())
			if err != nil {
				return nil, fmt.Errorf("trace %s: %w", label, err)
			}
			if ok {
				ev.Stage = string(r.Status.Stage)
				ev.Validation = string(r.Status.Validation)
				ev.Reason = r.Status.Reason
			}
			if ev.Receipts, err = h.store.ReceiptCount(ctx, op.Hash()); err != nil {
				return nil, fmt.Errorf("trace %s: %w", label, err)
			}
			out = append(out, ev)
		}
	}
	return out, nil
}
