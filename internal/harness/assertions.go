package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Daironode/aingle-sub000/internal/authority"
	"github.com/Daironode/aingle-sub000/internal/ir"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // "op" or "view"
	Subject  string       // label, or kind and basis
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Events of the subject, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Expectation failed: %s %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", i+1, ev.Label, ev.Op, ev.status())
		}
	}
	return buf.String()
}

func (ev TraceEvent) status() string {
	if ev.Validation == "" {
		return ev.Stage
	}
	return ev.Stage + "(" + ev.Validation + ")"
}

// checkOps evaluates the op expectations against the trace.
func (h *Harness) checkOps(trace []TraceEvent) []string {
	var errs []string
	for _, e := range h.scenario.Expect {
		if err := checkOp(trace, e); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func checkOp(trace []TraceEvent, e OpExpectation) error {
	var events []TraceEvent
	for _, ev := range trace {
		if ev.Label == e.Label && (e.Op == "" || ev.Op == e.Op) {
			events = append(events, ev)
		}
	}
	subject := e.Label
	if e.Op != "" {
		subject += " " + e.Op
	}
	if len(events) == 0 {
		return &AssertionError{Type: "op", Subject: subject, Expected: "at least one op", Actual: "none produced"}
	}

	for _, ev := range events {
		fail := func(expected, actual string) error {
			return &AssertionError{
				Type:     "op",
				Subject:  e.Label + " " + ev.Op,
				Expected: expected,
				Actual:   actual,
				Trace:    events,
			}
		}
		if e.Stage != "" && ev.Stage != e.Stage {
			return fail("stage "+e.Stage, "stage "+ev.Stage)
		}
		if e.Validation != "" && ev.Validation != e.Validation {
			return fail("validation "+e.Validation, fmt.Sprintf("validation %q", ev.Validation))
		}
		if e.Reason != "" && !strings.Contains(ev.Reason, e.Reason) {
			return fail(fmt.Sprintf("reason containing %q", e.Reason), fmt.Sprintf("reason %q", ev.Reason))
		}
		if e.Receipts != nil && ev.Receipts != *e.Receipts {
			return fail(fmt.Sprintf("%d receipts", *e.Receipts), fmt.Sprintf("%d receipts", ev.Receipts))
		}
	}
	return nil
}

// checkViews runs the authority queries named by the scenario.
func (h *Harness) checkViews(ctx context.Context) ([]string, error) {
	var errs []string
	for _, v := range h.scenario.Views {
		failure, err := h.checkView(ctx, v)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			errs = append(errs, failure.Error())
		}
	}
	return errs, nil
}

// checkView returns a failure when the view differs from the expectation
// and an error when the query itself could not run.
func (h *Harness) checkView(ctx context.Context, v ViewExpectation) (failure, err error) {
	kind, err := authority.ParseKind(v.Kind)
	if err != nil {
		return nil, err
	}

	var basis ir.Hash
	switch kind {
	case authority.KindActivity:
		basis = h.signers[v.Basis].AgentKey().AsHash()
	case authority.KindEntry:
		basis = h.commits[v.Basis].commit.Action.Action.EntryHash
	case authority.KindLinks:
		basis = h.address(v.Basis)
	default:
		basis = h.commits[v.Basis].commit.Hash()
	}

	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     "view",
			Subject:  fmt.Sprintf("%s %s", kind, v.Basis),
			Expected: expected,
			Actual:   actual,
		}
	}

	view, err := h.authority.Query(ctx, authority.Request{Kind: kind, Basis: basis})
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", kind, v.Basis, err)
	}

	if v.Canonical != "" {
		want := h.commits[v.Canonical].commit.Hash()
		switch {
		case view.Canonical == nil:
			return fail("canonical "+v.Canonical, "no canonical record"), nil
		case view.Canonical.ActionHash != want:
			return fail("canonical "+v.Canonical, "canonical "+h.labelOf(view.Canonical.ActionHash)), nil
		}
	}
	if v.Updates != nil {
		if want, got := sortedLabels(v.Updates), h.memberLabels(view.Updates); !slices.Equal(want, got) {
			return fail(fmt.Sprintf("updates %v", want), fmt.Sprintf("updates %v", got)), nil
		}
	}
	if v.Deletes != nil {
		if want, got := sortedLabels(v.Deletes), h.memberLabels(view.Deletes); !slices.Equal(want, got) {
			return fail(fmt.Sprintf("deletes %v", want), fmt.Sprintf("deletes %v", got)), nil
		}
	}
	if v.Forked != view.Forked {
		return fail(fmt.Sprintf("forked %t", v.Forked), fmt.Sprintf("forked %t", view.Forked)), nil
	}
	if v.Links != nil {
		live, err := h.authority.LiveLinks(ctx, basis, authority.LinkFilter{})
		if err != nil {
			return nil, fmt.Errorf("live links %s: %w", v.Basis, err)
		}
		if len(live) != *v.Links {
			return fail(fmt.Sprintf("%d live links", *v.Links), fmt.Sprintf("%d live links", len(live))), nil
		}
	}
	return nil, nil
}

func (h *Harness) labelOf(action ir.Hash) string {
	for label, rec := range h.commits {
		if rec.commit.Hash() == action {
			return label
		}
	}
	return action.Short()
}

func (h *Harness) memberLabels(ms []authority.Member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, h.labelOf(m.ActionHash))
	}
	slices.Sort(out)
	return out
}

func sortedLabels(labels []string) []string {
	out := slices.Clone(labels)
	slices.Sort(out)
	return out
}
