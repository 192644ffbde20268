package harness

// StageAbsent marks an op the node never stored.
const StageAbsent = "absent"

// TraceEvent is the final status of one op, named by the label of the
// commit that produced it. Hashes never appear, so traces stay readable and
// survive changes to key derivation.
type TraceEvent struct {
	Label      string `json:"label"`
	Agent      string `json:"agent"`
	Action     string `json:"action"`
	Op         string `json:"op"`
	Stage      string `json:"stage"`
	Validation string `json:"validation,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Receipts   int    `json:"receipts"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Trace lists every op of every commit, in authoring order and then
	// fan-out order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Metrics is the pipeline counter snapshot at the end of the run.
	Metrics map[string]int64 `json:"metrics,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the trace events of one commit.
func (r *Result) Events(label string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Label == label {
			out = append(out, ev)
		}
	}
	return out
}
