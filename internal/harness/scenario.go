package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/Daironode/aingle-sub000/internal/authority"
)

// Scenario drives one validating node through a scripted history.
// Agents author chains, steps deliver their ops to the node, and
// expectations check where every op ended up.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DNA names the app. Genesis actions carry the hash of the name.
	// Defaults to "dna".
	DNA string `yaml:"dna,omitempty"`

	// Agents lists the authoring agents. Keys derive from the names, so a
	// scenario always produces the same hashes.
	Agents []string `yaml:"agents"`

	// Node configures the validating node.
	Node NodeOptions `yaml:"node,omitempty"`

	// App scripts application validation per label.
	App []AppRule `yaml:"app,omitempty"`

	// Steps run in order. The node is drained once more after the last.
	Steps []Step `yaml:"steps"`

	// Expect checks op status after the run.
	Expect []OpExpectation `yaml:"expect,omitempty"`

	// Views checks authority queries after the run.
	Views []ViewExpectation `yaml:"views,omitempty"`
}

// NodeOptions are the pipeline settings a scenario can change.
type NodeOptions struct {
	FetchMissing  *bool `yaml:"fetch_missing,omitempty"`
	MaxEntryBytes int   `yaml:"max_entry_bytes,omitempty"`
	MaxTagBytes   int   `yaml:"max_tag_bytes,omitempty"`
}

// Step is exactly one of: a commit, a delivery, a drain, a rejection or a
// reinstatement.
type Step struct {
	Commit    *CommitStep `yaml:"commit,omitempty"`
	Deliver   []string    `yaml:"deliver,omitempty"`
	Drain     bool        `yaml:"drain,omitempty"`
	Reject    *RejectStep `yaml:"reject,omitempty"`
	Reinstate string      `yaml:"reinstate,omitempty"`
}

// CommitStep appends one action to an agent's chain. The commit's ops are
// served on the loopback network unless Withhold is set, so the node can
// fetch them when they are missing.
type CommitStep struct {
	Agent  string `yaml:"agent"`
	Action string `yaml:"action"`
	Label  string `yaml:"label"`

	// Entry content for create and update.
	Entry   string `yaml:"entry,omitempty"`
	Private bool   `yaml:"private,omitempty"`

	// Of names the commit an update, delete or delete_link refers to.
	Of string `yaml:"of,omitempty"`

	// Base and Target name the commits a link connects.
	Base   string `yaml:"base,omitempty"`
	Target string `yaml:"target,omitempty"`
	Tag    string `yaml:"tag,omitempty"`

	Withhold bool    `yaml:"withhold,omitempty"`
	Tamper   *Tamper `yaml:"tamper,omitempty"`

	// Local commits are authored on the node itself: their ops are
	// admitted right away through the author path and published, and owe
	// no receipt.
	Local bool `yaml:"local,omitempty"`
}

// Tamper re-signs a commit with a broken header. A tampered commit does not
// become the chain head, so the agent's next commit follows the honest one.
type Tamper struct {
	Seq       *int64 `yaml:"seq,omitempty"`
	Timestamp *int64 `yaml:"timestamp,omitempty"`
	Prev      string `yaml:"prev,omitempty"`
}

// RejectStep explicitly rejects a committed action.
type RejectStep struct {
	Label  string `yaml:"label"`
	Reason string `yaml:"reason"`
}

// AppRule queues application verdicts for every op of a labelled commit.
// Each validation call consumes one verdict and the last one repeats.
type AppRule struct {
	Label    string       `yaml:"label"`
	Verdicts []AppVerdict `yaml:"verdicts"`
}

// AppVerdict is one scripted outcome: valid, invalid or unresolved.
type AppVerdict struct {
	Verdict string `yaml:"verdict"`
	Reason  string `yaml:"reason,omitempty"`

	// Missing names the commits an unresolved verdict waits for.
	Missing []string `yaml:"missing,omitempty"`
}

// OpExpectation checks the ops of one commit. An empty Op matches every op
// of the commit; empty Stage, Validation or Reason are not checked.
type OpExpectation struct {
	Label      string `yaml:"label"`
	Op         string `yaml:"op,omitempty"`
	Stage      string `yaml:"stage,omitempty"`
	Validation string `yaml:"validation,omitempty"`
	Reason     string `yaml:"reason,omitempty"`
	Receipts   *int   `yaml:"receipts,omitempty"`
}

// ViewExpectation checks one authority query. Basis is a label, or an
// agent name for the activity kind.
type ViewExpectation struct {
	Kind      string   `yaml:"kind"`
	Basis     string   `yaml:"basis"`
	Canonical string   `yaml:"canonical,omitempty"`
	Updates   []string `yaml:"updates,omitempty"`
	Deletes   []string `yaml:"deletes,omitempty"`
	Links     *int     `yaml:"links,omitempty"`
	Forked    bool     `yaml:"forked,omitempty"`
}

// Commit action names.
const (
	CommitGenesis    = "genesis"
	CommitCreate     = "create"
	CommitUpdate     = "update"
	CommitDelete     = "delete"
	CommitCreateLink = "create_link"
	CommitDeleteLink = "delete_link"
	CommitClose      = "close"
)

var commitActions = []string{
	CommitGenesis, CommitCreate, CommitUpdate, CommitDelete,
	CommitCreateLink, CommitDeleteLink, CommitClose,
}

// Deliver entry that stands for every commit not delivered yet.
const DeliverRest = "*"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or references unknown labels.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.DNA == "" {
		scenario.DNA = "dna"
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every label reference
// points at an earlier commit.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Agents) == 0 {
		return fmt.Errorf("agents list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	agents := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if agents[a] {
			return fmt.Errorf("agent %q listed twice", a)
		}
		agents[a] = true
	}

	labels := make(map[string]bool)
	known := func(where, label string) error {
		if !labels[label] {
			return fmt.Errorf("%s: unknown label %q", where, label)
		}
		return nil
	}

	for i, step := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		if n := step.kinds(); n != 1 {
			return fmt.Errorf("%s: exactly one of commit, deliver, drain, reject, reinstate is required (got %d)", where, n)
		}
		switch {
		case step.Commit != nil:
			c := step.Commit
			if !agents[c.Agent] {
				return fmt.Errorf("%s: unknown agent %q", where, c.Agent)
			}
			if !slices.Contains(commitActions, c.Action) {
				return fmt.Errorf("%s: unknown action %q", where, c.Action)
			}
			if c.Label == "" {
				return fmt.Errorf("%s: label is required", where)
			}
			if labels[c.Label] {
				return fmt.Errorf("%s: label %q used twice", where, c.Label)
			}
			var refs []string
			switch c.Action {
			case CommitUpdate, CommitDelete, CommitDeleteLink:
				if c.Of == "" {
					return fmt.Errorf("%s: %s requires of", where, c.Action)
				}
				refs = append(refs, c.Of)
			case CommitCreateLink:
				if c.Base == "" || c.Target == "" {
					return fmt.Errorf("%s: create_link requires base and target", where)
				}
				refs = append(refs, c.Base, c.Target)
			}
			if c.Local && c.Tamper != nil {
				return fmt.Errorf("%s: a local commit cannot be tampered", where)
			}
			if c.Tamper != nil && c.Tamper.Prev != "" {
				refs = append(refs, c.Tamper.Prev)
			}
			for _, r := range refs {
				if err := known(where, r); err != nil {
					return err
				}
			}
			labels[c.Label] = true
		case len(step.Deliver) > 0:
			for _, l := range step.Deliver {
				if l == DeliverRest {
					continue
				}
				if err := known(where, l); err != nil {
					return err
				}
			}
		case step.Reject != nil:
			if err := known(where, step.Reject.Label); err != nil {
				return err
			}
		case step.Reinstate != "":
			if err := known(where, step.Reinstate); err != nil {
				return err
			}
		}
	}

	for i, r := range s.App {
		where := fmt.Sprintf("app[%d]", i)
		if err := known(where, r.Label); err != nil {
			return err
		}
		if len(r.Verdicts) == 0 {
			return fmt.Errorf("%s: verdicts list is required", where)
		}
		for _, v := range r.Verdicts {
			switch v.Verdict {
			case "valid", "invalid":
			case "unresolved":
				if len(v.Missing) == 0 {
					return fmt.Errorf("%s: unresolved verdict requires missing", where)
				}
				for _, m := range v.Missing {
					if err := known(where, m); err != nil {
						return err
					}
				}
			default:
				return fmt.Errorf("%s: unknown verdict %q", where, v.Verdict)
			}
		}
	}

	for i, e := range s.Expect {
		if err := known(fmt.Sprintf("expect[%d]", i), e.Label); err != nil {
			return err
		}
	}

	for i, v := range s.Views {
		where := fmt.Sprintf("views[%d]", i)
		kind, err := authority.ParseKind(v.Kind)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if kind == authority.KindActivity {
			if !agents[v.Basis] {
				return fmt.Errorf("%s: unknown agent %q", where, v.Basis)
			}
		} else if err := known(where, v.Basis); err != nil {
			return err
		}
		refs := append(append([]string{}, v.Updates...), v.Deletes...)
		if v.Canonical != "" {
			refs = append(refs, v.Canonical)
		}
		for _, r := range refs {
			if err := known(where, r); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s Step) kinds() int {
	n := 0
	for _, set := range []bool{
		s.Commit != nil, len(s.Deliver) > 0, s.Drain, s.Reject != nil, s.Reinstate != "",
	} {
		if set {
			n++
		}
	}
	return n
}
