package ir

import (
	"encoding/hex"
)

// AgentKey is the hex-encoded ed25519 public key of a chain author.
type AgentKey string

// AsHash returns the key in basis form.
func (k AgentKey) AsHash() Hash { return Hash(k) }

// Bytes decodes the key. Returns nil if the key is not valid hex.
func (k AgentKey) Bytes() []byte {
	b, err := hex.DecodeString(string(k))
	if err != nil {
		return nil
	}
	return b
}

// Timestamp is microseconds since the Unix epoch.
type Timestamp int64

// ActionType enumerates the variants of a source chain record.
type ActionType string

const (
	ActionChainOpen         ActionType = "chain_open"
	ActionCreate            ActionType = "create"
	ActionUpdate            ActionType = "update"
	ActionDelete            ActionType = "delete"
	ActionCreateLink        ActionType = "create_link"
	ActionDeleteLink        ActionType = "delete_link"
	ActionInitComplete      ActionType = "init_complete"
	ActionChainClose        ActionType = "chain_close"
	ActionValidationPackage ActionType = "validation_package"
)

// Known reports whether t is one of the defined action types.
func (t ActionType) Known() bool {
	switch t {
	case ActionChainOpen, ActionCreate, ActionUpdate, ActionDelete,
		ActionCreateLink, ActionDeleteLink, ActionInitComplete,
		ActionChainClose, ActionValidationPackage:
		return true
	}
	return false
}

// HasEntry reports whether actions of this type reference an entry.
func (t ActionType) HasEntry() bool {
	return t == ActionCreate || t == ActionUpdate
}

// EntryKind distinguishes application entries from system entries.
type EntryKind string

const (
	EntryApp      EntryKind = "app"
	EntryAgentKey EntryKind = "agent_key"
	EntryCapGrant EntryKind = "cap_grant"
	EntryCapClaim EntryKind = "cap_claim"
)

// Visibility controls whether an entry leaves the authoring agent.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// EntryType is the declared type of the entry a create/update refers to.
type EntryType struct {
	Kind       EntryKind  `json:"kind"`
	ZomeIndex  int        `json:"zome_index,omitempty"`
	EntryIndex int        `json:"entry_index,omitempty"`
	Visibility Visibility `json:"visibility"`
}

// IsPublic reports whether entries of this type are published.
func (t EntryType) IsPublic() bool { return t.Visibility == Public }

func (t EntryType) toIR() IRObject {
	return IRObject{
		"kind":        IRString(t.Kind),
		"zome_index":  IRInt(t.ZomeIndex),
		"entry_index": IRInt(t.EntryIndex),
		"visibility":  IRString(t.Visibility),
	}
}

// Action is an immutable record in an agent's source chain.
// Fields beyond the common header are populated per Type.
type Action struct {
	Type       ActionType `json:"type"`
	Author     AgentKey   `json:"author"`
	Seq        int64      `json:"seq"`
	PrevAction Hash       `json:"prev_action,omitempty"`
	Timestamp  Timestamp  `json:"timestamp"`

	// chain_open
	DNAHash Hash `json:"dna_hash,omitempty"`

	// create, update
	EntryType *EntryType `json:"entry_type,omitempty"`
	EntryHash Hash       `json:"entry_hash,omitempty"`

	// update
	OriginalAction Hash `json:"original_action,omitempty"`
	OriginalEntry  Hash `json:"original_entry,omitempty"`

	// delete
	DeletesAction Hash `json:"deletes_action,omitempty"`
	DeletesEntry  Hash `json:"deletes_entry,omitempty"`

	// create_link, delete_link
	BaseAddress   Hash   `json:"base_address,omitempty"`
	TargetAddress Hash   `json:"target_address,omitempty"`
	ZomeIndex     int    `json:"zome_index,omitempty"`
	LinkType      int    `json:"link_type,omitempty"`
	Tag           []byte `json:"tag,omitempty"`
	LinkAdd       Hash   `json:"link_add,omitempty"`
}

// toIR builds the canonical hashing form of the action.
func (a Action) toIR() IRObject {
	obj := IRObject{
		"type":      IRString(a.Type),
		"author":    IRString(a.Author),
		"seq":       IRInt(a.Seq),
		"timestamp": IRInt(a.Timestamp),
	}
	obj.setIf("prev_action", string(a.PrevAction))
	obj.setIf("dna_hash", string(a.DNAHash))
	if a.EntryType != nil {
		obj["entry_type"] = a.EntryType.toIR()
	}
	obj.setIf("entry_hash", string(a.EntryHash))
	obj.setIf("original_action", string(a.OriginalAction))
	obj.setIf("original_entry", string(a.OriginalEntry))
	obj.setIf("deletes_action", string(a.DeletesAction))
	obj.setIf("deletes_entry", string(a.DeletesEntry))
	obj.setIf("base_address", string(a.BaseAddress))
	obj.setIf("target_address", string(a.TargetAddress))
	obj.setIf("link_add", string(a.LinkAdd))
	if a.Type == ActionCreateLink {
		obj["zome_index"] = IRInt(a.ZomeIndex)
		obj["link_type"] = IRInt(a.LinkType)
		obj["tag"] = IRString(hex.EncodeToString(a.Tag))
	}
	return obj
}

// Hash returns the content address of the action.
func (a Action) Hash() Hash {
	return hashObject(DomainAction, a.toIR())
}

// SigningBytes returns the bytes an author signs: the canonical encoding
// of the action.
func (a Action) SigningBytes() []byte {
	b, err := MarshalCanonical(a.toIR())
	if err != nil {
		panic(&InvariantError{Message: "action signing bytes: " + err.Error()})
	}
	return b
}

// IsGenesis reports whether the action opens a chain.
func (a Action) IsGenesis() bool { return a.Seq == 0 }

// SignedAction pairs an action with its author's signature.
type SignedAction struct {
	Action    Action `json:"action"`
	Signature []byte `json:"signature"`
}

// Hash returns the hash of the wrapped action.
func (s SignedAction) Hash() Hash { return s.Action.Hash() }

// Entry is an opaque application payload addressed by its content hash.
type Entry struct {
	Kind    EntryKind `json:"kind"`
	Content []byte    `json:"content"`
}

// Hash returns the content address of the entry.
func (e Entry) Hash() Hash {
	return hashObject(DomainEntry, IRObject{
		"kind":    IRString(e.Kind),
		"content": IRString(hex.EncodeToString(e.Content)),
	})
}

// Size is the payload size checked against the entry ceiling.
func (e Entry) Size() int { return len(e.Content) }
