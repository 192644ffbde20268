package store

import (
	"encoding/json"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// marshalSignedAction converts a signed action to the JSON TEXT stored in
// action.blob. The blob is a storage format only; identity always comes from
// ir.Action.Hash over the canonical encoding.
func marshalSignedAction(sa ir.SignedAction) (string, error) {
	data, err := json.Marshal(sa)
	if err != nil {
		return "", fmt.Errorf("marshal action: %w", err)
	}
	return string(data), nil
}

func unmarshalSignedAction(data string) (ir.SignedAction, error) {
	var sa ir.SignedAction
	if err := json.Unmarshal([]byte(data), &sa); err != nil {
		return ir.SignedAction{}, fmt.Errorf("unmarshal action: %w", err)
	}
	return sa, nil
}

// marshalHashes stores a hash list as a JSON array. nil becomes [] so the
// column is always valid input for json_each.
func marshalHashes(hs []ir.Hash) (string, error) {
	if len(hs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(hs)
	if err != nil {
		return "", fmt.Errorf("marshal hashes: %w", err)
	}
	return string(data), nil
}

func unmarshalHashes(data string) ([]ir.Hash, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var hs []ir.Hash
	if err := json.Unmarshal([]byte(data), &hs); err != nil {
		return nil, fmt.Errorf("unmarshal hashes: %w", err)
	}
	return hs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
