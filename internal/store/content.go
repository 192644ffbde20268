package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// putAction stages an action in the content store. Content-addressed, so a
// conflict means the same row already exists.
func putAction(ctx context.Context, db execer, sa ir.SignedAction) error {
	blob, err := marshalSignedAction(sa)
	if err != nil {
		return err
	}
	a := sa.Action
	_, err = db.ExecContext(ctx, `
		INSERT INTO action
		(hash, author, seq, prev_hash, action_type, timestamp, entry_hash, blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		string(sa.Hash()),
		string(a.Author),
		a.Seq,
		string(a.PrevAction),
		string(a.Type),
		int64(a.Timestamp),
		string(a.EntryHash),
		blob,
	)
	if err != nil {
		return fmt.Errorf("put action: %w", err)
	}
	return nil
}

func putEntry(ctx context.Context, db execer, e ir.Entry) error {
	content := e.Content
	if content == nil {
		content = []byte{}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO entry (hash, kind, content)
		VALUES (?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, string(e.Hash()), string(e.Kind), content)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

// GetAction looks up a staged or integrated action by hash.
// Returns found=false if no such action is stored.
func (s *Store) GetAction(ctx context.Context, h ir.Hash) (ir.SignedAction, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM action WHERE hash = ?`, string(h)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SignedAction{}, false, nil
	}
	if err != nil {
		return ir.SignedAction{}, false, fmt.Errorf("get action: %w", err)
	}
	sa, err := unmarshalSignedAction(blob)
	if err != nil {
		return ir.SignedAction{}, false, fmt.Errorf("get action %s: %w", h.Short(), err)
	}
	return sa, true, nil
}

// GetEntry looks up an entry by hash.
func (s *Store) GetEntry(ctx context.Context, h ir.Hash) (ir.Entry, bool, error) {
	var kind string
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT kind, content FROM entry WHERE hash = ?`, string(h)).Scan(&kind, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Entry{}, false, nil
	}
	if err != nil {
		return ir.Entry{}, false, fmt.Errorf("get entry: %w", err)
	}
	return ir.Entry{Kind: ir.EntryKind(kind), Content: content}, true, nil
}

// ActionRef is the linkage-relevant projection of a stored action.
type ActionRef struct {
	Hash       ir.Hash
	PrevAction ir.Hash
}

// ActionsAtSeq returns every stored action the author has at seq, in hash
// order. More than one result sharing a previous action is a chain fork.
func (s *Store) ActionsAtSeq(ctx context.Context, author ir.AgentKey, seq int64) ([]ActionRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, prev_hash FROM action
		WHERE author = ? AND seq = ?
		ORDER BY hash ASC
	`, string(author), seq)
	if err != nil {
		return nil, fmt.Errorf("actions at seq: %w", err)
	}
	defer rows.Close()

	var refs []ActionRef
	for rows.Next() {
		var h, prev string
		if err := rows.Scan(&h, &prev); err != nil {
			return nil, fmt.Errorf("actions at seq: scan: %w", err)
		}
		refs = append(refs, ActionRef{Hash: ir.Hash(h), PrevAction: ir.Hash(prev)})
	}
	return refs, rows.Err()
}

// ChainHead returns the stored action with the highest seq for author,
// validated or not.
func (s *Store) ChainHead(ctx context.Context, author ir.AgentKey) (ir.SignedAction, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM action WHERE author = ?
		ORDER BY seq DESC, hash ASC LIMIT 1
	`, string(author)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SignedAction{}, false, nil
	}
	if err != nil {
		return ir.SignedAction{}, false, fmt.Errorf("chain head: %w", err)
	}
	sa, err := unmarshalSignedAction(blob)
	if err != nil {
		return ir.SignedAction{}, false, err
	}
	return sa, true, nil
}

// Authors returns every author with a stored action, in key order.
func (s *Store) Authors(ctx context.Context) ([]ir.AgentKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT author FROM action ORDER BY author COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("authors: %w", err)
	}
	defer rows.Close()

	var out []ir.AgentKey
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("authors: scan: %w", err)
		}
		out = append(out, ir.AgentKey(a))
	}
	return out, rows.Err()
}
