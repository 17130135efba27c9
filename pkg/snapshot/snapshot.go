// Package snapshot implements the Durable Snapshot: persistence of the
// non-ephemeral subset of the Origin Table across restarts.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ryandielhenn/prefixmgr/pkg/origin"
	"github.com/ryandielhenn/prefixmgr/pkg/prefixerr"
)

// Key is the fixed configuration-store key the snapshot is stored
// under.
const Key = "prefix-manager-config"

// Store wraps a configstore.Client with load/save/save-if-dirty
// semantics. It does not itself hold a copy of the Origin Table;
// callers pass the current entries each time and Store filters out the
// ephemeral ones.
type Store struct {
	client Client
}

// Client is the subset of configstore.Client Store consumes. Spelled
// out locally so this package does not import configstore directly,
// keeping the dependency direction collaborator → consumer.
type Client interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte) error
	NumWritesToDisk() uint64
}

func New(client Client) *Store {
	return &Store{client: client}
}

// record is the serialized snapshot shape. Entries are always
// non-ephemeral by construction (Save/SaveIfDirty filter before
// writing).
type record struct {
	Entries []origin.PrefixEntry `json:"entries"`
}

// Load reads the snapshot record. A missing record yields an empty
// slice (first boot). A corrupt record also yields an empty slice, on
// the theory that a snapshot that cannot be parsed is no better than
// no snapshot at all; callers are expected to log the error themselves
// from the returned err if they want to distinguish the two cases.
func (s *Store) Load(ctx context.Context) ([]origin.PrefixEntry, error) {
	raw, ok, err := s.client.Load(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", prefixerr.ErrDeserializationFailure, err)
	}

	out := make([]origin.PrefixEntry, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		e.Ephemeral = false
		out = append(out, e)
	}
	return out, nil
}

// Save filters entries to the non-ephemeral subset and writes a single
// serialized record unconditionally.
func (s *Store) Save(ctx context.Context, entries []origin.PrefixEntry) error {
	rec := record{Entries: nonEphemeral(entries)}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot: serialize: %w", err)
	}
	if err := s.client.Store(ctx, Key, raw); err != nil {
		return fmt.Errorf("%w: %v", prefixerr.ErrSnapshotWriteFailure, err)
	}
	return nil
}

// SaveIfDirty writes only if the non-ephemeral projection of entries
// differs from prev (itself a non-ephemeral projection, as returned by
// a prior call to this method or to Load). It returns the projection
// that should be remembered as prev for the next call, and whether a
// write occurred.
func (s *Store) SaveIfDirty(ctx context.Context, prev, entries []origin.PrefixEntry) ([]origin.PrefixEntry, bool, error) {
	next := nonEphemeral(entries)
	if projectionsEqual(prev, next) {
		return prev, false, nil
	}
	if err := s.Save(ctx, next); err != nil {
		return prev, false, err
	}
	return next, true, nil
}

// NumWritesToDisk is test observability: the number of physical writes
// the underlying configstore.Client has performed.
func (s *Store) NumWritesToDisk() uint64 {
	return s.client.NumWritesToDisk()
}

func nonEphemeral(entries []origin.PrefixEntry) []origin.PrefixEntry {
	out := make([]origin.PrefixEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Ephemeral {
			out = append(out, e)
		}
	}
	return out
}

// rowKey identifies an entry for projection comparison: (prefix, client).
type rowKey struct {
	prefix origin.Prefix
	client origin.PrefixType
}

// projectionsEqual compares two non-ephemeral projections by content,
// not by order: the whole projection is diffed, keyed by
// (prefix, client), not merely the prefixes touched by the operation
// that triggered the check.
func projectionsEqual(a, b []origin.PrefixEntry) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[rowKey]origin.PrefixEntry, len(a))
	for _, e := range a {
		am[rowKey{e.Prefix, e.Type}] = e
	}
	for _, e := range b {
		prev, ok := am[rowKey{e.Prefix, e.Type}]
		if !ok || !prev.Equal(e) {
			return false
		}
	}
	return true
}
