package origin

import "github.com/ryandielhenn/prefixmgr/pkg/prefixerr"

// Table is the per-prefix map of client contributions. It is not
// internally synchronized: the concurrency model requires a single
// core-loop goroutine to own it exclusively, the same way the
// Publication Engine and timers are owned by that loop.
type Table struct {
	rows map[Prefix]map[PrefixType]PrefixEntry
}

// New returns an empty Table.
func New() *Table {
	return &Table{rows: make(map[Prefix]map[PrefixType]PrefixEntry)}
}

func winnerOf(row map[PrefixType]PrefixEntry) (PrefixEntry, bool) {
	var best PrefixEntry
	found := false
	for t, e := range row {
		if !found || t < best.Type {
			best = e
			found = true
		}
	}
	return best, found
}

func winnersEqual(a PrefixEntry, aOk bool, b PrefixEntry, bOk bool) bool {
	if aOk != bOk {
		return false
	}
	if !aOk {
		return true
	}
	return a.Equal(b)
}

// Advertise inserts or replaces each entry's (prefix, client)
// contribution. Returns true iff the winning entry for at least one
// prefix changed as a result.
func (t *Table) Advertise(entries []PrefixEntry) bool {
	changed := false
	for _, e := range entries {
		row, ok := t.rows[e.Prefix]
		if !ok {
			row = make(map[PrefixType]PrefixEntry)
			t.rows[e.Prefix] = row
		}
		before, beforeOk := winnerOf(row)
		row[e.Type] = e
		after, afterOk := winnerOf(row)
		if !winnersEqual(before, beforeOk, after, afterOk) {
			changed = true
		}
	}
	return changed
}

// Withdraw removes each exact (prefix, client) pair named by entries.
// If, for any entry in the batch, the prefix row exists but does not
// carry a contribution under that exact client (i.e. the row belongs
// to a different client than the caller claims), the whole batch is
// rejected: no entry in it is removed, false is returned, and err
// wraps prefixerr.ErrInvalidRequest naming the offending prefix. This
// matches the "type has to match" semantics where a caller presenting
// the wrong client for an existing prefix must not silently succeed
// on the other, valid entries in the same request.
func (t *Table) Withdraw(entries []PrefixEntry) (changed bool, err error) {
	for _, e := range entries {
		if row, ok := t.rows[e.Prefix]; ok {
			if _, ok := row[e.Type]; !ok {
				return false, &invalidWithdrawError{prefix: e.Prefix, client: e.Type}
			}
		}
	}

	for _, e := range entries {
		row, ok := t.rows[e.Prefix]
		if !ok {
			continue
		}
		if _, ok := row[e.Type]; !ok {
			continue
		}
		before, beforeOk := winnerOf(row)
		delete(row, e.Type)
		if len(row) == 0 {
			delete(t.rows, e.Prefix)
			if beforeOk {
				changed = true
			}
			continue
		}
		after, afterOk := winnerOf(row)
		if !winnersEqual(before, beforeOk, after, afterOk) {
			changed = true
		}
	}
	return changed, nil
}

// invalidWithdrawError reports a Withdraw batch rejected because an
// entry named a client that does not own the prefix's existing row.
type invalidWithdrawError struct {
	prefix Prefix
	client PrefixType
}

func (e *invalidWithdrawError) Error() string {
	return "origin: withdraw: " + e.prefix.String() + " is not owned by client " + e.client.String()
}

func (e *invalidWithdrawError) Unwrap() error {
	return prefixerr.ErrInvalidRequest
}

// WithdrawByClient removes every contribution made by client, across
// all prefixes. Returns true iff anything was removed.
func (t *Table) WithdrawByClient(client PrefixType) bool {
	changed := false
	for prefix, row := range t.rows {
		if _, ok := row[client]; !ok {
			continue
		}
		before, beforeOk := winnerOf(row)
		delete(row, client)
		if len(row) == 0 {
			delete(t.rows, prefix)
			if beforeOk {
				changed = true
			}
			continue
		}
		after, afterOk := winnerOf(row)
		if !winnersEqual(before, beforeOk, after, afterOk) {
			changed = true
		}
	}
	return changed
}

// SyncByClient atomically replaces the full set of prefixes
// contributed by client with the set named by entries (each entry's
// Type is forced to client). Returns true iff the winning state of any
// affected prefix differs from before.
func (t *Table) SyncByClient(client PrefixType, entries []PrefixEntry) bool {
	next := make(map[Prefix]PrefixEntry, len(entries))
	for _, e := range entries {
		e.Type = client
		next[e.Prefix] = e
	}

	affected := make(map[Prefix]struct{})
	for prefix, row := range t.rows {
		if _, ok := row[client]; ok {
			affected[prefix] = struct{}{}
		}
	}
	for prefix := range next {
		affected[prefix] = struct{}{}
	}

	before := make(map[Prefix]PrefixEntry, len(affected))
	beforeOk := make(map[Prefix]bool, len(affected))
	for prefix := range affected {
		if row, ok := t.rows[prefix]; ok {
			before[prefix], beforeOk[prefix] = winnerOf(row)
		}
	}

	for prefix := range affected {
		row, ok := t.rows[prefix]
		if e, wantOk := next[prefix]; wantOk {
			if !ok {
				row = make(map[PrefixType]PrefixEntry)
				t.rows[prefix] = row
			}
			row[client] = e
			continue
		}
		if ok {
			delete(row, client)
			if len(row) == 0 {
				delete(t.rows, prefix)
			}
		}
	}

	changed := false
	for prefix := range affected {
		var after PrefixEntry
		afterOk := false
		if row, ok := t.rows[prefix]; ok {
			after, afterOk = winnerOf(row)
		}
		if !winnersEqual(before[prefix], beforeOk[prefix], after, afterOk) {
			changed = true
		}
	}
	return changed
}

// GetAll returns the winning entry for every prefix currently present.
func (t *Table) GetAll() []PrefixEntry {
	out := make([]PrefixEntry, 0, len(t.rows))
	for _, row := range t.rows {
		if e, ok := winnerOf(row); ok {
			out = append(out, e)
		}
	}
	return out
}

// GetByClient returns every entry contributed by client, across all
// prefixes, irrespective of whether it currently wins.
func (t *Table) GetByClient(client PrefixType) []PrefixEntry {
	var out []PrefixEntry
	for _, row := range t.rows {
		if e, ok := row[client]; ok {
			out = append(out, e)
		}
	}
	return out
}

// AllEntries returns every (prefix, client) contribution in the table,
// winning or not. The Durable Snapshot filters this down to the
// non-ephemeral subset before writing it out.
func (t *Table) AllEntries() []PrefixEntry {
	var out []PrefixEntry
	for _, row := range t.rows {
		for _, e := range row {
			out = append(out, e)
		}
	}
	return out
}
