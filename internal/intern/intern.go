// Package intern assigns dense, stable integer ids to the small set of
// distinct strings a cube ever sees: column names and column values.
package intern

import "sync"

// ID is a dense identifier assigned to an interned string. IDs are never
// reclaimed for the life of the table that issued them.
type ID uint32

// NoSuchColumn is a sentinel id that no Table ever assigns (Intern hands
// out dense ids starting at 0). Query-path code uses it to represent "a
// column/value that has never been interned" so a filter or group
// argument referencing it deterministically matches nothing rather than
// growing the table.
const NoSuchColumn ID = ^ID(0)

// Table is a bidirectional string<->ID map safe for concurrent use by many
// readers and writers. Reads that only resolve or look up an existing
// entry never block each other; only a first-time intern takes the
// exclusive path.
type Table struct {
	mu      sync.RWMutex
	byStr   map[string]ID
	byID    []string
}

// NewTable returns an empty interning table.
func NewTable() *Table {
	return &Table{byStr: make(map[string]ID)}
}

// Intern returns the id for s, assigning a new dense id if s has not been
// seen before.
func (t *Table) Intern(s string) ID {
	t.mu.RLock()
	if id, ok := t.byStr[s]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check: another goroutine may have interned s while we waited for
	// the write lock.
	if id, ok := t.byStr[s]; ok {
		return id
	}
	id := ID(len(t.byID))
	t.byID = append(t.byID, s)
	t.byStr[s] = id
	return id
}

// Lookup returns the id for s without creating one. The second return
// value is false if s has never been interned — callers on the query path
// use this so that referencing an unknown value returns "no match" instead
// of silently growing the table.
func (t *Table) Lookup(s string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byStr[s]
	return id, ok
}

// Resolve returns the original string for id. It panics if id was never
// issued by this table, which would indicate a bug in the caller (ids are
// never forged; they only ever come from Intern/Lookup).
func (t *Table) Resolve(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// Len returns the number of distinct strings interned so far.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Interner holds the two tables a store needs: one for column names, one
// for column values. They are kept separate so that a column named "a"
// and a value "a" never collide on the same id space.
type Interner struct {
	Columns *Table
	Values  *Table
}

// New returns an empty Interner.
func New() *Interner {
	return &Interner{Columns: NewTable(), Values: NewTable()}
}
