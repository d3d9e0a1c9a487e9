package protocol

import (
	"strings"

	"github.com/cubedb/cubedb/internal/cube"
	"github.com/cubedb/cubedb/internal/intern"
)

// ParseRow parses an INSERT kv argument ("a=1&b=2") into a cube.Row,
// interning every column and value it sees. Within one kv string the
// last value given for a repeated column wins, matching the source
// behaviour.
func ParseRow(kv string, in *intern.Interner) (cube.Row, error) {
	row := make(cube.Row)
	if kv == "" {
		return row, nil
	}
	for _, pair := range strings.Split(kv, "&") {
		col, val, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		colID := in.Columns.Intern(col)
		valID := in.Values.Intern(val)
		row[colID] = valID
	}
	return row, nil
}

// ParseFilter parses a COUNT/PCOUNT filter argument into a cube.Filter.
// Repeated pairs for the same column accumulate as an any-of set (OR
// within a column, AND across columns). "" and the literal "null" both
// mean "no filter", returning a nil Filter. Values that have never been
// interned are looked up (never created) and simply do not widen the
// allowed set for that column — a query that references a value no row
// has ever carried matches nothing, without polluting the value table.
func ParseFilter(filter string, in *intern.Interner) (cube.Filter, error) {
	if filter == "" || filter == "null" {
		return nil, nil
	}
	f := make(cube.Filter)
	for _, pair := range strings.Split(filter, "&") {
		col, val, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		colID, ok := in.Columns.Lookup(col)
		if !ok {
			// No row has ever carried this column; record it under the
			// sentinel id, which no partition carries, so it still takes
			// part in the AND-across-columns reduction and forces a zero
			// result.
			colID = intern.NoSuchColumn
		}
		if _, exists := f[colID]; !exists {
			f[colID] = make(map[intern.ID]struct{})
		}
		valID, ok := in.Values.Lookup(val)
		if !ok {
			continue
		}
		f[colID][valID] = struct{}{}
	}
	return f, nil
}

// ParseGroup resolves a COUNT/PCOUNT group-column argument to a column
// id. "" and "null" both mean "no grouping" and return ok == false. A
// group column no row has ever carried resolves to ok == true with a
// sentinel id that matches nothing, so the reply is an empty map rather
// than an error.
func ParseGroup(group string, in *intern.Interner) (col intern.ID, ok bool) {
	if group == "" || group == "null" {
		return 0, false
	}
	id, found := in.Columns.Lookup(group)
	if !found {
		return intern.NoSuchColumn, true
	}
	return id, true
}

func splitPair(pair string) (col, val string, err error) {
	i := strings.IndexByte(pair, '=')
	if i < 0 {
		return "", "", NewError(ErrMalformedArg, "kv pair %q missing '='", pair)
	}
	return pair[:i], pair[i+1:], nil
}
