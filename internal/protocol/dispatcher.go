// Package protocol implements the line-oriented wire protocol: request
// tokenising, the kv/filter grammar, reply framing, and the verb
// dispatcher that ties requests to the store and query engine.
package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cubedb/cubedb/internal/cube"
	"github.com/cubedb/cubedb/internal/intern"
	"github.com/cubedb/cubedb/internal/query"
)

// Handler answers one already-tokenised request. On success it writes its
// reply through w and returns nil. A protocol error is returned as an
// *Error, whose code Dispatch writes as the reply; any other error is
// answered with ErrGeneric.
type Handler func(args []string, s *cube.Store, w *Writer) error

// verb describes one command's arity and handler. MinArgs/MaxArgs count
// arguments after the verb itself; MaxArgs == -1 means unbounded.
type verb struct {
	Name    string
	MinArgs int
	MaxArgs int
	Handler Handler
}

// ErrorRecorder receives one observation per failed command, keyed by
// verb and the error code returned. Satisfied by *metrics.Metrics; kept
// as a narrow interface here so this package does not need to import
// metrics.
type ErrorRecorder interface {
	RecordError(verb, code string)
}

// Dispatcher owns the verb table and the store it dispatches against.
type Dispatcher struct {
	store   *cube.Store
	log     zerolog.Logger
	metrics ErrorRecorder
	verbs   map[string]verb
	order   []string // registration order, for HELP
}

// NewDispatcher builds a dispatcher with every verb wired against store.
// metrics may be nil, in which case error observations are dropped.
func NewDispatcher(store *cube.Store, log zerolog.Logger, metrics ErrorRecorder) *Dispatcher {
	d := &Dispatcher{store: store, log: log, metrics: metrics, verbs: make(map[string]verb)}
	d.register(verb{"PING", 0, 0, handlePing})
	d.register(verb{"QUIT", 0, 0, handleQuit})
	d.register(verb{"CUBES", 0, 0, handleCubes})
	d.register(verb{"ADDCUBE", 1, 1, handleAddCube})
	d.register(verb{"DELCUBE", 1, 1, handleDelCube})
	d.register(verb{"CUBE", 1, 1, handleCube})
	d.register(verb{"PART", 1, 3, handlePart})
	d.register(verb{"DELPART", 2, 3, handleDelPart})
	d.register(verb{"INSERT", 4, 4, handleInsert})
	d.register(verb{"COUNT", 1, 5, handleCount})
	d.register(verb{"PCOUNT", 1, 5, handlePCount})
	d.register(verb{"DUMP", 0, 0, nil}) // wired by the server, which owns the dump path
	d.register(verb{"HELP", 0, 0, nil}) // filled in below, once every other verb is known
	d.verbs["HELP"] = verb{"HELP", 0, 0, d.handleHelp}
	return d
}

func (d *Dispatcher) register(v verb) {
	d.verbs[v.Name] = v
	d.order = append(d.order, v.Name)
}

// SetDumpHandler wires DUMP's handler in after construction, since it
// needs the dump path the server was started with rather than just the
// store.
func (d *Dispatcher) SetDumpHandler(h Handler) {
	v := d.verbs["DUMP"]
	v.Handler = h
	d.verbs["DUMP"] = v
}

func (d *Dispatcher) handleHelp(_ []string, _ *cube.Store, w *Writer) error {
	lines := make([]string, 0, len(d.order))
	for _, name := range d.order {
		lines = append(lines, name)
	}
	return w.WriteLineList(lines)
}

// errQuit is a sentinel error Dispatch returns after a QUIT reply has been
// written, telling the connection loop to close the socket.
var errQuit = fmt.Errorf("quit")

func handleQuit(_ []string, _ *cube.Store, w *Writer) error {
	if err := w.WriteOK(); err != nil {
		return err
	}
	return errQuit
}

// Dispatch tokenises and executes one request line, writing a reply to
// w. It returns errQuit (via the QUIT handler) when the connection
// should close after this reply; any other non-nil error is an I/O
// failure writing the reply, which the caller should treat as fatal for
// the connection.
func (d *Dispatcher) Dispatch(line string, w *Writer) error {
	tokens, err := Tokenize(line)
	if err != nil {
		d.log.Debug().Err(err).Str("line", line).Msg("malformed request line")
		d.recordError("", ErrMalformedArg)
		return w.WriteError(ErrMalformedArg)
	}
	if len(tokens) == 0 {
		d.recordError("", ErrVerbNotFound)
		return w.WriteError(ErrVerbNotFound)
	}

	name := strings.ToUpper(tokens[0])
	args := tokens[1:]

	v, ok := d.verbs[name]
	if !ok {
		d.recordError(name, ErrVerbNotFound)
		return w.WriteError(ErrVerbNotFound)
	}
	if v.Handler == nil {
		// DUMP before the server has wired in a dump path.
		d.recordError(name, ErrGeneric)
		return w.WriteError(ErrGeneric)
	}
	if len(args) < v.MinArgs || (v.MaxArgs >= 0 && len(args) > v.MaxArgs) {
		d.recordError(name, ErrWrongArgCount)
		return w.WriteError(ErrWrongArgCount)
	}

	if err := v.Handler(args, d.store, w); err != nil {
		if err == errQuit {
			return errQuit
		}
		if perr, ok := err.(*Error); ok {
			d.recordError(name, perr.Code)
			return w.WriteError(perr.Code)
		}
		d.log.Error().Err(err).Str("verb", name).Msg("handler failed")
		d.recordError(name, ErrGeneric)
		return w.WriteError(ErrGeneric)
	}
	return nil
}

func (d *Dispatcher) recordError(verb string, code Code) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordError(verb, strconv.Itoa(int(code)))
}

func handlePing(_ []string, _ *cube.Store, w *Writer) error {
	return w.WriteLine("PONG")
}

func handleCubes(_ []string, s *cube.Store, w *Writer) error {
	return w.WriteLineList(s.CubeNames())
}

func handleAddCube(args []string, s *cube.Store, w *Writer) error {
	if !s.AddCube(args[0]) {
		return NewError(ErrObjExists, "cube %q already exists", args[0])
	}
	return w.WriteOK()
}

func handleDelCube(args []string, s *cube.Store, w *Writer) error {
	if !s.DeleteCube(args[0]) {
		return NewError(ErrObjNotFound, "cube %q does not exist", args[0])
	}
	return w.WriteOK()
}

func handleCube(args []string, s *cube.Store, w *Writer) error {
	c := s.GetCube(args[0])
	if c == nil {
		return NewError(ErrObjNotFound, "cube %q does not exist", args[0])
	}
	return w.WriteLineList(c.PartitionNames())
}

func handleInsert(args []string, s *cube.Store, w *Writer) error {
	cubeName, partName, kv, countStr := args[0], args[1], args[2], args[3]

	count, err := strconv.ParseUint(countStr, 10, 64)
	if err != nil {
		return NewError(ErrMalformedArg, "count %q is not a non-negative integer", countStr)
	}
	if count == 0 {
		return NewError(ErrWrongArg, "count must be positive")
	}

	c := s.EnsureCube(cubeName)
	row, err := ParseRow(kv, s.Interner())
	if err != nil {
		return err
	}
	c.Insert(partName, row, count)
	return w.WriteOK()
}

func handleDelPart(args []string, s *cube.Store, w *Writer) error {
	cubeName, from := args[0], args[1]
	to := ""
	if len(args) == 3 {
		to = args[2]
	}

	c := s.GetCube(cubeName)
	if c == nil {
		return NewError(ErrObjNotFound, "cube %q does not exist", cubeName)
	}

	if to == "" {
		if !c.DeleteOne(from) {
			return NewError(ErrObjNotFound, "partition %q does not exist", from)
		}
		return w.WriteOK()
	}

	c.DeleteRange(from, to)
	return w.WriteOK()
}

func handlePart(args []string, s *cube.Store, w *Writer) error {
	cubeName := args[0]

	c := s.GetCube(cubeName)
	if c == nil {
		return NewError(ErrObjNotFound, "cube %q does not exist", cubeName)
	}

	// PART cube name from to     -> inclusive range
	// PART cube name from        -> the single partition named from
	// PART cube name             -> every partition
	var parts []*cube.Partition
	switch len(args) {
	case 3:
		for _, p := range c.RangeInclusive(args[1], args[2]) {
			parts = append(parts, p.Part)
		}
	case 2:
		if p := c.Get(args[1]); p != nil {
			parts = append(parts, p)
		}
	default:
		for _, p := range c.RangeInclusive("", "") {
			parts = append(parts, p.Part)
		}
	}

	merged := make(map[intern.ID]map[intern.ID]struct{})
	for _, p := range parts {
		for col, vals := range p.Columns() {
			bucket, ok := merged[col]
			if !ok {
				bucket = make(map[intern.ID]struct{})
				merged[col] = bucket
			}
			for v := range vals {
				bucket[v] = struct{}{}
			}
		}
	}

	in := s.Interner()
	colNames := make([]string, 0, len(merged))
	byColName := make(map[string][]string, len(merged))
	for col, vals := range merged {
		name := in.Columns.Resolve(col)
		colNames = append(colNames, name)
		lines := make([]string, 0, len(vals))
		for v := range vals {
			lines = append(lines, in.Values.Resolve(v))
		}
		sort.Strings(lines)
		byColName[name] = lines
	}
	sort.Strings(colNames)

	blocks := make([]MapOfListsEntry, 0, len(colNames))
	for _, name := range colNames {
		blocks = append(blocks, MapOfListsEntry{Key: name, Lines: byColName[name]})
	}
	return w.WriteMapOfLists(blocks)
}

func handleCount(args []string, s *cube.Store, w *Writer) error {
	cubeName, from, to, filterArg, groupArg, err := parseRangeArgs(args)
	if err != nil {
		return err
	}

	c := s.GetCube(cubeName)
	if c == nil {
		return NewError(ErrObjNotFound, "cube %q does not exist", cubeName)
	}

	in := s.Interner()
	filter, err := ParseFilter(filterArg, in)
	if err != nil {
		return err
	}
	group, grouped := ParseGroup(groupArg, in)
	var groupPtr *intern.ID
	if grouped {
		groupPtr = &group
	}

	total, g := query.Count(c, from, to, filter, groupPtr)
	if !grouped {
		return w.WriteCount(total)
	}
	return w.WriteMap(groupToEntries(g, in))
}

func handlePCount(args []string, s *cube.Store, w *Writer) error {
	cubeName, from, to, filterArg, groupArg, err := parseRangeArgs(args)
	if err != nil {
		return err
	}

	c := s.GetCube(cubeName)
	if c == nil {
		return NewError(ErrObjNotFound, "cube %q does not exist", cubeName)
	}

	in := s.Interner()
	filter, err := ParseFilter(filterArg, in)
	if err != nil {
		return err
	}
	group, grouped := ParseGroup(groupArg, in)
	var groupPtr *intern.ID
	if grouped {
		groupPtr = &group
	}

	totals, groups := query.PCount(c, from, to, filter, groupPtr)
	if !grouped {
		names := make([]string, 0, len(totals))
		for name := range totals {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]MapEntry, 0, len(names))
		for _, name := range names {
			entries = append(entries, MapEntry{Key: name, Value: strconv.FormatUint(totals[name], 10)})
		}
		return w.WriteMap(entries)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	blocks := make([]NestedMapEntry, 0, len(names))
	for _, name := range names {
		blocks = append(blocks, NestedMapEntry{Key: name, Entries: groupToEntries(groups[name], in)})
	}
	return w.WriteNestedMap(blocks)
}

// parseRangeArgs unpacks the shared COUNT/PCOUNT argument tail:
// name [from [to [filter [group]]]].
func parseRangeArgs(args []string) (name, from, to, filter, group string, err error) {
	name = args[0]
	rest := args[1:]
	vals := []string{"", "", "", ""}
	for i, a := range rest {
		vals[i] = a
	}
	return name, vals[0], vals[1], vals[2], vals[3], nil
}

func groupToEntries(g query.Group, in *intern.Interner) []MapEntry {
	names := make([]string, 0, len(g))
	byName := make(map[string]uint64, len(g))
	for id, cnt := range g {
		name := in.Values.Resolve(id)
		names = append(names, name)
		byName[name] = cnt
	}
	sort.Strings(names)
	entries := make([]MapEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, MapEntry{Key: name, Value: strconv.FormatUint(byName[name], 10)})
	}
	return entries
}
