package protocol

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cubedb/cubedb/internal/cube"
)

func newTestDispatcher() (*Dispatcher, *cube.Store) {
	s := cube.New()
	d := NewDispatcher(s, zerolog.New(io.Discard), nil)
	return d, s
}

func dispatch(t *testing.T, d *Dispatcher, line string) string {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(bufio.NewWriter(&buf))
	if err := d.Dispatch(line, w); err != nil && err != errQuit {
		t.Fatalf("dispatch of %q failed: %v", line, err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	return buf.String()
}

// TestScenario1 walks a basic ADDCUBE/INSERT/CUBE session end to end
// through the wire protocol.
func TestScenario1(t *testing.T) {
	d, _ := newTestDispatcher()

	if got := dispatch(t, d, "ADDCUBE cube"); got != "0\n" {
		t.Fatalf("ADDCUBE: got %q", got)
	}
	if got := dispatch(t, d, "CUBE cube"); got != "0\n" {
		t.Fatalf("CUBE (empty): got %q", got)
	}
	if got := dispatch(t, d, "INSERT cube p1 a=1 1"); got != "0\n" {
		t.Fatalf("INSERT p1: got %q", got)
	}
	if got := dispatch(t, d, "INSERT cube p2 a=1 1"); got != "0\n" {
		t.Fatalf("INSERT p2: got %q", got)
	}
	if got := dispatch(t, d, "CUBE cube"); got != "2\np1\np2\n" {
		t.Fatalf("CUBE (populated): got %q", got)
	}
}

// TestInsertAutoCreatesCube checks that INSERT against an unknown cube
// auto-creates it rather than failing -8.
func TestInsertAutoCreatesCube(t *testing.T) {
	d, s := newTestDispatcher()

	if got := dispatch(t, d, "INSERT newcube p1 a=1 5"); got != "0\n" {
		t.Fatalf("expected OK auto-creating the cube, got %q", got)
	}
	if s.GetCube("newcube") == nil {
		t.Fatalf("expected newcube to exist after INSERT")
	}
}

func TestAddCubeDuplicateReturnsObjExists(t *testing.T) {
	d, _ := newTestDispatcher()
	dispatch(t, d, "ADDCUBE x")
	if got := dispatch(t, d, "ADDCUBE x"); got != "-9\n" {
		t.Fatalf("expected -9 on duplicate ADDCUBE, got %q", got)
	}
}

func TestUnknownVerbReturnsVerbNotFound(t *testing.T) {
	d, _ := newTestDispatcher()
	if got := dispatch(t, d, "BOGUS"); got != "-4\n" {
		t.Fatalf("expected -4, got %q", got)
	}
}

func TestWrongArgCount(t *testing.T) {
	d, _ := newTestDispatcher()
	if got := dispatch(t, d, "ADDCUBE"); got != "-6\n" {
		t.Fatalf("expected -6, got %q", got)
	}
	if got := dispatch(t, d, "ADDCUBE a b"); got != "-6\n" {
		t.Fatalf("expected -6, got %q", got)
	}
}

// TestDelPartMissingSingleVsRange checks that a single-partition DELPART
// on an absent partition is -8, while a range form is never an error even
// on no match.
func TestDelPartMissingSingleVsRange(t *testing.T) {
	d, _ := newTestDispatcher()
	dispatch(t, d, "ADDCUBE cube")

	if got := dispatch(t, d, "DELPART cube part"); got != "-8\n" {
		t.Fatalf("expected -8 for missing single partition, got %q", got)
	}

	dispatch(t, d, "INSERT cube part a=1 1")
	if got := dispatch(t, d, "DELPART cube part"); got != "0\n" {
		t.Fatalf("expected OK deleting an existing partition, got %q", got)
	}
	if got := dispatch(t, d, "CUBE cube"); got != "0\n" {
		t.Fatalf("expected empty cube after delete, got %q", got)
	}

	if got := dispatch(t, d, "DELPART cube a z"); got != "0\n" {
		t.Fatalf("expected OK for a no-op range delete, got %q", got)
	}
	if got := dispatch(t, d, "DELPART cube a z"); got != "0\n" {
		t.Fatalf("expected OK for an identical repeat range delete, got %q", got)
	}
}

// TestPartSingleAndRangeForms checks all three PART arities: every
// partition, a single partition named by `from` alone, and an inclusive
// two-bound range. The single-bound form is easy to get wrong by
// treating a missing `to` as "unbounded above" instead of "just this
// one partition".
func TestPartSingleAndRangeForms(t *testing.T) {
	d, _ := newTestDispatcher()
	dispatch(t, d, "ADDCUBE cube")

	if got := dispatch(t, d, "PART cube"); got != "0\n" {
		t.Fatalf("expected empty map-of-lists before any inserts, got %q", got)
	}

	dispatch(t, d, "INSERT cube p1 c1=val1 1")
	dispatch(t, d, "INSERT cube p2 c1=val2 2")
	dispatch(t, d, "INSERT cube p3 c2=val3 4")

	if got := dispatch(t, d, "PART cube"); got != "2\nc1\n2\nval1\nval2\nc2\n1\nval3\n" {
		t.Fatalf("expected both columns across all partitions, got %q", got)
	}

	if got := dispatch(t, d, "PART cube p1"); got != "1\nc1\n1\nval1\n" {
		t.Fatalf("expected only p1's single column/value, got %q", got)
	}

	if got := dispatch(t, d, "PART cube p1 p2"); got != "1\nc1\n2\nval1\nval2\n" {
		t.Fatalf("expected the union of p1 and p2 across the inclusive range, got %q", got)
	}
}

func TestCountUngroupedReturnsBareCount(t *testing.T) {
	d, _ := newTestDispatcher()
	dispatch(t, d, "ADDCUBE cube")
	dispatch(t, d, "INSERT cube p2 a=1 1")
	dispatch(t, d, "INSERT cube p2 a=2 2")

	if got := dispatch(t, d, "COUNT cube p1 p9"); got != "3\n" {
		t.Fatalf("expected count reply 3, got %q", got)
	}
	if got := dispatch(t, d, "COUNT cube p3 p9"); got != "0\n" {
		t.Fatalf("expected count reply 0, got %q", got)
	}
}

// TestCountAnyOfFilterWithinColumn exercises single-column filters over
// the wire, after a row carrying two columns was inserted: one value, and
// two values of the same column (any-of).
func TestCountAnyOfFilterWithinColumn(t *testing.T) {
	d, _ := newTestDispatcher()
	dispatch(t, d, "ADDCUBE cube")
	dispatch(t, d, "INSERT cube p2 a=1 1")
	dispatch(t, d, "INSERT cube p2 a=2 2")
	dispatch(t, d, "INSERT cube p2 'a=3&b=2' 3")

	if got := dispatch(t, d, "COUNT cube p1 p9 a=1"); got != "1\n" {
		t.Fatalf("expected 1, got %q", got)
	}
	if got := dispatch(t, d, "COUNT cube p1 p9 'a=1&a=2'"); got != "3\n" {
		t.Fatalf("expected 3, got %q", got)
	}
}

func TestGroupedCountReturnsMap(t *testing.T) {
	d, _ := newTestDispatcher()
	dispatch(t, d, "ADDCUBE cube")
	dispatch(t, d, "INSERT cube p1 a=val1 1")
	dispatch(t, d, "INSERT cube p2 a=val1 2")
	dispatch(t, d, "INSERT cube p2 a=val2 4")

	got := dispatch(t, d, "COUNT cube p1 p9 null a")
	want := "2\nval1 3\nval2 4\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPingAndQuit(t *testing.T) {
	d, _ := newTestDispatcher()
	if got := dispatch(t, d, "ping"); got != "PONG\n" {
		t.Fatalf("expected PONG (case-insensitive verb), got %q", got)
	}

	var buf bytes.Buffer
	w := NewWriter(bufio.NewWriter(&buf))
	err := d.Dispatch("QUIT", w)
	w.Flush()
	if err != errQuit {
		t.Fatalf("expected errQuit sentinel, got %v", err)
	}
	if buf.String() != "0\n" {
		t.Fatalf("expected OK reply before close, got %q", buf.String())
	}
}
