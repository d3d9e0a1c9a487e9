package protocol

import (
	"testing"

	"github.com/cubedb/cubedb/internal/intern"
)

func TestParseRowLastValueWins(t *testing.T) {
	in := intern.New()
	row, err := ParseRow("a=1&a=2", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	col, _ := in.Columns.Lookup("a")
	val := row[col]
	if in.Values.Resolve(val) != "2" {
		t.Fatalf("expected last value '2' to win, got %q", in.Values.Resolve(val))
	}
}

func TestParseFilterIsAnyOfWithinColumn(t *testing.T) {
	in := intern.New()
	in.Columns.Intern("a")
	in.Values.Intern("1")
	in.Values.Intern("2")

	f, err := ParseFilter("a=1&a=2", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	col, _ := in.Columns.Lookup("a")
	if len(f[col]) != 2 {
		t.Fatalf("expected 2 allowed values, got %d", len(f[col]))
	}
}

func TestParseFilterNullMeansNoFilter(t *testing.T) {
	in := intern.New()
	f, err := ParseFilter("null", in)
	if err != nil || f != nil {
		t.Fatalf("expected nil filter for 'null', got %v, err %v", f, err)
	}
	f, err = ParseFilter("", in)
	if err != nil || f != nil {
		t.Fatalf("expected nil filter for '', got %v, err %v", f, err)
	}
}

func TestParseFilterUnknownValueMatchesNothingWithoutPollutingTable(t *testing.T) {
	in := intern.New()
	before := in.Values.Len()

	f, err := ParseFilter("a=never-seen", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Values.Len() != before {
		t.Fatalf("filter lookup must not intern new values")
	}
	col, _ := in.Columns.Lookup("a")
	if len(f[col]) != 0 {
		t.Fatalf("expected no allowed values for a value that was never interned")
	}
}

func TestParseGroupNullMeansNoGrouping(t *testing.T) {
	in := intern.New()
	if _, ok := ParseGroup("null", in); ok {
		t.Fatalf("expected ok=false for 'null'")
	}
	if _, ok := ParseGroup("", in); ok {
		t.Fatalf("expected ok=false for ''")
	}
}

func TestSplitPairRejectsMissingEquals(t *testing.T) {
	in := intern.New()
	if _, err := ParseRow("noequalshere", in); err == nil {
		t.Fatalf("expected an error for a kv pair missing '='")
	}
}
