package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestClockIn(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	clk := In(loc)
	if got := clk.Now().Location(); got != loc {
		t.Fatalf("expected %v, got %v", loc, got)
	}
	if got := In(nil).Now().Location(); got != time.UTC {
		t.Fatalf("nil location should fall back to UTC, got %v", got)
	}
	if _, err := time.Parse(time.DateOnly, clk.Today()); err != nil {
		t.Fatalf("Today() = %q: %v", clk.Today(), err)
	}
}

func TestZeroClockIsUsable(t *testing.T) {
	t.Parallel()

	var clk *Clock
	if clk.Now().Location() != time.UTC {
		t.Fatal("nil clock should report UTC")
	}
}
