package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Name: "test", Interval: time.Hour, AlignToStart: true}, nopLogger())

	now := time.Date(2026, 9, 1, 10, 17, 0, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("aligned next tick: got %s, want %s", next, want)
	}

	// Exactly on the boundary schedules the following interval.
	next = s.nextTick(want)
	if !next.Equal(want.Add(time.Hour)) {
		t.Fatalf("boundary next tick: got %s", next)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Name: "test", Interval: 15 * time.Minute}, nopLogger())

	now := time.Date(2026, 9, 1, 10, 17, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unaligned next tick: got %s", got)
	}
}

func TestDailyNextFiring(t *testing.T) {
	d := NewDaily(9, "digest", nopLogger())

	before := time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)
	if got := d.nextFiring(before); !got.Equal(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("before the hour: got %s", got)
	}

	after := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)
	if got := d.nextFiring(after); !got.Equal(time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("after the hour: got %s", got)
	}

	exact := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if got := d.nextFiring(exact); !got.Equal(time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("exactly on the hour schedules tomorrow: got %s", got)
	}
}
