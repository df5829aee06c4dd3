package log

import (
	"path/filepath"
	"testing"

	"starforge.io/internal/sim/world"
)

func TestTickLogger_WriteThenRead(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for tick := uint64(0); tick < 3; tick++ {
		entry := world.TickLogEntry{Tick: tick, Digest: "d"}
		if tick == 1 {
			entry.Joins = []world.RecordedJoin{{ClientID: 1, Name: "alice"}}
			entry.Inputs = []world.RecordedInput{{ClientID: 1, Tick: 1, Throttles: map[string]float64{}}}
		}
		if err := l.WriteTick(entry); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListTickFiles(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	var got []world.TickLogEntry
	if err := EachTick(files[0], func(e world.TickLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[1].Joins[0].Name != "alice" || got[1].Inputs[0].ClientID != 1 {
		t.Fatalf("entries = %+v", got)
	}
}

func TestTickLogger_SegmentsByTick(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLoggerSegments(dir, 2)
	for tick := uint64(0); tick < 5; tick++ {
		if err := l.WriteTick(world.TickLogEntry{Tick: tick}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening an existing segment appends to it.
	l = NewTickLoggerSegments(dir, 2)
	if err := l.WriteTick(world.TickLogEntry{Tick: 5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListTickFiles(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 3 || filepath.Base(files[2]) != "events-00000000000000000004.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}
	var ticks []uint64
	for _, f := range files {
		if err := EachTick(f, func(e world.TickLogEntry) error {
			ticks = append(ticks, e.Tick)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	for i, tick := range ticks {
		if tick != uint64(i) {
			t.Fatalf("ticks = %v", ticks)
		}
	}
	if len(ticks) != 6 {
		t.Fatalf("ticks = %v", ticks)
	}
}
