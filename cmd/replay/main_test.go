package main

import (
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	persistlog "starforge.io/internal/persistence/log"
	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
)

func newWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(world.Config{ID: "replay-test", Mode: world.Authority, Tuning: tuning.Defaults(), Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return w
}

// record runs a short session and returns the tick log files.
func record(t *testing.T, ticks int) []string {
	t.Helper()
	dir := t.TempDir()
	l := persistlog.NewTickLogger(dir)
	w := newWorld(t)
	w.SetTickLogger(l)
	for i := 0; i < ticks; i++ {
		var joins []world.JoinRequest
		var inputs []world.InputEnvelope
		switch i {
		case 0:
			joins = []world.JoinRequest{{Name: "alice"}}
		case 2:
			joins = []world.JoinRequest{{Name: "bob", Spectate: true}}
		case 6:
			// late input for tick 4 forces a rollback
			inputs = []world.InputEnvelope{{ClientID: 1, Input: protocol.InputMsg{Tick: 4, Throttles: map[string]float64{}}}}
		case 7:
			inputs = []world.InputEnvelope{{ClientID: 1, Input: protocol.InputMsg{Throttles: map[string]float64{}}}}
		}
		w.StepOnce(joins, nil, inputs)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}
	files, err := persistlog.ListTickFiles(filepath.Join(dir, "events"))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	return files
}

func TestReplay_DigestsMatch(t *testing.T) {
	files := record(t, 10)
	checked, err := replay(newWorld(t), files, 0, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 10 {
		t.Fatalf("checked = %d", checked)
	}
}

func TestReplay_StopsAtToTick(t *testing.T) {
	files := record(t, 10)
	w := newWorld(t)
	checked, err := replay(w, files, 3, 5)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 3 || w.CurrentTick() != 6 {
		t.Fatalf("checked=%d tick=%d", checked, w.CurrentTick())
	}
}

func TestReplay_DetectsDivergence(t *testing.T) {
	files := record(t, 4)
	w := newWorld(t)
	// Tick 0 without alice's join: the log's tick 1 has a ship this world lacks.
	w.StepOnce(nil, nil, nil)
	_, err := replay(w, files, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 1") {
		t.Fatalf("err = %v", err)
	}
}
