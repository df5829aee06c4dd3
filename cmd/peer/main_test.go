package main

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/world"
)

func TestNewPeerWorld_UsesWelcomeParams(t *testing.T) {
	welcome := protocol.WelcomeMsg{
		ClientID: 3,
		WorldParams: protocol.WorldParams{
			TickRateHz:       30,
			SpawnPoints:      4,
			SpawnPointRadius: 6,
			RollbackWindow:   8,
			Seed:             5,
		},
	}
	w, err := newPeerWorld(welcome, filepath.Join(t.TempDir(), "missing.yaml"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("newPeerWorld: %v", err)
	}
	if w.Mode() != world.Peer || w.TickRateHz() != 30 {
		t.Fatalf("mode=%s tick_rate=%d", w.Mode(), w.TickRateHz())
	}
	for _, name := range w.Pipeline().Systems() {
		if name == world.GameLogicSystem {
			t.Fatalf("peer pipeline runs game logic")
		}
	}
}
