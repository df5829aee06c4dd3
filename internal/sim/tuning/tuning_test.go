package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: 30\nrollback_window: 8\nnet:\n  send_queue: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STARFORGE_ROLLBACK_WINDOW", "12")

	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 30 {
		t.Fatalf("tick rate: %d", got.TickRateHz)
	}
	if got.RollbackWindow != 12 {
		t.Fatalf("env override lost: %d", got.RollbackWindow)
	}
	if got.Net.SendQueue != 4 || got.Net.MaxPeers != Defaults().Net.MaxPeers {
		t.Fatalf("net: %+v", got.Net)
	}
	if got.SpawnPoints != 8 || got.SpawnPointRadius != 10 {
		t.Fatalf("defaults lost: %+v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STARFORGE_TICK_RATE_HZ", "0")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "tick_rate_hz") {
		t.Fatalf("expected tick rate error, got %v", err)
	}
	t.Setenv("STARFORGE_TICK_RATE_HZ", "fast")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ProtocolVersion == "" {
		t.Fatalf("protocol version missing")
	}
}
