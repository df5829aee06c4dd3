package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"starforge.io/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used to find the latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	entities := fs.Bool("entities", false, "print one line per entity")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(summarize(snap))
	if *entities {
		for _, e := range snap.Entities {
			types := make([]string, 0, len(e.Components))
			for _, c := range e.Components {
				types = append(types, c.Type)
			}
			printJSON(struct {
				ID         uint64   `json:"id"`
				Parent     uint64   `json:"parent,omitempty"`
				Components []string `json:"components"`
			}{e.ID, e.Parent, types})
		}
	}
}

type snapshotSummary struct {
	Version    int            `json:"version"`
	WorldID    string         `json:"world_id"`
	Tick       uint64         `json:"tick"`
	Seed       int64          `json:"seed"`
	TickRate   int            `json:"tick_rate_hz"`
	Entities   int            `json:"entities"`
	Roots      int            `json:"roots"`
	Components map[string]int `json:"components"`
	NextClient uint64         `json:"next_client"`
}

func summarize(s snapshot.SnapshotV1) snapshotSummary {
	out := snapshotSummary{
		Version:    s.Header.Version,
		WorldID:    s.Header.WorldID,
		Tick:       s.Header.Tick,
		Seed:       s.Seed,
		TickRate:   s.TickRate,
		Entities:   len(s.Entities),
		Components: map[string]int{},
		NextClient: s.Counters.NextClient,
	}
	for _, e := range s.Entities {
		if e.Parent == 0 {
			out.Roots++
		}
		for _, c := range e.Components {
			out.Components[c.Type]++
		}
	}
	return out
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	type cand struct {
		tick uint64
		path string
	}
	var cands []cand
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{tick, filepath.Join(dir, name)})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick > cands[j].tick })
	return cands[0].path
}
