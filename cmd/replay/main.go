package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	persistlog "starforge.io/internal/persistence/log"
	"starforge.io/internal/persistence/snapshot"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; replays from tick 0 when empty)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml used for a fresh world")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		verbose    = flag.Bool("v", false, "print world logs")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	var snap *snapshot.SnapshotV1
	worldID := "replay"
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d seed=%d entities=%d next_client=%d\n",
			s.Header.Version, s.Header.WorldID, s.Header.Tick, s.Seed, len(s.Entities), s.Counters.NextClient)
		tune.Seed = s.Seed
		tune.TickRateHz = s.TickRate
		tune.SpawnPoints = s.SpawnPoints
		tune.SpawnPointRadius = s.SpawnPointRadius
		tune.RollbackWindow = s.RollbackWindow
		worldID = s.Header.WorldID
		snap = &s
	}

	if *eventsDir == "" {
		if snap == nil {
			fmt.Fprintln(os.Stderr, "missing -events")
			os.Exit(2)
		}
		return
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	w, err := world.New(world.Config{
		ID:     worldID,
		Mode:   world.Authority,
		Tuning: tune,
		Logger: log.New(logOut, "", log.Lmicroseconds),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}
	if snap != nil {
		if err := w.ImportSnapshot(*snap); err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
	}

	files, err := persistlog.ListTickFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	startTick := w.CurrentTick()
	checked, err := replay(w, files, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", checked, startTick)
}

var errDone = errors.New("replay: reached to_tick")

// replay steps w through the recorded ticks and compares digests for every
// tick at or after verifyFrom. Entries before the world's current tick are
// skipped.
func replay(w *world.World, files []string, verifyFrom, toTick uint64) (uint64, error) {
	startTick := w.CurrentTick()
	if verifyFrom == 0 {
		verifyFrom = startTick
	}
	var checked uint64
	for _, path := range files {
		err := persistlog.EachTick(path, func(entry world.TickLogEntry) error {
			if entry.Tick < startTick {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return errDone
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
			}
			tick, digest := w.StepOnce(joinsOf(entry), entry.Leaves, inputsOf(entry))
			if tick != entry.Tick {
				return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, filepath.Base(path))
			}
			if tick >= verifyFrom {
				checked++
				if digest != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, digest, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errDone) {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}

func joinsOf(entry world.TickLogEntry) []world.JoinRequest {
	out := make([]world.JoinRequest, 0, len(entry.Joins))
	for _, j := range entry.Joins {
		out = append(out, world.JoinRequest{Name: j.Name, Spectate: j.Spectate})
	}
	return out
}

func inputsOf(entry world.TickLogEntry) []world.InputEnvelope {
	out := make([]world.InputEnvelope, 0, len(entry.Inputs))
	for _, in := range entry.Inputs {
		env := world.InputEnvelope{ClientID: in.ClientID}
		env.Input.Tick = in.Tick
		env.Input.Throttles = in.Throttles
		out = append(out, env)
	}
	return out
}
