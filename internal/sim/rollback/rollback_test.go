package rollback

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
)

// sim moves one body along X by the client's "speed" throttle each tick.
type sim struct {
	stores *components.Stores
	ship   ecs.Entity
	key    blueprint.BlockID
	buf    *Buffer
	runs   map[uint64]int
}

func newSim(window int) *sim {
	s := &sim{
		stores: components.NewStores(ecs.NewWorld()),
		key:    blueprint.NewBlockID(),
		runs:   map[uint64]int{},
	}
	s.ship = s.stores.World.Spawn()
	s.stores.Bodies.Set(s.ship, components.Body{Mass: 1, Dynamic: true})
	s.buf = New(window, s.step, s.stores.Bodies)
	return s
}

func (s *sim) step(_ context.Context, tick uint64) error {
	s.runs[tick]++
	speed := s.buf.InputsAt(tick)[1][s.key]
	s.stores.Bodies.Update(s.ship, func(b *components.Body) {
		b.Position = b.Position.Add(mgl64.Vec3{speed, 0, 0})
	})
	return nil
}

func (s *sim) advance(t *testing.T, tick uint64) {
	t.Helper()
	s.buf.Record(tick)
	if err := s.step(context.Background(), tick); err != nil {
		t.Fatal(err)
	}
}

func (s *sim) x() float64 {
	b, _ := s.stores.Bodies.Get(s.ship)
	return b.Position.X()
}

func TestCorrect_ReplaysFromCorrectedTick(t *testing.T) {
	s := newSim(DefaultWindow)
	for tick := uint64(0); tick < 10; tick++ {
		s.buf.SetInput(tick, 1, components.Throttles{s.key: 1})
		s.advance(t, tick)
	}
	if s.x() != 10 {
		t.Fatalf("baseline x=%v", s.x())
	}

	if err := s.buf.Correct(context.Background(), 6, 1, components.Throttles{s.key: 3}); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if s.x() != 12 {
		t.Fatalf("after correction x=%v want 12", s.x())
	}
	if s.runs[5] != 1 || s.runs[6] != 2 || s.runs[9] != 2 {
		t.Fatalf("replayed wrong ticks: %v", s.runs)
	}

	// Correcting again from an earlier tick uses the re-recorded frames.
	if err := s.buf.Correct(context.Background(), 2, 1, components.Throttles{s.key: 0}); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if s.x() != 11 {
		t.Fatalf("after second correction x=%v want 11", s.x())
	}
}

func TestCorrect_Window(t *testing.T) {
	s := newSim(4)
	for tick := uint64(0); tick < 10; tick++ {
		s.advance(t, tick)
	}
	if oldest, _ := s.buf.Oldest(); oldest != 6 {
		t.Fatalf("oldest=%d want 6", oldest)
	}
	if err := s.buf.Correct(context.Background(), 5, 1, nil); !errors.Is(err, ErrOutsideWindow) {
		t.Fatalf("expected ErrOutsideWindow, got %v", err)
	}
	if err := s.buf.Correct(context.Background(), 10, 1, nil); !errors.Is(err, ErrFutureTick) {
		t.Fatalf("expected ErrFutureTick, got %v", err)
	}
}

func TestRestoreKeepsAddedEpoch(t *testing.T) {
	s := newSim(DefaultWindow)
	w := s.stores.World
	before, _ := s.stores.Bodies.AddedAt(s.ship)
	mark := w.Mark()
	s.advance(t, 0)
	if err := s.buf.Correct(context.Background(), 0, 1, components.Throttles{s.key: 2}); err != nil {
		t.Fatal(err)
	}
	after, _ := s.stores.Bodies.AddedAt(s.ship)
	if after != before {
		t.Fatalf("restore re-attached body: %d -> %d", before, after)
	}
	if got := s.stores.Bodies.Added(mark, w.Mark()); len(got) != 0 {
		t.Fatalf("restore surfaced as an addition: %v", got)
	}
	if got := s.stores.Bodies.Changed(mark, w.Mark()); len(got) != 1 {
		t.Fatalf("restore should mark the body changed: %v", got)
	}
}

// drift moves every body +1 on X per tick and settles the tick afterwards.
type drift struct {
	stores *components.Stores
	buf    *Buffer
}

func newDrift() *drift {
	d := &drift{stores: components.NewStores(ecs.NewWorld())}
	d.buf = New(DefaultWindow, d.step, d.stores.Bodies)
	return d
}

func (d *drift) step(_ context.Context, tick uint64) error {
	for _, e := range d.stores.Bodies.Entities() {
		d.stores.Bodies.Update(e, func(b *components.Body) {
			b.Position = b.Position.Add(mgl64.Vec3{1, 0, 0})
		})
	}
	d.buf.Settle(tick, d.stores.World.Mark())
	return nil
}

func (d *drift) spawn() ecs.Entity {
	e := d.stores.World.Spawn()
	d.stores.Bodies.Set(e, components.Body{Mass: 1, Dynamic: true})
	return e
}

func (d *drift) body(e ecs.Entity) components.Body {
	b, _ := d.stores.Bodies.Get(e)
	return b
}

func TestCorrect_LateEntityStartsAtItsOwnTick(t *testing.T) {
	d := newDrift()
	w := d.stores.World
	early := d.spawn()
	var late ecs.Entity
	for tick := uint64(0); tick < 10; tick++ {
		if tick == 5 {
			late = d.spawn()
		}
		d.buf.Record(tick)
		if err := d.step(context.Background(), tick); err != nil {
			t.Fatal(err)
		}
	}
	if d.body(early).Position.X() != 10 || d.body(late).Position.X() != 5 {
		t.Fatalf("baseline early=%v late=%v", d.body(early).Position, d.body(late).Position)
	}
	addedLate, _ := d.stores.Bodies.AddedAt(late)

	mark := w.Mark()
	if err := d.buf.Correct(context.Background(), 2, 1, nil); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if x := d.body(early).Position.X(); x != 10 {
		t.Fatalf("early x=%v want 10", x)
	}
	if x := d.body(late).Position.X(); x != 5 {
		t.Fatalf("late x=%v want 5", x)
	}
	if got, _ := d.stores.Bodies.AddedAt(late); got != addedLate {
		t.Fatalf("late body re-attached: %d -> %d", addedLate, got)
	}
	if got := d.stores.Bodies.Added(mark, w.Mark()); len(got) != 0 {
		t.Fatalf("correction surfaced as additions: %v", got)
	}
	if got := d.stores.Bodies.Removed(mark, w.Mark()); len(got) != 0 {
		t.Fatalf("correction surfaced as removals: %v", got)
	}
	if got := d.stores.Bodies.Entities(); len(got) != 2 || got[0] != early || got[1] != late {
		t.Fatalf("order = %v", got)
	}
}

func TestCorrect_KeepsWritesMadeBetweenTicks(t *testing.T) {
	d := newDrift()
	e := d.spawn()
	for tick := uint64(0); tick < 8; tick++ {
		if tick == 6 {
			// Written at the tick boundary, outside the replayed systems.
			d.stores.Bodies.Update(e, func(b *components.Body) { b.Mass = 4 })
		}
		d.buf.Record(tick)
		if err := d.step(context.Background(), tick); err != nil {
			t.Fatal(err)
		}
	}

	if err := d.buf.Correct(context.Background(), 3, 1, nil); err != nil {
		t.Fatalf("correct: %v", err)
	}
	b := d.body(e)
	if b.Mass != 4 || b.Position.X() != 8 {
		t.Fatalf("after correction body = %+v, want mass 4 at x=8", b)
	}

	// A second correction through the re-recorded frames agrees.
	if err := d.buf.Correct(context.Background(), 1, 1, nil); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if b := d.body(e); b.Mass != 4 || b.Position.X() != 8 {
		t.Fatalf("after second correction body = %+v", b)
	}
}
