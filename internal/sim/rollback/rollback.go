// Package rollback keeps a short history of authoritative state and inputs
// so a late input can be applied to the tick it belongs to and the
// simulation replayed up to the present.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
)

const DefaultWindow = 16

var (
	ErrOutsideWindow = errors.New("tick outside rollback window")
	ErrFutureTick    = errors.New("tick not simulated yet")
)

// ReplayFunc re-simulates one tick. It must not run hydration or any other
// system that creates entities.
type ReplayFunc func(ctx context.Context, tick uint64) error

type frame []any

type Buffer struct {
	mu     sync.Mutex
	window uint64
	state  []ecs.Snapshotter
	replay ReplayFunc

	frames map[uint64]frame
	inputs map[uint64]map[blueprint.ClientID]components.Throttles
	// settled is the epoch at which the replayed systems finished a tick.
	// Writes after it and before the next frame came from systems a replay
	// does not run.
	settled map[uint64]ecs.Epoch
	last   uint64
	seeded bool

	replays int
}

func New(window int, replay ReplayFunc, state ...ecs.Snapshotter) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		window: uint64(window),
		state:  state,
		replay: replay,
		frames:  map[uint64]frame{},
		inputs:  map[uint64]map[blueprint.ClientID]components.Throttles{},
		settled: map[uint64]ecs.Epoch{},
	}
}

func (b *Buffer) capture() frame {
	f := make(frame, len(b.state))
	for i, s := range b.state {
		f[i] = s.Snapshot()
	}
	return f
}

// Record stores the state as it is before tick is simulated.
func (b *Buffer) Record(tick uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames[tick] = b.capture()
	b.last, b.seeded = tick, true
	if tick >= b.window {
		floor := tick - b.window + 1
		for t := range b.frames {
			if t < floor {
				delete(b.frames, t)
			}
		}
		for t := range b.inputs {
			if t < floor {
				delete(b.inputs, t)
			}
		}
		for t := range b.settled {
			if t+1 < floor {
				delete(b.settled, t)
			}
		}
	}
}

// Settle records the epoch at which the replayed systems finished tick.
func (b *Buffer) Settle(tick uint64, at ecs.Epoch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settled[tick] = at
}

func (b *Buffer) SetInput(tick uint64, client blueprint.ClientID, t components.Throttles) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setInputLocked(tick, client, t)
}

func (b *Buffer) setInputLocked(tick uint64, client blueprint.ClientID, t components.Throttles) {
	m := b.inputs[tick]
	if m == nil {
		m = map[blueprint.ClientID]components.Throttles{}
		b.inputs[tick] = m
	}
	m[client] = t.Clone()
}

// InputsAt returns a copy of the inputs recorded for tick.
func (b *Buffer) InputsAt(tick uint64) map[blueprint.ClientID]components.Throttles {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.inputs[tick]
	out := make(map[blueprint.ClientID]components.Throttles, len(src))
	for k, v := range src {
		out[k] = v.Clone()
	}
	return out
}

// Correct replaces client's input at tick, restores the state recorded
// before tick and replays every tick from there through the last recorded
// one. State that appeared between ticks without being simulated (spawned
// entities, joins) is merged back in at the tick it first showed up, so an
// entity spawned after tick is not stepped through ticks before it existed.
// Frames after tick are re-recorded on the way.
func (b *Buffer) Correct(ctx context.Context, tick uint64, client blueprint.ClientID, t components.Throttles) error {
	b.mu.Lock()
	if !b.seeded || tick > b.last {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d (last %d)", ErrFutureTick, tick, b.last)
	}
	start, ok := b.frames[tick]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrOutsideWindow, tick)
	}
	b.setInputLocked(tick, client, t)
	last := b.last
	orig := make(map[uint64]frame, last-tick)
	settled := make(map[uint64]ecs.Epoch, len(b.settled))
	for cur := tick + 1; cur <= last; cur++ {
		orig[cur] = b.frames[cur]
	}
	for k, v := range b.settled {
		settled[k] = v
	}
	present := b.capture()
	for i, s := range b.state {
		s.Restore(start[i])
	}
	b.mu.Unlock()

	for cur := tick; cur <= last; cur++ {
		if cur != tick {
			b.mu.Lock()
			b.merge(orig[cur], settledAt(settled, cur-1))
			b.frames[cur] = b.capture()
			b.mu.Unlock()
		}
		if err := b.replay(ctx, cur); err != nil {
			return fmt.Errorf("replay tick %d: %w", cur, err)
		}
	}
	b.mu.Lock()
	b.merge(present, settledAt(settled, last))
	b.replays++
	b.mu.Unlock()
	return nil
}

// settledAt returns the settle epoch of tick. Without one only missing
// entries are merged.
func settledAt(settled map[uint64]ecs.Epoch, tick uint64) ecs.Epoch {
	if at, ok := settled[tick]; ok {
		return at
	}
	return ecs.Epoch(math.MaxUint64)
}

func (b *Buffer) merge(f frame, since ecs.Epoch) {
	for i, s := range b.state {
		if m, ok := s.(ecs.Merger); ok && f != nil {
			m.Merge(f[i], since)
		}
	}
}

// Oldest is the earliest tick Correct accepts.
func (b *Buffer) Oldest() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return 0, false
	}
	oldest := b.last
	for t := range b.frames {
		if t < oldest {
			oldest = t
		}
	}
	return oldest, true
}

func (b *Buffer) Replays() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replays
}
