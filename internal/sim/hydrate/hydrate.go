// Package hydrate turns freshly attached blueprint components into full
// local game objects exactly once per component instance.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/schedule"
)

var ErrOrphanChild = errors.New("orphan child blueprint")

// Hydrated marks that the blueprint instance attached at Instance has been
// expanded. Children lists the entities spawned for it.
type Hydrated struct {
	Instance ecs.Epoch
	Children []ecs.Entity
}

// Spawner lets a contract create embedded children. Each child entity is
// parented to the owner and carries its own blueprint component, which the
// child-level system expands later.
type Spawner struct {
	stores *components.Stores
	owner  ecs.Entity
	out    []ecs.Entity
}

func (s *Spawner) Child(attach func(e ecs.Entity)) ecs.Entity {
	e := s.stores.World.Spawn()
	if err := s.stores.World.SetParent(e, s.owner); err != nil {
		panic(fmt.Sprintf("hydrate: parent fresh child: %v", err))
	}
	attach(e)
	s.out = append(s.out, e)
	return e
}

func (s *Spawner) Owner() ecs.Entity { return s.owner }

// Contract describes how one blueprint kind is expanded.
type Contract[B any] struct {
	Name string

	// Stamp must be deterministic. Its only side effect is filling the
	// asset cache.
	Stamp func(bp B, ctx *assets.Context) components.Bundle

	// Children spawns embedded blueprints, if the kind has any.
	Children func(bp B, sp *Spawner)

	// RequiresParent marks child-level blueprints.
	RequiresParent bool

	// Writes lists extra stores Children touches.
	Writes []ecs.ComponentType
}

type Options struct {
	// Debug turns structural errors such as orphan children into panics.
	Debug  bool
	Logger *log.Logger
}

// System is the per-kind hydration system. It only considers instances whose
// attachment epoch falls in (seen, mark] so every instance is visited once.
type System[B any] struct {
	contract   Contract[B]
	source     *ecs.Store[B]
	typ        ecs.ComponentType
	stores     *components.Stores
	assets     *assets.Context
	marks      *ecs.Store[Hydrated]
	opts       Options
	seen       ecs.Epoch
	hydrations int
}

// New registers the Hydrated marker store for the contract and returns the
// system. source must be one of the stores in s.
func New[B any](c Contract[B], source *ecs.Store[B], s *components.Stores, a *assets.Context, opts Options) *System[B] {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &System[B]{
		contract: c,
		source:   source,
		typ:      source.Type(),
		stores:   s,
		assets:   a,
		marks:    ecs.Register[Hydrated](s.World, MarkerType(c.Name)),
		opts:     opts,
	}
}

func MarkerType(contract string) ecs.ComponentType {
	return ecs.ComponentType("hydrated:" + contract)
}

// Run hydrates every instance attached since the previous run.
func (h *System[B]) Run(ctx context.Context, _ uint64) error {
	mark := h.stores.World.Mark()
	for _, e := range h.source.Added(h.seen, mark) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.hydrate(e); err != nil {
			if h.opts.Debug {
				panic(err)
			}
			h.opts.Logger.Printf("[hydrate] skip %s entity=%d: %v", h.contract.Name, e, err)
		}
	}
	for _, e := range h.source.Removed(h.seen, mark) {
		if h.source.Has(e) {
			continue
		}
		if m, ok := h.marks.Get(e); ok {
			for _, c := range m.Children {
				h.stores.World.Despawn(c)
			}
			h.stores.Detach(e)
			h.marks.Remove(e)
		}
	}
	h.seen = mark
	return nil
}

// Hydrate expands e immediately, for world creation code that needs the
// result inside the same system.
func (h *System[B]) Hydrate(e ecs.Entity) error { return h.hydrate(e) }

func (h *System[B]) hydrate(e ecs.Entity) error {
	bp, ok := h.source.Get(e)
	if !ok {
		return nil
	}
	instance, _ := h.source.AddedAt(e)
	if m, ok := h.marks.Get(e); ok {
		if m.Instance == instance {
			return nil
		}
		// A new instance replaced the old one: its derived children go.
		for _, c := range m.Children {
			h.stores.World.Despawn(c)
		}
	}
	if h.contract.RequiresParent {
		p, ok := h.stores.World.Parent(e)
		if !ok || !h.stores.World.Alive(p) {
			return fmt.Errorf("%w: %s entity=%d", ErrOrphanChild, h.contract.Name, e)
		}
	}

	h.stores.Attach(e, h.contract.Stamp(bp, h.assets))
	var children []ecs.Entity
	if h.contract.Children != nil {
		sp := &Spawner{stores: h.stores, owner: e}
		h.contract.Children(bp, sp)
		children = sp.out
	}
	h.marks.Set(e, Hydrated{Instance: instance, Children: children})
	h.hydrations++
	return nil
}

// Hydrations counts successful expansions.
func (h *System[B]) Hydrations() int { return h.hydrations }

func (h *System[B]) IsHydrated(e ecs.Entity) bool {
	m, ok := h.marks.Get(e)
	if !ok {
		return false
	}
	instance, ok := h.source.AddedAt(e)
	return ok && instance == m.Instance
}

func (h *System[B]) Access() schedule.Access {
	acc := schedule.Reads(h.typ).
		Write(components.BundleTypes...).
		Write(MarkerType(h.contract.Name), components.ResAssets)
	return acc.Write(h.contract.Writes...)
}

// Schedule returns the system bound to BlueprintExpansion.
func (h *System[B]) Schedule(after ...string) schedule.System {
	return schedule.System{
		Name:   "hydrate." + h.contract.Name,
		Phase:  schedule.BlueprintExpansion,
		Access: h.Access(),
		After:  after,
		Run:    h.Run,
	}
}
