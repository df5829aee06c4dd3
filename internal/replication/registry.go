// Package replication moves opted-in component types between an authority
// and its peers. The authority collects every change in an epoch window; a
// peer applies them onto its own entities.
package replication

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/schedule"
)

var (
	ErrUnknownComponent = errors.New("unknown replicated component")
	ErrDuplicateType    = errors.New("component type already replicated")
)

type validator interface{ Validate() error }

// binding is the type-erased view of one replicated store.
type binding interface {
	typ() ecs.ComponentType
	added(from, to ecs.Epoch) []ecs.Entity
	changed(from, to ecs.Epoch) []ecs.Entity
	removed(from, to ecs.Epoch) []ecs.Entity
	epochs(e ecs.Entity) (added ecs.Epoch, ok bool)
	encode(e ecs.Entity) (json.RawMessage, bool, error)
	apply(e ecs.Entity, raw json.RawMessage) error
	drop(e ecs.Entity)
	prune(before ecs.Epoch)
}

type storeBinding[T any] struct {
	store *ecs.Store[T]
}

func (b storeBinding[T]) typ() ecs.ComponentType { return b.store.Type() }

func (b storeBinding[T]) added(from, to ecs.Epoch) []ecs.Entity { return b.store.Added(from, to) }

func (b storeBinding[T]) changed(from, to ecs.Epoch) []ecs.Entity { return b.store.Changed(from, to) }

func (b storeBinding[T]) removed(from, to ecs.Epoch) []ecs.Entity { return b.store.Removed(from, to) }

func (b storeBinding[T]) epochs(e ecs.Entity) (ecs.Epoch, bool) { return b.store.AddedAt(e) }

func (b storeBinding[T]) encode(e ecs.Entity) (json.RawMessage, bool, error) {
	v, ok := b.store.Get(e)
	if !ok {
		return nil, false, nil
	}
	raw, err := json.Marshal(v)
	return raw, true, err
}

// apply overwrites an existing component in place so a redelivered record
// never looks like a new attachment.
func (b storeBinding[T]) apply(e ecs.Entity, raw json.RawMessage) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if vv, ok := any(v).(validator); ok {
		if err := vv.Validate(); err != nil {
			return err
		}
	}
	b.store.Set(e, v)
	return nil
}

func (b storeBinding[T]) drop(e ecs.Entity) { b.store.Remove(e) }

func (b storeBinding[T]) prune(before ecs.Epoch) { b.store.PruneRemoved(before) }

type Registry struct {
	world *ecs.World
	log   *log.Logger

	mu       sync.Mutex
	bindings []binding
	byType   map[ecs.ComponentType]binding

	// peer side: authority entity -> local entity
	remote map[uint64]ecs.Entity
}

func NewRegistry(w *ecs.World, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		world:  w,
		log:    logger,
		byType: map[ecs.ComponentType]binding{},
		remote: map[uint64]ecs.Entity{},
	}
}

// Register opts the store's component type into replication. Types that
// implement Validate() error are validated on apply.
func Register[T any](r *Registry, s *ecs.Store[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byType[s.Type()]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateType, s.Type())
	}
	b := storeBinding[T]{store: s}
	r.bindings = append(r.bindings, b)
	r.byType[s.Type()] = b
	return nil
}

// Types lists the replicated component types in registration order.
func (r *Registry) Types() []ecs.ComponentType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ecs.ComponentType, len(r.bindings))
	for i, b := range r.bindings {
		out[i] = b.typ()
	}
	return out
}

type record struct {
	epoch ecs.Epoch
	rec   protocol.ComponentRecord
}

// Collect gathers every replicated change in (from, to]. A zero from yields
// a full snapshot of the current state.
func (r *Registry) Collect(tick uint64, from, to ecs.Epoch) (protocol.ReplicateMsg, error) {
	r.mu.Lock()
	bindings := append([]binding(nil), r.bindings...)
	r.mu.Unlock()

	msg := protocol.ReplicateMsg{
		Type:            protocol.TypeReplicate,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		From:            uint64(from),
		To:              uint64(to),
		Full:            from == 0,
		Added:           []protocol.ComponentRecord{},
		Changed:         []protocol.ComponentRecord{},
		Removed:         []protocol.RemovedRecord{},
		Despawned:       []uint64{},
	}

	var added, changed []record
	touched := map[ecs.Entity]struct{}{}
	for _, b := range bindings {
		addedHere := map[ecs.Entity]struct{}{}
		for _, e := range b.added(from, to) {
			raw, ok, err := b.encode(e)
			if err != nil {
				return msg, fmt.Errorf("encode %s entity=%d: %w", b.typ(), e, err)
			}
			if !ok {
				continue
			}
			ep, _ := b.epochs(e)
			addedHere[e] = struct{}{}
			touched[e] = struct{}{}
			added = append(added, record{epoch: ep, rec: protocol.ComponentRecord{Entity: uint64(e), Component: string(b.typ()), Data: raw}})
		}
		for _, e := range b.changed(from, to) {
			if _, dup := addedHere[e]; dup {
				continue
			}
			raw, ok, err := b.encode(e)
			if err != nil {
				return msg, fmt.Errorf("encode %s entity=%d: %w", b.typ(), e, err)
			}
			if !ok {
				continue
			}
			ep, _ := b.epochs(e)
			changed = append(changed, record{epoch: ep, rec: protocol.ComponentRecord{Entity: uint64(e), Component: string(b.typ()), Data: raw}})
		}
		if from > 0 {
			for _, e := range b.removed(from, to) {
				msg.Removed = append(msg.Removed, protocol.RemovedRecord{Entity: uint64(e), Component: string(b.typ())})
			}
		}
	}
	// Records of one entity keep their attachment order across types.
	sort.SliceStable(added, func(i, j int) bool { return added[i].epoch < added[j].epoch })
	sort.SliceStable(changed, func(i, j int) bool { return changed[i].rec.Entity < changed[j].rec.Entity })
	for _, x := range added {
		msg.Added = append(msg.Added, x.rec)
	}
	for _, x := range changed {
		msg.Changed = append(msg.Changed, x.rec)
	}
	if from > 0 {
		for _, e := range r.world.Despawned(from, to) {
			msg.Despawned = append(msg.Despawned, uint64(e))
		}
	}
	for e := range touched {
		if p, ok := r.world.Parent(e); ok {
			if msg.Parents == nil {
				msg.Parents = map[string]uint64{}
			}
			msg.Parents[strconv.FormatUint(uint64(e), 10)] = uint64(p)
		}
	}
	return msg, nil
}

// Apply brings the local world in line with msg. Despawns and removals are
// applied before additions so a remove+re-add on the authority arrives as a
// fresh instance here.
func (r *Registry) Apply(msg protocol.ReplicateMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Full {
		present := map[uint64]struct{}{}
		for _, rec := range msg.Added {
			present[rec.Entity] = struct{}{}
		}
		for remote, local := range r.remote {
			if _, ok := present[remote]; !ok {
				r.world.Despawn(local)
				delete(r.remote, remote)
			}
		}
	}
	for _, remote := range msg.Despawned {
		if local, ok := r.remote[remote]; ok {
			r.world.Despawn(local)
			delete(r.remote, remote)
		}
	}
	for _, rm := range msg.Removed {
		b, ok := r.byType[ecs.ComponentType(rm.Component)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownComponent, rm.Component)
		}
		if local, ok := r.remote[rm.Entity]; ok {
			b.drop(local)
		}
	}

	var errs []error
	apply := func(rec protocol.ComponentRecord) {
		b, ok := r.byType[ecs.ComponentType(rec.Component)]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownComponent, rec.Component))
			return
		}
		local := r.localLocked(rec.Entity)
		if err := b.apply(local, rec.Data); err != nil {
			errs = append(errs, fmt.Errorf("apply %s remote=%d: %w", rec.Component, rec.Entity, err))
		}
	}
	for _, rec := range msg.Added {
		apply(rec)
	}
	for _, rec := range msg.Changed {
		apply(rec)
	}
	for child, parent := range msg.Parents {
		id, err := strconv.ParseUint(child, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("parent key %q: %w", child, err))
			continue
		}
		if err := r.world.SetParent(r.localLocked(id), r.localLocked(parent)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, err := range errs {
		r.log.Printf("[replication] tick=%d %v", msg.Tick, err)
	}
	return errors.Join(errs...)
}

func (r *Registry) localLocked(remote uint64) ecs.Entity {
	if local, ok := r.remote[remote]; ok {
		return local
	}
	local := r.world.Spawn()
	r.remote[remote] = local
	return local
}

// Local returns the local entity mirroring an authority entity.
func (r *Registry) Local(remote uint64) (ecs.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.remote[remote]
	return e, ok
}

// Prune forgets tombstones every peer has already been sent.
func (r *Registry) Prune(before ecs.Epoch) {
	r.mu.Lock()
	bindings := append([]binding(nil), r.bindings...)
	r.mu.Unlock()
	for _, b := range bindings {
		b.prune(before)
	}
	r.world.PruneDespawned(before)
}

func (r *Registry) Access() schedule.Access {
	return schedule.Access{Writes: r.Types()}
}
