package ecs

import (
	"sort"
	"sync"
)

// AnyStore provides type-erased operations so the World can manage all stores
// uniformly.
type AnyStore interface {
	Type() ComponentType
	Has(e Entity) bool
	Remove(e Entity) bool
	Count() int
	Entities() []Entity
}

// Snapshotter captures and restores store contents for rollback.
type Snapshotter interface {
	Snapshot() any
	Restore(snap any)
}

// Merger is implemented by snapshotters whose contents can also change
// outside the replayed systems.
type Merger interface {
	Merge(snap any, since Epoch)
}

type entry[T any] struct {
	val     T
	added   Epoch
	changed Epoch
}

// Store holds every component of type T, keyed by entity, and remembers the
// epoch each value was attached and last written.
type Store[T any] struct {
	typ   ComponentType
	world *World

	mu      sync.RWMutex
	entries map[Entity]entry[T]
	order   []Entity
	removed []tombstone
}

// Register creates the store for T under typ. Registering a type twice is a
// configuration bug and panics.
func Register[T any](w *World, typ ComponentType) *Store[T] {
	s := &Store[T]{
		typ:     typ,
		world:   w,
		entries: map[Entity]entry[T]{},
		order:   make([]Entity, 0, 64),
	}
	w.register(s)
	return s
}

func (s *Store[T]) Type() ComponentType { return s.typ }

// Set attaches or overwrites the component. A fresh attachment gets a new
// added epoch; an overwrite only moves the changed epoch.
func (s *Store[T]) Set(e Entity, v T) bool {
	if !s.world.Alive(e) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.world.bump()
	if cur, ok := s.entries[e]; ok {
		cur.val = v
		cur.changed = ep
		s.entries[e] = cur
		return true
	}
	s.entries[e] = entry[T]{val: v, added: ep, changed: ep}
	s.order = append(s.order, e)
	return true
}

// Insert attaches v only when e has no component of this type yet.
func (s *Store[T]) Insert(e Entity, v T) bool {
	if !s.world.Alive(e) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e]; ok {
		return false
	}
	ep := s.world.bump()
	s.entries[e] = entry[T]{val: v, added: ep, changed: ep}
	s.order = append(s.order, e)
	return true
}

// Update mutates the component in place and stamps it changed.
func (s *Store[T]) Update(e Entity, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[e]
	if !ok {
		return false
	}
	fn(&cur.val)
	cur.changed = s.world.bump()
	s.entries[e] = cur
	return true
}

func (s *Store[T]) Get(e Entity) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.entries[e]
	return cur.val, ok
}

func (s *Store[T]) Has(e Entity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[e]
	return ok
}

// AddedAt returns the epoch at which the current instance was attached.
func (s *Store[T]) AddedAt(e Entity) (Epoch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.entries[e]
	return cur.added, ok
}

func (s *Store[T]) Remove(e Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e]; !ok {
		return false
	}
	delete(s.entries, e)
	for i, x := range s.order {
		if x == e {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.removed = append(s.removed, tombstone{e: e, epoch: s.world.bump()})
	return true
}

func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entities returns holders in attachment order.
func (s *Store[T]) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entity(nil), s.order...)
}

// Each visits components in attachment order until fn returns false.
func (s *Store[T]) Each(fn func(e Entity, v T) bool) {
	for _, e := range s.Entities() {
		v, ok := s.Get(e)
		if !ok {
			continue
		}
		if !fn(e, v) {
			return
		}
	}
}

// Added returns entities whose current instance was attached in (from, to],
// ordered by attachment epoch.
func (s *Store[T]) Added(from, to Epoch) []Entity {
	return s.window(from, to, func(x entry[T]) Epoch { return x.added })
}

// Changed returns entities written in (from, to], attachments included.
func (s *Store[T]) Changed(from, to Epoch) []Entity {
	return s.window(from, to, func(x entry[T]) Epoch { return x.changed })
}

func (s *Store[T]) window(from, to Epoch, pick func(entry[T]) Epoch) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type hit struct {
		e  Entity
		ep Epoch
	}
	var hits []hit
	for _, e := range s.order {
		ep := pick(s.entries[e])
		if ep > from && ep <= to {
			hits = append(hits, hit{e: e, ep: ep})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ep < hits[j].ep })
	out := make([]Entity, len(hits))
	for i, h := range hits {
		out[i] = h.e
	}
	return out
}

// Removed returns entities whose component was detached in (from, to].
func (s *Store[T]) Removed(from, to Epoch) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entity
	for _, t := range s.removed {
		if t.epoch > from && t.epoch <= to {
			out = append(out, t.e)
		}
	}
	return out
}

func (s *Store[T]) PruneRemoved(before Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.removed), func(i int) bool { return s.removed[i].epoch > before })
	s.removed = append(s.removed[:0], s.removed[i:]...)
}

type storeSnapshot[T any] struct {
	entries map[Entity]entry[T]
}

func (s *Store[T]) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[Entity]entry[T], len(s.entries))
	for e, x := range s.entries {
		cp[e] = x
	}
	return storeSnapshot[T]{entries: cp}
}

// Restore makes the store equal to snap. Entries attached after the snapshot
// are detached without a tombstone: the rollback that restores them merges
// them back at the tick they first existed. Restored entries keep their added
// epoch so a restore never looks like a new attachment.
func (s *Store[T]) Restore(snap any) {
	ss, ok := snap.(storeSnapshot[T])
	if !ok {
		return
	}
	keep := s.aliveIn(ss)
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := range s.entries {
		if _, ok := ss.entries[e]; !ok {
			delete(s.entries, e)
		}
	}
	for _, e := range keep {
		x := ss.entries[e]
		x.changed = s.world.bump()
		s.entries[e] = x
	}
	s.reorderLocked()
}

// Merge takes back state written outside a replay: entries of snap missing
// here are attached with their original added epoch, and entries snap wrote
// after since overwrite the live value.
func (s *Store[T]) Merge(snap any, since Epoch) {
	ss, ok := snap.(storeSnapshot[T])
	if !ok {
		return
	}
	keep := s.aliveIn(ss)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range keep {
		x := ss.entries[e]
		if _, present := s.entries[e]; present && x.changed <= since {
			continue
		}
		x.changed = s.world.bump()
		s.entries[e] = x
	}
	s.reorderLocked()
}

// aliveIn lists the live entities of ss in attachment order.
func (s *Store[T]) aliveIn(ss storeSnapshot[T]) []Entity {
	out := make([]Entity, 0, len(ss.entries))
	for e := range ss.entries {
		if s.world.Alive(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := ss.entries[out[i]].added, ss.entries[out[j]].added
		if ai != aj {
			return ai < aj
		}
		return out[i] < out[j]
	})
	return out
}

func (s *Store[T]) reorderLocked() {
	s.order = s.order[:0]
	for e := range s.entries {
		s.order = append(s.order, e)
	}
	sort.Slice(s.order, func(i, j int) bool {
		ai, aj := s.entries[s.order[i]].added, s.entries[s.order[j]].added
		if ai != aj {
			return ai < aj
		}
		return s.order[i] < s.order[j]
	})
}
