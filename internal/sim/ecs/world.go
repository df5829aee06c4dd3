package ecs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Entity is an opaque handle owned by the World. Zero is never allocated.
type Entity uint64

// Epoch is a monotonically increasing write counter. Every attach, update and
// removal is stamped with a fresh epoch, so "added since last observation" is a
// comparison of two numbers.
type Epoch uint64

// ComponentType names a component store.
type ComponentType string

var (
	ErrNoEntity = errors.New("entity does not exist")
	ErrCycle    = errors.New("parent link would create a cycle")
)

type tombstone struct {
	e     Entity
	epoch Epoch
}

// World owns entities, their parent/child links and the registered stores.
type World struct {
	mu   sync.RWMutex
	next Entity

	alive    map[Entity]struct{}
	parents  map[Entity]Entity
	children map[Entity][]Entity

	stores []AnyStore
	byType map[ComponentType]AnyStore

	clock     atomic.Uint64
	despawned []tombstone
}

func NewWorld() *World {
	return &World{
		next:     1,
		alive:    map[Entity]struct{}{},
		parents:  map[Entity]Entity{},
		children: map[Entity][]Entity{},
		byType:   map[ComponentType]AnyStore{},
	}
}

// Mark returns the current epoch. Writes after Mark get a larger epoch.
func (w *World) Mark() Epoch { return Epoch(w.clock.Load()) }

func (w *World) bump() Epoch { return Epoch(w.clock.Add(1)) }

func (w *World) Spawn() Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.next
	w.next++
	w.alive[e] = struct{}{}
	return e
}

func (w *World) Alive(e Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.alive[e]
	return ok
}

func (w *World) EntityCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.alive)
}

// Despawn removes e, its components and, recursively, its children.
func (w *World) Despawn(e Entity) {
	w.mu.Lock()
	if _, ok := w.alive[e]; !ok {
		w.mu.Unlock()
		return
	}
	doomed := w.collectLocked(e, nil)
	for _, d := range doomed {
		delete(w.alive, d)
		delete(w.children, d)
		if p, ok := w.parents[d]; ok {
			w.unlinkLocked(d, p)
		}
		w.despawned = append(w.despawned, tombstone{e: d, epoch: w.bump()})
	}
	stores := append([]AnyStore(nil), w.stores...)
	w.mu.Unlock()

	for _, d := range doomed {
		for _, s := range stores {
			s.Remove(d)
		}
	}
}

func (w *World) collectLocked(e Entity, acc []Entity) []Entity {
	for _, c := range w.children[e] {
		acc = w.collectLocked(c, acc)
	}
	return append(acc, e)
}

// SetParent links child under parent, replacing any previous parent.
func (w *World) SetParent(child, parent Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.alive[child]; !ok {
		return fmt.Errorf("child %d: %w", child, ErrNoEntity)
	}
	if _, ok := w.alive[parent]; !ok {
		return fmt.Errorf("parent %d: %w", parent, ErrNoEntity)
	}
	for p, ok := parent, true; ok; p, ok = w.parents[p] {
		if p == child {
			return ErrCycle
		}
	}
	if old, ok := w.parents[child]; ok {
		w.unlinkLocked(child, old)
	}
	w.parents[child] = parent
	w.children[parent] = append(w.children[parent], child)
	return nil
}

func (w *World) unlinkLocked(child, parent Entity) {
	delete(w.parents, child)
	kids := w.children[parent]
	for i, k := range kids {
		if k == child {
			w.children[parent] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
}

func (w *World) Parent(child Entity) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.parents[child]
	return p, ok
}

// Children returns the children of parent in link order.
func (w *World) Children(parent Entity) []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Entity(nil), w.children[parent]...)
}

// Despawned returns entities despawned in the epoch window (from, to].
func (w *World) Despawned(from, to Epoch) []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Entity
	for _, t := range w.despawned {
		if t.epoch > from && t.epoch <= to {
			out = append(out, t.e)
		}
	}
	return out
}

// PruneDespawned forgets tombstones at or before epoch.
func (w *World) PruneDespawned(before Epoch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := sort.Search(len(w.despawned), func(i int) bool { return w.despawned[i].epoch > before })
	w.despawned = append(w.despawned[:0], w.despawned[i:]...)
}

func (w *World) register(s AnyStore) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.byType[s.Type()]; dup {
		panic(fmt.Sprintf("ecs: component type %q registered twice", s.Type()))
	}
	w.byType[s.Type()] = s
	w.stores = append(w.stores, s)
}

func (w *World) Store(t ComponentType) (AnyStore, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.byType[t]
	return s, ok
}

// Stores returns all stores in registration order.
func (w *World) Stores() []AnyStore {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]AnyStore(nil), w.stores...)
}
