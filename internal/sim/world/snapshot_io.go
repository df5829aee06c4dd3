package world

import (
	"errors"
	"fmt"
	"strconv"

	"starforge.io/internal/persistence/snapshot"
	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
)

var ErrWorldNotEmpty = errors.New("world already has entities")

func (w *World) exportSnapshot(nowTick uint64) (snapshot.SnapshotV1, error) {
	t := w.cfg.Tuning
	snap := snapshot.SnapshotV1{
		Header:             snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: nowTick},
		Seed:               t.Seed,
		TickRate:           t.TickRateHz,
		SpawnPoints:        t.SpawnPoints,
		SpawnPointRadius:   t.SpawnPointRadius,
		RollbackWindow:     t.RollbackWindow,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Counters:           snapshot.CountersV1{NextClient: w.nextClient},
	}
	msg, err := w.registry.Collect(nowTick, 0, w.ecs.Mark())
	if err != nil {
		return snap, err
	}
	// Added is in attachment order, which import must preserve per entity.
	index := map[uint64]int{}
	for _, rec := range msg.Added {
		i, ok := index[rec.Entity]
		if !ok {
			i = len(snap.Entities)
			index[rec.Entity] = i
			ent := snapshot.EntityV1{ID: rec.Entity}
			if p, ok := msg.Parents[strconv.FormatUint(rec.Entity, 10)]; ok {
				ent.Parent = p
			}
			snap.Entities = append(snap.Entities, ent)
		}
		snap.Entities[i].Components = append(snap.Entities[i].Components, snapshot.ComponentV1{
			Type: rec.Component,
			Data: append([]byte(nil), rec.Data...),
		})
	}
	return snap, nil
}

// importSnapshotV1 rebuilds the replicated state of s into an empty world.
// Player ships are session state and are not restored; their spawn points
// come back unoccupied.
func (w *World) importSnapshotV1(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("snapshot version %d not supported", s.Header.Version)
	}
	if w.ecs.EntityCount() > 0 {
		return ErrWorldNotEmpty
	}
	msg := protocol.ReplicateMsg{
		Type:            protocol.TypeReplicate,
		ProtocolVersion: protocol.Version,
		Tick:            s.Header.Tick,
		Full:            true,
	}
	for _, ent := range s.Entities {
		if ent.Has(string(components.TypePlayerBlueprint)) {
			continue
		}
		for _, c := range ent.Components {
			msg.Added = append(msg.Added, protocol.ComponentRecord{Entity: ent.ID, Component: c.Type, Data: c.Data})
		}
		if ent.Parent != 0 {
			if msg.Parents == nil {
				msg.Parents = map[string]uint64{}
			}
			msg.Parents[strconv.FormatUint(ent.ID, 10)] = ent.Parent
		}
	}
	if err := w.registry.Apply(msg); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}

	w.stores.SpawnPoints.Each(func(e ecs.Entity, sp components.SpawnPoint) bool {
		if _, ok := sp.Occupant(); ok {
			w.stores.SpawnPoints.Update(e, func(x *components.SpawnPoint) { x.Vacate() })
		}
		return true
	})
	// Joins in the first resumed tick need expanded spawn points.
	for _, e := range w.stores.SpawnPointBlueprints.Entities() {
		if err := w.hyd.SpawnPoints.Hydrate(e); err != nil {
			return fmt.Errorf("hydrate spawn point %d: %w", e, err)
		}
	}
	w.nextClient = s.Counters.NextClient
	w.tick.Store(s.Header.Tick + 1)
	return nil
}
