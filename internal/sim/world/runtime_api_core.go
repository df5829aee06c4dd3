package world

import (
	"starforge.io/internal/persistence/snapshot"
	"starforge.io/internal/protocol"
	"starforge.io/internal/replication"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/schedule"
)

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ExportSnapshot(nowTick uint64) (snapshot.SnapshotV1, error) {
	return w.exportSnapshot(nowTick)
}

// ImportSnapshot loads the snapshot into a freshly created world and sets
// the tick to snapshotTick+1 (the next tick to simulate).
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	return w.importSnapshotV1(s)
}

func (w *World) Inbox() chan<- InputEnvelope             { return w.inbox }
func (w *World) Join() chan<- JoinRequest                { return w.join }
func (w *World) Leave() chan<- blueprint.ClientID        { return w.leave }
func (w *World) Replicate() chan<- protocol.ReplicateMsg { return w.replicate }
func (w *World) CurrentTick() uint64                     { return w.tick.Load() }
func (w *World) Stores() *components.Stores              { return w.stores }
func (w *World) Registry() *replication.Registry         { return w.registry }
func (w *World) Pipeline() *schedule.Schedule            { return w.pipeline }

// Hydrations counts expansions per contract family.
func (w *World) Hydrations() (players, spawnPoints, blocks int) {
	return w.hyd.Players.Hydrations(),
		w.hyd.SpawnPoints.Hydrations(),
		w.hyd.Structures.Hydrations() + w.hyd.Thrusters.Hydrations()
}
