package main

import (
	"fmt"
	"io"

	"starforge.io/internal/persistence/indexdb"
	"starforge.io/internal/sim/world"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(rw io.Writer, worldID string, tick uint64, m world.WorldMetrics, idx *indexdb.Stats) {
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(rw, "# HELP starforge_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_tick gauge\n")
	fmt.Fprintf(rw, "starforge_world_tick{world=%q} %d\n", worldID, tick)

	fmt.Fprintf(rw, "# HELP starforge_world_entities Live entities.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_entities gauge\n")
	fmt.Fprintf(rw, "starforge_world_entities{world=%q} %d\n", worldID, m.Entities)

	fmt.Fprintf(rw, "# HELP starforge_world_clients Current number of connected peers.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_clients gauge\n")
	fmt.Fprintf(rw, "starforge_world_clients{world=%q} %d\n", worldID, m.Clients)

	fmt.Fprintf(rw, "# HELP starforge_world_players Current number of player ships.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_players gauge\n")
	fmt.Fprintf(rw, "starforge_world_players{world=%q} %d\n", worldID, m.Players)

	fmt.Fprintf(rw, "# HELP starforge_world_spawn_points Spawn points by occupancy.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_spawn_points gauge\n")
	fmt.Fprintf(rw, "starforge_world_spawn_points{world=%q,state=%q} %d\n", worldID, "free", m.FreeSpawnPoints)
	fmt.Fprintf(rw, "starforge_world_spawn_points{world=%q,state=%q} %d\n", worldID, "occupied", m.SpawnPoints-m.FreeSpawnPoints)

	fmt.Fprintf(rw, "# HELP starforge_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "starforge_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "starforge_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "starforge_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "starforge_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "replicate", m.QueueDepths.Replicate)

	fmt.Fprintf(rw, "# HELP starforge_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE starforge_world_step_ms gauge\n")
	fmt.Fprintf(rw, "starforge_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	fmt.Fprintf(rw, "# HELP starforge_hydrations_total Blueprint instances hydrated.\n")
	fmt.Fprintf(rw, "# TYPE starforge_hydrations_total counter\n")
	fmt.Fprintf(rw, "starforge_hydrations_total{world=%q,contract=%q} %d\n", worldID, "player", m.Hydrations.Players)
	fmt.Fprintf(rw, "starforge_hydrations_total{world=%q,contract=%q} %d\n", worldID, "spawn_point", m.Hydrations.SpawnPoints)
	fmt.Fprintf(rw, "starforge_hydrations_total{world=%q,contract=%q} %d\n", worldID, "block", m.Hydrations.Blocks)

	fmt.Fprintf(rw, "# HELP starforge_assets_cached Cached asset handles.\n")
	fmt.Fprintf(rw, "# TYPE starforge_assets_cached gauge\n")
	fmt.Fprintf(rw, "starforge_assets_cached{world=%q,kind=%q} %d\n", worldID, "mesh", m.Assets.Meshes)
	fmt.Fprintf(rw, "starforge_assets_cached{world=%q,kind=%q} %d\n", worldID, "material", m.Assets.Materials)

	fmt.Fprintf(rw, "# HELP starforge_assets_missing_total Asset lookups that fell back to a placeholder.\n")
	fmt.Fprintf(rw, "# TYPE starforge_assets_missing_total counter\n")
	fmt.Fprintf(rw, "starforge_assets_missing_total{world=%q} %d\n", worldID, m.Assets.Missing)

	fmt.Fprintf(rw, "# HELP starforge_rollbacks_total Late inputs replayed through game logic.\n")
	fmt.Fprintf(rw, "# TYPE starforge_rollbacks_total counter\n")
	fmt.Fprintf(rw, "starforge_rollbacks_total{world=%q} %d\n", worldID, m.Rollbacks)

	fmt.Fprintf(rw, "# HELP starforge_stale_inputs_total Inputs older than the rollback window.\n")
	fmt.Fprintf(rw, "# TYPE starforge_stale_inputs_total counter\n")
	fmt.Fprintf(rw, "starforge_stale_inputs_total{world=%q} %d\n", worldID, m.StaleInputs)

	fmt.Fprintf(rw, "# HELP starforge_resyncs_total Peers resynced after a full send queue.\n")
	fmt.Fprintf(rw, "# TYPE starforge_resyncs_total counter\n")
	fmt.Fprintf(rw, "starforge_resyncs_total{world=%q} %d\n", worldID, m.Resyncs)

	fmt.Fprintf(rw, "# HELP starforge_step_errors_total Ticks aborted by a system error.\n")
	fmt.Fprintf(rw, "# TYPE starforge_step_errors_total counter\n")
	fmt.Fprintf(rw, "starforge_step_errors_total{world=%q} %d\n", worldID, m.StepErrors)

	if idx == nil {
		return
	}
	fmt.Fprintf(rw, "# HELP starforge_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE starforge_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "starforge_index_queue_depth{world=%q} %d\n", worldID, idx.QueueDepth)

	fmt.Fprintf(rw, "# HELP starforge_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE starforge_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "starforge_index_queue_capacity{world=%q} %d\n", worldID, idx.QueueCapacity)

	fmt.Fprintf(rw, "# HELP starforge_index_dropped_total Index records dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE starforge_index_dropped_total counter\n")
	fmt.Fprintf(rw, "starforge_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", idx.DropTickTotal)
	fmt.Fprintf(rw, "starforge_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", idx.DropSnapshotTotal)
}
