package world

import "starforge.io/internal/sim/assets"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`
	Mode string `json:"mode"`

	Entities        int `json:"entities"`
	Clients         int `json:"clients"`
	Players         int `json:"players"`
	SpawnPoints     int `json:"spawn_points"`
	FreeSpawnPoints int `json:"free_spawn_points"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Hydrations HydrationMetrics `json:"hydrations"`
	Assets     assets.Stats     `json:"assets"`

	Rollbacks   int    `json:"rollbacks"`
	StaleInputs uint64 `json:"stale_inputs"`
	Resyncs     uint64 `json:"resyncs"`
	StepErrors  uint64 `json:"step_errors"`
}

type QueueDepths struct {
	Inbox     int `json:"inbox"`
	Join      int `json:"join"`
	Leave     int `json:"leave"`
	Replicate int `json:"replicate"`
}

type HydrationMetrics struct {
	Players     int `json:"players"`
	SpawnPoints int `json:"spawn_points"`
	Blocks      int `json:"blocks"`
}

func (w *World) storeMetrics(nextTick uint64, stepMS float64) {
	free := 0
	for _, e := range w.stores.SpawnPoints.Entities() {
		sp, _ := w.stores.SpawnPoints.Get(e)
		if _, occupied := sp.Occupant(); !occupied {
			free++
		}
	}
	p, sp, b := w.Hydrations()
	m := WorldMetrics{
		Tick:            nextTick,
		Mode:            w.cfg.Mode.String(),
		Entities:        w.ecs.EntityCount(),
		Clients:         len(w.clients),
		Players:         w.stores.Players.Count(),
		SpawnPoints:     w.stores.SpawnPoints.Count(),
		FreeSpawnPoints: free,
		QueueDepths: QueueDepths{
			Inbox:     len(w.inbox),
			Join:      len(w.join),
			Leave:     len(w.leave),
			Replicate: len(w.replicate),
		},
		StepMS:      stepMS,
		Hydrations:  HydrationMetrics{Players: p, SpawnPoints: sp, Blocks: b},
		Assets:      w.assets.Stats(),
		Resyncs:     w.resyncs,
		StaleInputs: w.staleInputs,
		StepErrors:  w.stepErrors,
	}
	if w.rollback != nil {
		m.Rollbacks = w.rollback.Replays()
	}
	w.metrics.Store(m)
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

