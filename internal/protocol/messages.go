package protocol

import "encoding/json"

// HELLO (peer -> authority)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	ClientName        string   `json:"client_name"`

	// Spectate joins without a ship.
	Spectate bool `json:"spectate,omitempty"`
}

// WELCOME (authority -> peer)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ClientID        uint64      `json:"client_id"`
	SessionID       string      `json:"session_id,omitempty"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz       int     `json:"tick_rate_hz"`
	SpawnPoints      int     `json:"spawn_points"`
	SpawnPointRadius float64 `json:"spawn_point_radius"`
	RollbackWindow   int     `json:"rollback_window"`
	Seed             int64   `json:"seed"`
}

// ComponentRecord carries one replicated component value.
type ComponentRecord struct {
	Entity    uint64          `json:"entity"`
	Component string          `json:"component"`
	Data      json.RawMessage `json:"data"`
}

type RemovedRecord struct {
	Entity    uint64 `json:"entity"`
	Component string `json:"component"`
}

// REPLICATE (authority -> peer): every replicated change in (from, to].
// Full is set when the peer must treat the message as a resync.
type ReplicateMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Tick            uint64            `json:"tick"`
	From            uint64            `json:"from_epoch"`
	To              uint64            `json:"to_epoch"`
	Full            bool              `json:"full,omitempty"`
	Parents         map[string]uint64 `json:"parents,omitempty"`
	Added           []ComponentRecord `json:"added"`
	Changed         []ComponentRecord `json:"changed"`
	Removed         []RemovedRecord   `json:"removed"`
	Despawned       []uint64          `json:"despawned"`
}

// INPUT (peer -> authority): thruster throttles keyed by block id. Tick is
// the tick the peer simulated the input for; late inputs are rolled back in.
type InputMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	Tick            uint64             `json:"tick"`
	Throttles       map[string]float64 `json:"throttles"`
}

// CORRECTION (authority -> peer) reports a rollback applied on the authority.
type CorrectionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FromTick        uint64 `json:"from_tick"`
	ToTick          uint64 `json:"to_tick"`
	ClientID        uint64 `json:"client_id"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
