package world

import (
	"log"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/tuning"
)

// Mode selects which side of the replication boundary a world runs on.
type Mode int

const (
	// Authority simulates and sends replication.
	Authority Mode = iota
	// Peer applies received replication and only hydrates.
	Peer
)

func (m Mode) String() string {
	if m == Peer {
		return "peer"
	}
	return "authority"
}

type Config struct {
	ID     string
	Mode   Mode
	Tuning tuning.Tuning
	Assets assets.Factory
	Logger *log.Logger
}

type JoinRequest struct {
	Name     string
	Spectate bool
	Out      chan []byte
	Resp     chan JoinResponse
}

// JoinResponse carries either a WELCOME or a rejection code.
type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Code    string
	Message string
}

type InputEnvelope struct {
	ClientID blueprint.ClientID
	Input    protocol.InputMsg
}

type RecordedJoin struct {
	ClientID blueprint.ClientID `json:"client_id"`
	Name     string             `json:"name"`
	Spectate bool               `json:"spectate,omitempty"`
}

type RecordedInput struct {
	ClientID  blueprint.ClientID `json:"client_id"`
	Tick      uint64             `json:"tick"`
	Throttles map[string]float64 `json:"throttles"`
	Stale     bool               `json:"stale,omitempty"`
}

// RecordedCorrection is a rollback applied while processing a late input.
type RecordedCorrection struct {
	ClientID blueprint.ClientID `json:"client_id"`
	FromTick uint64             `json:"from_tick"`
	ToTick   uint64             `json:"to_tick"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick        uint64               `json:"tick"`
	Joins       []RecordedJoin       `json:"joins,omitempty"`
	Leaves      []blueprint.ClientID `json:"leaves,omitempty"`
	Inputs      []RecordedInput      `json:"inputs,omitempty"`
	Corrections []RecordedCorrection `json:"corrections,omitempty"`
	Digest      string               `json:"digest"`
}
