package world

import (
	"context"
	"time"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/blueprint"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []blueprint.ClientID
	var pendingInputs []InputEnvelope
	var pendingReplicated []protocol.ReplicateMsg

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingInputs = append(pendingInputs, env)
		case msg := <-w.replicate:
			pendingReplicated = append(pendingReplicated, msg)
		case <-ticker.C:
			w.stepInternal(ctx, pendingJoins, pendingLeaves, pendingInputs, pendingReplicated)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInputs = pendingInputs[:0]
			pendingReplicated = pendingReplicated[:0]
		}
	}
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server. It is intended for deterministic replays and
// tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []blueprint.ClientID, inputs []InputEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	digest = w.stepInternal(context.Background(), joins, leaves, inputs, nil)
	return tick, digest
}

// StepReplicated advances a peer by one tick after applying msgs.
func (w *World) StepReplicated(msgs ...protocol.ReplicateMsg) (tick uint64, digest string) {
	tick = w.tick.Load()
	digest = w.stepInternal(context.Background(), nil, nil, nil, msgs)
	return tick, digest
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.Tuning.TickRateHz
}

func (w *World) Mode() Mode { return w.cfg.Mode }

// sendLatest enqueues b, dropping the oldest queued message if the peer is
// behind.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

// trySend enqueues b only if there is room.
func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
