package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/rollback"
	"starforge.io/internal/sim/schedule"
)

func (w *World) stepInternal(ctx context.Context, joins []JoinRequest, leaves []blueprint.ClientID, inputs []InputEnvelope, replicated []protocol.ReplicateMsg) string {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Apply leaves and joins deterministically at tick boundary.
	recordedLeaves := make([]blueprint.ClientID, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.clients[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinClient(req, nowTick)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.Code == "" {
			recordedJoins = append(recordedJoins, RecordedJoin{ClientID: blueprint.ClientID(resp.Welcome.ClientID), Name: req.Name, Spectate: req.Spectate})
		}
	}

	w.pendingInputs = inputs
	w.pendingReplicated = replicated
	w.tickInputs = w.tickInputs[:0]
	w.tickCorrections = w.tickCorrections[:0]

	for _, p := range schedule.Phases() {
		// The rollback frame for this tick is the state movement starts from.
		if p == schedule.PlayerMovement && w.rollback != nil {
			w.rollback.Record(nowTick)
		}
		if err := w.pipeline.RunPhase(ctx, p, nowTick); err != nil {
			w.stepErrors++
			w.log.Printf("[world] tick=%d aborted: %v", nowTick, err)
			break
		}
		if p == schedule.ExecuteGameLogic && w.rollback != nil {
			w.rollback.Settle(nowTick, w.ecs.Mark())
		}
	}
	w.pendingInputs = nil
	w.pendingReplicated = nil
	if w.cfg.Mode == Peer {
		// Nobody collects from a peer; hydration has seen every removal.
		w.registry.Prune(w.ecs.Mark())
	}

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:        nowTick,
			Joins:       recordedJoins,
			Leaves:      recordedLeaves,
			Inputs:      append([]RecordedInput(nil), w.tickInputs...),
			Corrections: append([]RecordedCorrection(nil), w.tickCorrections...),
			Digest:      digest,
		})
	}

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.Tuning.SnapshotEveryTicks > 0 {
		every := uint64(w.cfg.Tuning.SnapshotEveryTicks)
		if nowTick%every == 0 {
			snap, err := w.ExportSnapshot(nowTick)
			if err != nil {
				w.log.Printf("[world] tick=%d export snapshot: %v", nowTick, err)
			} else {
				select {
				case w.snapshotSink <- snap:
				default:
					// Drop snapshot if sink is backed up.
				}
			}
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.storeMetrics(nextTick, stepMS)
	return digest
}

func (w *World) handleLeave(id blueprint.ClientID) {
	delete(w.clients, id)
	if w.lobby != nil {
		w.lobby.Leave(id)
	}
	w.log.Printf("[world] client=%s disconnected", id)
}

func (w *World) joinClient(req JoinRequest, nowTick uint64) JoinResponse {
	if w.cfg.Mode != Authority {
		return JoinResponse{Code: protocol.ErrBadRequest, Message: "peer worlds do not accept joins"}
	}
	if limit := w.cfg.Tuning.Net.MaxPeers; limit > 0 && len(w.clients) >= limit {
		return JoinResponse{Code: protocol.ErrWorldBusy, Message: fmt.Sprintf("world is full (%d peers)", limit)}
	}
	w.nextClient++
	id := blueprint.ClientID(w.nextClient)
	w.clients[id] = &clientState{ID: id, Name: req.Name, Out: req.Out}
	if !req.Spectate {
		w.lobby.Join(id)
	}
	w.log.Printf("[world] tick=%d client=%s name=%q spectate=%v connected", nowTick, id, req.Name, req.Spectate)

	t := w.cfg.Tuning
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ClientID:        uint64(id),
		SessionID:       uuid.NewString(),
		Tick:            nowTick,
		WorldParams: protocol.WorldParams{
			TickRateHz:       t.TickRateHz,
			SpawnPoints:      t.SpawnPoints,
			SpawnPointRadius: t.SpawnPointRadius,
			RollbackWindow:   t.RollbackWindow,
			Seed:             t.Seed,
		},
	}}
}

func (w *World) receiveSystem() schedule.System {
	acc := schedule.Reads(components.TypePlayer, components.TypeThruster).
		Write(components.ResNetwork, components.ResInputs)
	if w.cfg.Mode == Peer {
		acc = w.registry.Access().Write(components.ResNetwork)
	}
	return schedule.System{
		Name:   "net.receive",
		Phase:  schedule.Receive,
		Access: acc,
		Run:    w.receive,
	}
}

func (w *World) receive(ctx context.Context, tick uint64) error {
	if w.cfg.Mode == Peer {
		for _, msg := range w.pendingReplicated {
			// Apply logs each bad record itself and keeps the good ones.
			_ = w.registry.Apply(msg)
		}
		return ctx.Err()
	}
	for _, env := range w.pendingInputs {
		if err := w.applyInput(ctx, tick, env); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// applyInput files an INPUT under the tick it was meant for. Inputs for a
// tick that already ran are rolled back in; ones older than the rollback
// window apply now and are acked as stale.
func (w *World) applyInput(ctx context.Context, nowTick uint64, env InputEnvelope) error {
	c := w.clients[env.ClientID]
	if c == nil {
		return nil
	}
	throttles, code, err := w.checkThrottles(c.ID, env.Input.Throttles)
	if err != nil {
		w.ack(c, nowTick, code, err.Error())
		return nil
	}
	rec := RecordedInput{ClientID: c.ID, Tick: env.Input.Tick, Throttles: env.Input.Throttles}
	at := env.Input.Tick
	switch {
	case at == 0 || at == nowTick:
		rec.Tick = nowTick
		w.rollback.SetInput(nowTick, c.ID, throttles)
	case at > nowTick:
		if at-nowTick > uint64(w.cfg.Tuning.RollbackWindow) {
			w.ack(c, nowTick, protocol.ErrBadRequest, fmt.Sprintf("tick %d too far ahead", at))
			return nil
		}
		w.rollback.SetInput(at, c.ID, throttles)
	default:
		err := w.rollback.Correct(ctx, at, c.ID, throttles)
		switch {
		case errors.Is(err, rollback.ErrOutsideWindow), errors.Is(err, rollback.ErrFutureTick):
			w.staleInputs++
			rec.Stale = true
			w.rollback.SetInput(nowTick, c.ID, throttles)
			w.ack(c, nowTick, protocol.ErrStale, err.Error())
		case err != nil:
			return fmt.Errorf("correct client=%s tick=%d: %w", c.ID, at, err)
		default:
			corr := RecordedCorrection{ClientID: c.ID, FromTick: at, ToTick: nowTick - 1}
			w.tickCorrections = append(w.tickCorrections, corr)
			w.sendJSON(c, protocol.CorrectionMsg{
				Type:            protocol.TypeCorrection,
				ProtocolVersion: protocol.Version,
				FromTick:        corr.FromTick,
				ToTick:          corr.ToTick,
				ClientID:        uint64(c.ID),
			})
		}
	}
	w.tickInputs = append(w.tickInputs, rec)
	return nil
}

// checkThrottles parses throttle keys and makes sure each names a thruster on
// the client's own ship.
func (w *World) checkThrottles(id blueprint.ClientID, in map[string]float64) (components.Throttles, string, error) {
	out := make(components.Throttles, len(in))
	for k, v := range in {
		bid, err := blueprint.ParseBlockID(k)
		if err != nil {
			return nil, protocol.ErrBadRequest, fmt.Errorf("throttle key %q: %w", k, err)
		}
		out[bid] = v
	}
	if len(out) == 0 {
		return out, "", nil
	}
	ship, ok := w.lobby.Entity(id)
	if !ok {
		return nil, protocol.ErrBadRequest, errors.New("client has no ship")
	}
	owned := map[blueprint.BlockID]struct{}{}
	for _, c := range w.ecs.Children(ship) {
		if th, ok := w.stores.Thrusters.Get(c); ok {
			owned[th.ID] = struct{}{}
		}
	}
	for bid := range out {
		if _, ok := owned[bid]; !ok {
			return nil, protocol.ErrUnknownBlock, fmt.Errorf("block %s is not a thruster of this ship", bid)
		}
	}
	return out, "", nil
}

func (w *World) ack(c *clientState, nowTick uint64, code, msg string) {
	w.sendJSON(c, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          protocol.TypeInput,
		Accepted:        code == "",
		Code:            code,
		Message:         msg,
		ServerTick:      nowTick,
	})
}

func (w *World) sendJSON(c *clientState, v any) {
	if c.Out == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = trySend(c.Out, b)
}

func (w *World) sendSystem() schedule.System {
	return schedule.System{
		Name:   "net.send",
		Phase:  schedule.Send,
		Access: schedule.Reads(w.registry.Types()...).Write(components.ResNetwork),
		Run:    w.send,
	}
}

// send replicates everything each client has not seen yet. A client whose
// queue is full misses a delta, so it is resynced with a full message.
func (w *World) send(ctx context.Context, tick uint64) error {
	mark := w.ecs.Mark()
	floor := mark
	for _, id := range w.clientIDs() {
		c := w.clients[id]
		if c.Out == nil {
			continue
		}
		msg, err := w.registry.Collect(tick, c.lastSent, mark)
		if err != nil {
			return err
		}
		if !msg.Full && emptyDelta(msg) {
			c.lastSent = mark
			continue
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal replicate client=%s: %w", id, err)
		}
		switch {
		case msg.Full:
			sendLatest(c.Out, b)
			c.lastSent = mark
		case trySend(c.Out, b):
			c.lastSent = mark
		default:
			c.lastSent = 0
			w.resyncs++
		}
		if c.lastSent > 0 && c.lastSent < floor {
			floor = c.lastSent
		}
	}
	w.registry.Prune(floor)
	return ctx.Err()
}

func emptyDelta(msg protocol.ReplicateMsg) bool {
	return len(msg.Added) == 0 && len(msg.Changed) == 0 && len(msg.Removed) == 0 && len(msg.Despawned) == 0
}

func (w *World) clientIDs() []blueprint.ClientID {
	ids := make([]blueprint.ClientID, 0, len(w.clients))
	for id := range w.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// lastSent reports the epoch a client has been replicated up to.
func (w *World) lastSent(id blueprint.ClientID) (ecs.Epoch, bool) {
	c, ok := w.clients[id]
	if !ok {
		return 0, false
	}
	return c.lastSent, true
}
