package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ugshanyu/space-craft-standalone/internal/sim"
	"github.com/ugshanyu/space-craft-standalone/internal/webhook"
)

const (
	ProtocolVersion = "2"

	// CloseMatchTerminated is sent to surviving peers when a mid-match
	// disconnect terminates the match.
	CloseMatchTerminated = 4001

	minPlayers = 2
	maxPlayers = 2

	// latencyEMAWeight is the share the previous smoothed value keeps on
	// each new latency sample.
	latencyEMAWeight = 0.8

	// maxClientClockSkewMs bounds |now - client_sent_at_ms| before a sample
	// is considered garbage and ignored.
	maxClientClockSkewMs = 2000
)

var (
	ErrRoomNotRunning = errors.New("room is not running")
	ErrRoomFull       = errors.New("room is full")
)

// StaleInputError rejects a sequence number at or below the last accepted
// one. ExpectedGt is echoed to the client.
type StaleInputError struct {
	ExpectedGt int64
}

func (e *StaleInputError) Error() string {
	return fmt.Sprintf("stale input: seq must exceed %d", e.ExpectedGt)
}

// Sender is one session's outbound half. Send must not block the room tick;
// implementations enqueue and report false once the socket is closing.
// CloseWithCode initiates a close handshake with the given status code.
type Sender interface {
	Send(frame []byte) bool
	CloseWithCode(code int, reason string)
}

// Session binds a session id to a user and its socket.
type Session struct {
	ID     string
	UserID string
	Conn   Sender
}

// InputPayload is the action data of one input message.
type InputPayload struct {
	Turn           float64  `json:"turn"`
	Thrust         float64  `json:"thrust"`
	Fire           bool     `json:"fire"`
	FirePressed    bool     `json:"fire_pressed"`
	FireSeq        int64    `json:"fire_seq"`
	ClientSentAtMs *float64 `json:"client_sent_at_ms,omitempty"`
	LagCompMs      float64  `json:"lag_comp_ms"`
}

// Profile is the static deploy profile stamped on every frame.
type Profile struct {
	Region string `json:"deploy_region"`
	SimHz  int    `json:"sim_hz"`
	NetHz  int    `json:"net_hz"`
}

// Options wires a room's collaborators and cadence.
type Options struct {
	Profile           Profile
	FullSnapshotEvery int // in network ticks; defaults to NetHz
	Signer            *webhook.Signer
	ServiceID         string
	Archive           *Archive
	Metrics           *Metrics
	Logger            *slog.Logger

	// OnClosed is invoked once when the room tears down, after any webhook
	// submission. The registry uses it to deregister.
	OnClosed func(roomID string)

	// now is swappable for tests.
	now func() time.Time
}

// Room owns one match: at most two participants, their sessions, the
// latest-wins input slots, the world, and the tick scheduler. All state is
// guarded by mu; the scheduler goroutine is the only caller of tick.
type Room struct {
	ID string

	mu          sync.Mutex
	sessions    map[string]*Session // session id -> session
	players     []string            // user ids in join order
	lastSeq     map[string]int64
	ackSeq      map[string]int64
	latencyEMA  map[string]float64
	latestInput map[string]*InputPayload

	world   *sim.World
	prevNet *NetState
	netTick int64

	running   bool
	finished  bool
	stopCh    chan struct{}
	closeOnce sync.Once

	opts   Options
	logger *slog.Logger
}

// NewRoom builds an idle room. The world is created by MaybeStart once both
// participants have joined.
func NewRoom(id string, opts Options) *Room {
	if opts.Profile.SimHz <= 0 {
		opts.Profile.SimHz = 60
	}
	if opts.Profile.NetHz <= 0 {
		opts.Profile.NetHz = opts.Profile.SimHz
	}
	if opts.FullSnapshotEvery <= 0 {
		opts.FullSnapshotEvery = opts.Profile.NetHz
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Room{
		ID:          id,
		sessions:    make(map[string]*Session),
		lastSeq:     make(map[string]int64),
		ackSeq:      make(map[string]int64),
		latencyEMA:  make(map[string]float64),
		latestInput: make(map[string]*InputPayload),
		opts:        opts,
		logger:      opts.Logger.With("component", "room", "room_id", id),
	}
}

// JoinInfo is the payload of joined / player_joined frames.
type JoinInfo struct {
	RoomID     string   `json:"room_id"`
	PlayerID   string   `json:"player_id"`
	PlayerIDs  []string `json:"player_ids"`
	WaitingFor int      `json:"waiting_for"`
}

// UpsertSession adds a session to the room, or recognizes a reconnect with
// the same session id. Rejoining is idempotent: the session table holds the
// session exactly once and no second player_joined is broadcast.
func (r *Room) UpsertSession(sess *Session) (JoinInfo, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sess.ID]; ok {
		// Reconnect: adopt the new socket for the same session.
		existing.Conn = sess.Conn
		return r.joinInfoLocked(sess.UserID), false, nil
	}

	known := false
	for _, id := range r.players {
		if id == sess.UserID {
			known = true
			break
		}
	}
	if !known {
		if len(r.players) >= maxPlayers {
			return JoinInfo{}, false, ErrRoomFull
		}
		r.players = append(r.players, sess.UserID)
	}

	r.sessions[sess.ID] = sess
	if r.opts.Metrics != nil {
		r.opts.Metrics.SessionsConnected.Inc()
	}
	r.logger.Info("session joined", "session_id", sess.ID, "player_id", sess.UserID)
	return r.joinInfoLocked(sess.UserID), !known, nil
}

func (r *Room) joinInfoLocked(userID string) JoinInfo {
	return JoinInfo{
		RoomID:     r.ID,
		PlayerID:   userID,
		PlayerIDs:  append([]string(nil), r.players...),
		WaitingFor: max(0, minPlayers-len(r.players)),
	}
}

// RemoveSession drops a session. If the match is running and the connected
// participant count falls below the minimum, the match terminates
// immediately with reason player_disconnected and surviving peers are closed
// with CloseMatchTerminated. Empty rooms always tear down.
func (r *Room) RemoveSession(sessionID string) {
	r.mu.Lock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	if r.opts.Metrics != nil {
		r.opts.Metrics.SessionsConnected.Dec()
	}
	r.logger.Info("session removed", "session_id", sessionID, "player_id", sess.UserID)

	connected := r.connectedPlayersLocked()
	if r.running && !r.finished && len(connected) < minPlayers {
		r.finished = true
		frame := r.matchEndFrameLocked(connected, sim.ReasonPlayerDisconnected)
		r.broadcastLocked("match_end", frame)
		for _, s := range r.sessions {
			s.Conn.CloseWithCode(CloseMatchTerminated, "match terminated")
		}
		r.stopSchedulerLocked()
		result := r.buildResultLocked(connected, sim.ReasonPlayerDisconnected)
		r.mu.Unlock()
		r.finishMatch(result)
		return
	}

	empty := len(r.sessions) == 0
	if empty {
		r.finished = true
		r.stopSchedulerLocked()
	}
	r.mu.Unlock()

	if empty {
		r.closed()
	}
}

// connectedPlayersLocked returns the participant ids that still have at
// least one session, in join order.
func (r *Room) connectedPlayersLocked() []string {
	has := map[string]bool{}
	for _, s := range r.sessions {
		has[s.UserID] = true
	}
	var out []string
	for _, id := range r.players {
		if has[id] {
			out = append(out, id)
		}
	}
	return out
}

// EnqueueInput admits one input message: monotone sequence gate, latency
// smoothing, then latest-wins replacement of the user's slot.
func (r *Room) EnqueueInput(userID string, seq int64, payload *InputPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.finished {
		if r.opts.Metrics != nil {
			r.opts.Metrics.InputsRejected.WithLabelValues("not_running").Inc()
		}
		return ErrRoomNotRunning
	}
	// The gate starts at zero, so a first input must carry seq >= 1.
	if last := r.lastSeq[userID]; seq <= last {
		if r.opts.Metrics != nil {
			r.opts.Metrics.InputsRejected.WithLabelValues("stale").Inc()
		}
		return &StaleInputError{ExpectedGt: last}
	}
	r.lastSeq[userID] = seq
	r.ackSeq[userID] = seq

	lag := r.latencyEMA[userID]
	if payload.ClientSentAtMs != nil {
		nowMs := float64(r.opts.now().UnixMilli())
		age := nowMs - *payload.ClientSentAtMs
		if math.Abs(age) <= maxClientClockSkewMs {
			sample := math.Min(math.Max(age, 0), sim.MaxLagCompMs)
			lag = latencyEMAWeight*lag + (1-latencyEMAWeight)*sample
			lag = math.Min(math.Max(lag, 0), sim.MaxLagCompMs)
			r.latencyEMA[userID] = lag
		}
	}
	payload.LagCompMs = lag

	r.latestInput[userID] = payload
	return nil
}

// MaybeStart spins up the world and tick scheduler once both participants
// are present. Idempotent.
func (r *Room) MaybeStart() {
	r.mu.Lock()
	if r.running || r.finished || len(r.players) < minPlayers {
		r.mu.Unlock()
		return
	}
	r.world = sim.Init(r.players, sim.SeedFromRoomID(r.ID))
	r.running = true
	r.stopCh = make(chan struct{})

	start := map[string]interface{}{
		"room_id":       r.ID,
		"player_ids":    append([]string(nil), r.players...),
		"deploy_region": r.opts.Profile.Region,
		"sim_hz":        r.opts.Profile.SimHz,
		"net_hz":        r.opts.Profile.NetHz,
	}
	r.broadcastLocked("game_start", start)
	stop := r.stopCh
	r.mu.Unlock()

	r.logger.Info("match started", "players", r.players)
	go r.run(stop)
}

// run is the self-correcting tick scheduler: after each tick it sleeps the
// remainder of the period, and the measured inter-tick interval (clamped to
// [period, 2*period]) becomes the simulation dt. Exactly one run goroutine
// exists per started room.
func (r *Room) run(stop chan struct{}) {
	period := time.Second / time.Duration(r.opts.Profile.SimHz)
	timer := time.NewTimer(period)
	defer timer.Stop()

	prev := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		start := time.Now()
		dt := start.Sub(prev)
		if dt < period {
			dt = period
		} else if dt > 2*period {
			dt = 2 * period
		}
		prev = start

		if done := r.tick(float64(dt) / float64(time.Millisecond)); done {
			return
		}

		next := period - time.Since(start)
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

// tick runs one scheduler step: apply latest inputs, advance the
// simulation, broadcast a frame on network ticks, and detect the terminal
// state. Returns true when the match ended and the scheduler should stop.
func (r *Room) tick(dtMs float64) bool {
	r.mu.Lock()

	if r.finished || r.world == nil {
		r.mu.Unlock()
		return true
	}

	tickStart := time.Now()

	for userID, in := range r.latestInput {
		r.world.ApplyInput(userID, sim.Input{
			Turn:        in.Turn,
			Thrust:      in.Thrust,
			Fire:        in.Fire,
			FirePressed: in.FirePressed,
			FireSeq:     in.FireSeq,
			LagCompMs:   in.LagCompMs,
		})
		// The press edge fires at most once even if the client repeats it
		// across the same slot.
		in.FirePressed = false
	}

	r.world.Tick(dtMs)
	if r.opts.Metrics != nil {
		r.opts.Metrics.TicksTotal.Inc()
		r.opts.Metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
	}

	netEvery := int64(r.opts.Profile.SimHz / r.opts.Profile.NetHz)
	if netEvery < 1 {
		netEvery = 1
	}
	if r.world.Ticks%netEvery == 0 {
		r.netTick++
		next := Project(r.world)
		if r.prevNet == nil || r.netTick%int64(r.opts.FullSnapshotEvery) == 0 {
			r.broadcastLocked("state_snapshot", r.frameLocked(map[string]interface{}{
				"full_state": next,
			}))
		} else {
			d := BuildDelta(r.prevNet, next)
			r.broadcastLocked("state_delta", r.frameLocked(map[string]interface{}{
				"changed_entities": d.Changed,
				"removed_entities": d.Removed,
			}))
		}
		r.prevNet = &next
	}

	term := r.world.IsTerminal()
	if !term.Terminal {
		r.mu.Unlock()
		return false
	}

	r.finished = true
	winners := append([]string(nil), term.WinnerIDs...)
	reason := term.Reason
	frame := r.matchEndFrameLocked(winners, reason)
	r.broadcastLocked("match_end", frame)
	r.stopSchedulerLocked()
	result := r.buildResultLocked(winners, reason)
	r.mu.Unlock()

	go r.finishMatch(result)
	return true
}

// frameLocked stamps the envelope fields every state frame carries.
func (r *Room) frameLocked(payload map[string]interface{}) map[string]interface{} {
	payload["room_id"] = r.ID
	payload["protocol_version"] = ProtocolVersion
	payload["server_ts"] = r.opts.now().UnixMilli()
	payload["server_tick"] = r.worldTickLocked()
	payload["ack_seq_by_player"] = r.ackSeqCopyLocked()
	payload["deploy_region"] = r.opts.Profile.Region
	payload["sim_hz"] = r.opts.Profile.SimHz
	payload["net_hz"] = r.opts.Profile.NetHz
	return payload
}

func (r *Room) worldTickLocked() int64 {
	if r.world == nil {
		return 0
	}
	return r.world.Ticks
}

func (r *Room) ackSeqCopyLocked() map[string]int64 {
	out := make(map[string]int64, len(r.ackSeq))
	for k, v := range r.ackSeq {
		out[k] = v
	}
	return out
}

func (r *Room) matchEndFrameLocked(winners []string, reason sim.EndReason) map[string]interface{} {
	stats := map[string]sim.Stats{}
	if r.world != nil {
		for id, s := range r.world.Players {
			stats[id] = s.Stats
		}
	}
	if winners == nil {
		winners = []string{}
	}
	return map[string]interface{}{
		"room_id":          r.ID,
		"protocol_version": ProtocolVersion,
		"server_ts":        r.opts.now().UnixMilli(),
		"server_tick":      r.worldTickLocked(),
		"winner_ids":       winners,
		"reason":           string(reason),
		"final_stats":      stats,
	}
}

func (r *Room) buildResultLocked(winners []string, reason sim.EndReason) *webhook.MatchResult {
	stats := map[string]sim.Stats{}
	if r.world != nil {
		for id, s := range r.world.Players {
			stats[id] = s.Stats
		}
	}
	if winners == nil {
		winners = []string{}
	}
	return &webhook.MatchResult{
		RoomID:       r.ID,
		SessionID:    r.anySessionIDLocked(),
		WinnerIDs:    winners,
		Participants: append([]string(nil), r.players...),
		Reason:       string(reason),
		FinalStats:   stats,
		EndedAt:      r.opts.now().UTC().Format(time.RFC3339),
	}
}

// anySessionIDLocked picks a stable session id for the result record: the
// first participant's session in join order, when one is still connected.
func (r *Room) anySessionIDLocked() string {
	for _, uid := range r.players {
		for _, s := range r.sessions {
			if s.UserID == uid {
				return s.ID
			}
		}
	}
	return ""
}

// finishMatch posts the signed result and archives it. Failures are logged
// and discarded: the outcome already reached the clients.
func (r *Room) finishMatch(result *webhook.MatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if r.opts.Signer != nil {
		if _, err := r.opts.Signer.Submit(ctx, result); err != nil {
			if r.opts.Metrics != nil {
				r.opts.Metrics.WebhooksTotal.WithLabelValues("error").Inc()
			}
			r.logger.Error("result webhook failed", "error", err)
		} else if r.opts.Metrics != nil {
			r.opts.Metrics.WebhooksTotal.WithLabelValues("ok").Inc()
		}
	}
	if r.opts.Archive != nil {
		if err := r.opts.Archive.StoreResult(ctx, r.ID, result); err != nil {
			r.logger.Warn("result archive failed", "error", err)
		}
	}
	r.logger.Info("match finished", "winners", result.WinnerIDs, "reason", result.Reason)
	r.closed()
}

func (r *Room) stopSchedulerLocked() {
	r.running = false
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

func (r *Room) closed() {
	r.closeOnce.Do(func() {
		if r.opts.OnClosed != nil {
			r.opts.OnClosed(r.ID)
		}
	})
}

// Broadcast serializes {type, payload} once and fans it out to every open
// session. Closing sockets are skipped silently.
func (r *Room) Broadcast(msgType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msgType, payload)
}

func (r *Room) broadcastLocked(msgType string, payload interface{}) {
	frame, err := json.Marshal(map[string]interface{}{
		"type":    msgType,
		"payload": payload,
	})
	if err != nil {
		r.logger.Error("frame encode failed", "type", msgType, "error", err)
		return
	}
	for _, s := range r.sessions {
		s.Conn.Send(frame)
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.FramesBroadcast.Add(float64(len(r.sessions)))
	}
}

// Snapshot of room status for ping replies and the health endpoint.
type Status struct {
	RoomID     string
	ServerTick int64
	Running    bool
	Finished   bool
	Players    []string
}

// Status reports the room's current public state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		RoomID:     r.ID,
		ServerTick: r.worldTickLocked(),
		Running:    r.running,
		Finished:   r.finished,
		Players:    append([]string(nil), r.players...),
	}
}

// Profile returns the room's static deploy profile.
func (r *Room) Profile() Profile { return r.opts.Profile }

// AckSeq returns the greatest admitted sequence for a user.
func (r *Room) AckSeq(userID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ackSeq[userID]
}

// LatencyEMA returns the smoothed client-to-server latency for a user.
func (r *Room) LatencyEMA(userID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latencyEMA[userID]
}

// HasSession reports whether the session id is present.
func (r *Room) HasSession(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}
