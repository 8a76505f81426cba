// Package gateway is the WebSocket front door: it upgrades connections,
// authenticates the session token, and bridges socket messages to the room
// runtime.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ugshanyu/space-craft-standalone/internal/auth"
	"github.com/ugshanyu/space-craft-standalone/internal/game"
)

// Error codes surfaced to clients in error envelopes.
const (
	codeNoToken       = "NO_TOKEN"
	codeInvalidToken  = "INVALID_TOKEN"
	codeNotJoined     = "NOT_JOINED"
	codeRoomMismatch  = "ROOM_MISMATCH"
	codeRoomFull      = "ROOM_FULL"
	codeInputRejected = "INPUT_REJECTED"
	codeBadMessage    = "BAD_MESSAGE"
)

// TokenVerifier validates a session token. Satisfied by *auth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// Handler serves the /ws endpoint.
type Handler struct {
	verifier TokenVerifier
	registry *game.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the gateway. allowedOrigins is an exact-match Origin
// allowlist; empty means any origin is accepted.
func NewHandler(verifier TokenVerifier, registry *game.Registry, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		verifier: verifier,
		registry: registry,
		logger:   logger.With("component", "gateway"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		if set[origin] {
			return true
		}
		if u, err := url.Parse(origin); err == nil && set[u.Host] {
			return true
		}
		return false
	}
}

// envelope is the wire shape of every inbound message: control fields at
// the top level, the action body under payload.
type envelope struct {
	Type            string          `json:"type"`
	RoomID          string          `json:"room_id"`
	Seq             int64           `json:"seq"`
	Ts              float64         `json:"ts"`
	SessionID       string          `json:"session_id"`
	ProtocolVersion string          `json:"protocol_version"`
	Payload         json.RawMessage `json:"payload"`
}

type joinPayload struct {
	RoomID string `json:"room_id"`
}

type inputPayload struct {
	ActionData *game.InputPayload `json:"action_data"`
	// Older clients put the action fields directly in the payload.
	game.InputPayload
}

type pingPayload struct {
	ClientTs float64 `json:"client_ts"`
}

// maxPreAuthFrames bounds how many frames are stashed while token
// verification is still in flight; excess frames are dropped.
const maxPreAuthFrames = 64

// connState is the per-connection session, owned by the read loop.
type connState struct {
	mu       sync.Mutex
	claims   *auth.Claims
	room     *game.Room
	verified bool
	rejected bool
	preAuth  [][]byte
}

// ServeWS upgrades the connection, verifies the token query parameter, and
// runs the message loop until the socket closes. Frames arriving while
// verification is outstanding are stashed and flushed in arrival order once
// the token checks out.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := newClient(conn, h.logger)
	go c.writePump()

	token := r.URL.Query().Get("token")
	if token == "" {
		h.rejectAuth(c, codeNoToken, "token query parameter required")
		return
	}

	state := &connState{}
	authDone := make(chan struct{})
	go func() {
		defer close(authDone)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		claims, err := h.verifier.Verify(ctx, token)
		cancel()
		if err != nil {
			var invalid *auth.InvalidTokenError
			msg := "token verification failed"
			if errors.As(err, &invalid) {
				msg = invalid.Reason
			}
			state.mu.Lock()
			state.rejected = true
			state.preAuth = nil
			state.mu.Unlock()
			h.rejectAuth(c, codeInvalidToken, msg)
			return
		}

		h.logger.Info("client connected",
			"user_id", claims.UserID, "session_id", claims.SessionID)

		// Flush the stash under the lock so frames that raced in during
		// verification keep their arrival order.
		state.mu.Lock()
		state.claims = claims
		state.verified = true
		stash := state.preAuth
		state.preAuth = nil
		for _, raw := range stash {
			h.dispatch(c, state, raw)
		}
		state.mu.Unlock()
	}()

	c.readPump(func(raw []byte) {
		state.mu.Lock()
		if state.rejected {
			state.mu.Unlock()
			return
		}
		if !state.verified {
			if len(state.preAuth) < maxPreAuthFrames {
				state.preAuth = append(state.preAuth, raw)
			}
			state.mu.Unlock()
			return
		}
		state.mu.Unlock()
		h.dispatch(c, state, raw)
	})
	<-authDone

	state.mu.Lock()
	room, claims := state.room, state.claims
	state.room = nil
	state.mu.Unlock()
	if room != nil && claims != nil {
		room.RemoveSession(claims.SessionID)
	}
	if claims != nil {
		h.logger.Info("client disconnected",
			"user_id", claims.UserID, "session_id", claims.SessionID)
	}
}

func (h *Handler) rejectAuth(c *client, code, message string) {
	c.SendJSON("error", map[string]interface{}{
		"code":    code,
		"message": message,
	})
	// Give the write pump a moment to flush before the handshake.
	time.Sleep(50 * time.Millisecond)
	c.CloseWithCode(websocket.ClosePolicyViolation, code)
}

func (h *Handler) dispatch(c *client, state *connState, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Malformed frames are dropped, not answered.
		h.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case "join":
		h.handleJoin(c, state, &env)
	case "input":
		h.handleInput(c, state, &env)
	case "ping":
		h.handlePing(c, state, &env)
	case "leave":
		h.handleLeave(c, state)
	default:
		// Unknown types are ignored so protocol additions stay compatible.
		h.logger.Debug("ignoring unknown message type", "type", env.Type)
	}
}

func (h *Handler) handleJoin(c *client, state *connState, env *envelope) {
	var p joinPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, codeBadMessage, "malformed join payload")
			return
		}
	}
	if p.RoomID == "" {
		p.RoomID = env.RoomID
	}

	// The token binds the session to a room; a join naming a different one
	// is refused.
	roomID := state.claims.RoomID
	if roomID == "" {
		roomID = p.RoomID
	} else if p.RoomID != "" && p.RoomID != roomID {
		h.sendError(c, codeRoomMismatch, "token is bound to a different room")
		return
	}
	if roomID == "" {
		h.sendError(c, codeBadMessage, "room_id required")
		return
	}

	room := h.registry.GetOrCreate(roomID)
	info, isNew, err := room.UpsertSession(&game.Session{
		ID:     state.claims.SessionID,
		UserID: state.claims.UserID,
		Conn:   c,
	})
	if err != nil {
		if errors.Is(err, game.ErrRoomFull) {
			h.sendError(c, codeRoomFull, "room already has two players")
			return
		}
		h.sendError(c, codeBadMessage, err.Error())
		return
	}
	state.room = room

	profile := room.Profile()
	c.SendJSON("joined", map[string]interface{}{
		"room_id":       info.RoomID,
		"player_id":     info.PlayerID,
		"player_ids":    info.PlayerIDs,
		"waiting_for":   info.WaitingFor,
		"deploy_region": profile.Region,
		"sim_hz":        profile.SimHz,
		"net_hz":        profile.NetHz,
	})
	if isNew {
		room.Broadcast("player_joined", info)
	}
	room.MaybeStart()
}

func (h *Handler) handleInput(c *client, state *connState, env *envelope) {
	if state.room == nil {
		h.sendError(c, codeNotJoined, "join a room before sending input")
		return
	}
	var p inputPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, codeBadMessage, "malformed input payload")
			return
		}
	}
	in := p.ActionData
	if in == nil {
		in = &p.InputPayload
	}

	err := state.room.EnqueueInput(state.claims.UserID, env.Seq, in)
	if err == nil {
		return
	}
	var stale *game.StaleInputError
	switch {
	case errors.As(err, &stale):
		c.SendJSON("error", map[string]interface{}{
			"code":       codeInputRejected,
			"reason":     "STALE_INPUT",
			"expectedGt": stale.ExpectedGt,
		})
	case errors.Is(err, game.ErrRoomNotRunning):
		c.SendJSON("error", map[string]interface{}{
			"code":   codeInputRejected,
			"reason": "MATCH_NOT_RUNNING",
		})
	default:
		h.sendError(c, codeBadMessage, err.Error())
	}
}

func (h *Handler) handlePing(c *client, state *connState, env *envelope) {
	var p pingPayload
	if len(env.Payload) > 0 {
		_ = json.Unmarshal(env.Payload, &p)
	}
	reply := map[string]interface{}{
		"client_ts": p.ClientTs,
		"server_ts": time.Now().UnixMilli(),
	}
	if state.room != nil {
		status := state.room.Status()
		profile := state.room.Profile()
		reply["room_id"] = status.RoomID
		reply["server_tick"] = status.ServerTick
		reply["ack_seq"] = state.room.AckSeq(state.claims.UserID)
		reply["deploy_region"] = profile.Region
		reply["sim_hz"] = profile.SimHz
		reply["net_hz"] = profile.NetHz
	}
	c.SendJSON("pong", reply)
}

func (h *Handler) handleLeave(c *client, state *connState) {
	if room := state.room; room != nil {
		state.room = nil
		room.RemoveSession(state.claims.SessionID)
		room.Broadcast("player_left", map[string]interface{}{
			"room_id":   room.ID,
			"player_id": state.claims.UserID,
		})
	}
	c.CloseWithCode(websocket.CloseNormalClosure, "bye")
}

func (h *Handler) sendError(c *client, code, message string) {
	c.SendJSON("error", map[string]interface{}{
		"code":    code,
		"message": message,
	})
}
