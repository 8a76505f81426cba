package game

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugshanyu/space-craft-standalone/internal/sim"
	"github.com/ugshanyu/space-craft-standalone/internal/webhook"
)

// fakeConn records every frame a room fans out, plus close handshakes.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	code     int
	reason   string
	rejectOn bool
}

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectOn {
		return false
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.frames = append(c.frames, cp)
	return true
}

func (c *fakeConn) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
}

func (c *fakeConn) framesOfType(t *testing.T, msgType string) []map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, raw := range c.frames {
		var env struct {
			Type    string                 `json:"type"`
			Payload map[string]interface{} `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type == msgType {
			out = append(out, env.Payload)
		}
	}
	return out
}

func (c *fakeConn) closedWith(code int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && c.code == code
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{Logger: quietLogger()}
}

func TestUpsertSessionJoinAndReconnect(t *testing.T) {
	r := NewRoom("room-1", testOptions())

	c1 := &fakeConn{}
	info, isNew, err := r.UpsertSession(&Session{ID: "s1", UserID: "a", Conn: c1})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "room-1", info.RoomID)
	assert.Equal(t, "a", info.PlayerID)
	assert.Equal(t, 1, info.WaitingFor)

	// Same session id reconnects with a fresh socket: idempotent.
	c1b := &fakeConn{}
	info, isNew, err = r.UpsertSession(&Session{ID: "s1", UserID: "a", Conn: c1b})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, []string{"a"}, info.PlayerIDs)

	c2 := &fakeConn{}
	info, isNew, err = r.UpsertSession(&Session{ID: "s2", UserID: "b", Conn: c2})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 0, info.WaitingFor)
	assert.Equal(t, []string{"a", "b"}, info.PlayerIDs)
}

func TestUpsertSessionRoomFull(t *testing.T) {
	r := NewRoom("room-1", testOptions())
	_, _, err := r.UpsertSession(&Session{ID: "s1", UserID: "a", Conn: &fakeConn{}})
	require.NoError(t, err)
	_, _, err = r.UpsertSession(&Session{ID: "s2", UserID: "b", Conn: &fakeConn{}})
	require.NoError(t, err)

	_, _, err = r.UpsertSession(&Session{ID: "s3", UserID: "c", Conn: &fakeConn{}})
	assert.ErrorIs(t, err, ErrRoomFull)
}

// startedRoom builds a running two-player room without spawning the
// scheduler goroutine, so tests can call tick deterministically.
func startedRoom(t *testing.T, opts Options) (*Room, *fakeConn, *fakeConn) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	r := NewRoom("room-1", opts)
	ca, cb := &fakeConn{}, &fakeConn{}
	_, _, err := r.UpsertSession(&Session{ID: "sa", UserID: "a", Conn: ca})
	require.NoError(t, err)
	_, _, err = r.UpsertSession(&Session{ID: "sb", UserID: "b", Conn: cb})
	require.NoError(t, err)

	r.mu.Lock()
	r.world = sim.Init(r.players, sim.SeedFromRoomID(r.ID))
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()
	return r, ca, cb
}

func TestEnqueueInputRequiresRunningRoom(t *testing.T) {
	r := NewRoom("room-1", testOptions())
	_, _, err := r.UpsertSession(&Session{ID: "s1", UserID: "a", Conn: &fakeConn{}})
	require.NoError(t, err)

	err = r.EnqueueInput("a", 1, &InputPayload{})
	assert.ErrorIs(t, err, ErrRoomNotRunning)
}

func TestEnqueueInputSequenceGate(t *testing.T) {
	r, _, _ := startedRoom(t, testOptions())

	require.NoError(t, r.EnqueueInput("a", 1, &InputPayload{Turn: 1}))
	require.NoError(t, r.EnqueueInput("a", 5, &InputPayload{Turn: -1}))
	assert.Equal(t, int64(5), r.AckSeq("a"))

	err := r.EnqueueInput("a", 5, &InputPayload{})
	var stale *StaleInputError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(5), stale.ExpectedGt)

	err = r.EnqueueInput("a", 3, &InputPayload{})
	require.ErrorAs(t, err, &stale)

	// The latest admitted payload wins the slot.
	r.mu.Lock()
	in := r.latestInput["a"]
	r.mu.Unlock()
	assert.Equal(t, -1.0, in.Turn)
}

// A user's very first input is gated too: the implicit last seq is zero,
// so seq 0 (or anything negative) never advances the ack.
func TestEnqueueInputFirstSeqMustBePositive(t *testing.T) {
	r, _, _ := startedRoom(t, testOptions())

	var stale *StaleInputError
	err := r.EnqueueInput("a", 0, &InputPayload{})
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(0), stale.ExpectedGt)

	err = r.EnqueueInput("a", -7, &InputPayload{})
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(0), r.AckSeq("a"))

	require.NoError(t, r.EnqueueInput("a", 1, &InputPayload{}))
	assert.Equal(t, int64(1), r.AckSeq("a"))
}

func TestEnqueueInputLatencySmoothing(t *testing.T) {
	fixed := time.UnixMilli(1_000_000)
	opts := testOptions()
	opts.now = func() time.Time { return fixed }
	r, _, _ := startedRoom(t, opts)

	sent := float64(fixed.UnixMilli() - 50)
	require.NoError(t, r.EnqueueInput("a", 1, &InputPayload{ClientSentAtMs: &sent}))
	assert.InDelta(t, 10.0, r.LatencyEMA("a"), 1e-9) // 0.8*0 + 0.2*50

	require.NoError(t, r.EnqueueInput("a", 2, &InputPayload{ClientSentAtMs: &sent}))
	assert.InDelta(t, 18.0, r.LatencyEMA("a"), 1e-9) // 0.8*10 + 0.2*50

	// A sample with absurd clock skew is ignored, not clamped.
	skewed := float64(fixed.UnixMilli() - 10_000)
	require.NoError(t, r.EnqueueInput("a", 3, &InputPayload{ClientSentAtMs: &skewed}))
	assert.InDelta(t, 18.0, r.LatencyEMA("a"), 1e-9)

	// Without a client timestamp the current estimate is stamped as-is.
	require.NoError(t, r.EnqueueInput("a", 4, &InputPayload{}))
	r.mu.Lock()
	in := r.latestInput["a"]
	r.mu.Unlock()
	assert.InDelta(t, 18.0, in.LagCompMs, 1e-9)
}

func TestTickBroadcastsSnapshotThenDeltas(t *testing.T) {
	opts := testOptions()
	opts.FullSnapshotEvery = 5
	r, ca, _ := startedRoom(t, opts)

	for i := 0; i < 6; i++ {
		done := r.tick(16)
		require.False(t, done)
	}

	snaps := ca.framesOfType(t, "state_snapshot")
	deltas := ca.framesOfType(t, "state_delta")
	require.Len(t, snaps, 2) // first net tick, then every fifth
	require.Len(t, deltas, 4)

	env := snaps[0]
	assert.Equal(t, "room-1", env["room_id"])
	assert.Equal(t, ProtocolVersion, env["protocol_version"])
	assert.Contains(t, env, "server_ts")
	assert.Contains(t, env, "server_tick")
	assert.Contains(t, env, "ack_seq_by_player")
	assert.Contains(t, env, "full_state")

	assert.Contains(t, deltas[0], "changed_entities")
	assert.Contains(t, deltas[0], "removed_entities")
}

func TestTickConsumesFirePressEdge(t *testing.T) {
	r, _, _ := startedRoom(t, testOptions())

	require.NoError(t, r.EnqueueInput("a", 1, &InputPayload{FirePressed: true, FireSeq: 1}))
	require.False(t, r.tick(16))

	r.mu.Lock()
	proj := len(r.world.Projectiles)
	r.mu.Unlock()
	require.Equal(t, 1, proj)

	// Slot retention must not re-fire on subsequent ticks.
	for i := 0; i < 20; i++ {
		require.False(t, r.tick(16))
	}
	r.mu.Lock()
	proj = len(r.world.Projectiles)
	r.mu.Unlock()
	assert.LessOrEqual(t, proj, 1)
}

func TestDisconnectTerminatesRunningMatch(t *testing.T) {
	closedRoom := make(chan string, 1)
	opts := testOptions()
	opts.OnClosed = func(id string) { closedRoom <- id }
	r, _, cb := startedRoom(t, opts)
	require.False(t, r.tick(16))

	r.RemoveSession("sa")

	ends := cb.framesOfType(t, "match_end")
	require.Len(t, ends, 1)
	assert.Equal(t, string(sim.ReasonPlayerDisconnected), ends[0]["reason"])
	assert.Equal(t, []interface{}{"b"}, ends[0]["winner_ids"])
	assert.True(t, cb.closedWith(CloseMatchTerminated))

	select {
	case id := <-closedRoom:
		assert.Equal(t, "room-1", id)
	case <-time.After(time.Second):
		t.Fatal("room never reported closed")
	}

	assert.ErrorIs(t, r.EnqueueInput("b", 9, &InputPayload{}), ErrRoomNotRunning)
}

func TestEmptyRoomTearsDown(t *testing.T) {
	closedRoom := make(chan string, 1)
	opts := testOptions()
	opts.OnClosed = func(id string) { closedRoom <- id }
	r := NewRoom("room-1", opts)
	_, _, err := r.UpsertSession(&Session{ID: "s1", UserID: "a", Conn: &fakeConn{}})
	require.NoError(t, err)

	r.RemoveSession("s1")
	select {
	case id := <-closedRoom:
		assert.Equal(t, "room-1", id)
	case <-time.After(time.Second):
		t.Fatal("room never reported closed")
	}
}

func TestTerminalTickSubmitsSignedResult(t *testing.T) {
	type received struct {
		result  webhook.MatchResult
		headers http.Header
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var res webhook.MatchResult
		require.NoError(t, json.NewDecoder(req.Body).Decode(&res))
		got <- received{result: res, headers: req.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Signer = webhook.NewSigner(srv.URL, "svc-1", "key-1", "secret", quietLogger())
	r, ca, _ := startedRoom(t, opts)

	// Force a kill so the next tick is terminal.
	r.mu.Lock()
	r.world.Players["b"].HP = 0
	r.world.Players["b"].Alive = false
	r.mu.Unlock()

	require.True(t, r.tick(16))

	ends := ca.framesOfType(t, "match_end")
	require.Len(t, ends, 1)
	assert.Equal(t, string(sim.ReasonElimination), ends[0]["reason"])

	select {
	case rec := <-got:
		assert.Equal(t, "room-1", rec.result.RoomID)
		assert.Equal(t, []string{"a"}, rec.result.WinnerIDs)
		assert.ElementsMatch(t, []string{"a", "b"}, rec.result.Participants)
		assert.Equal(t, string(sim.ReasonElimination), rec.result.Reason)
		assert.Len(t, rec.result.FinalStats, 2)
		assert.Equal(t, "svc-1", rec.headers.Get("X-Usion-Service-Id"))
		assert.NotEmpty(t, rec.headers.Get("X-Usion-Signature"))
		assert.NotEmpty(t, rec.headers.Get("X-Idempotency-Key"))
	case <-time.After(2 * time.Second):
		t.Fatal("result webhook never arrived")
	}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	r := NewRoom("room-1", testOptions())
	ca, cb := &fakeConn{}, &fakeConn{}
	_, _, err := r.UpsertSession(&Session{ID: "sa", UserID: "a", Conn: ca})
	require.NoError(t, err)
	r.MaybeStart() // one player: must not start
	assert.False(t, r.Status().Running)

	_, _, err = r.UpsertSession(&Session{ID: "sb", UserID: "b", Conn: cb})
	require.NoError(t, err)
	r.MaybeStart()
	r.MaybeStart() // idempotent
	require.True(t, r.Status().Running)

	require.Len(t, ca.framesOfType(t, "game_start"), 1)

	require.Eventually(t, func() bool {
		return r.Status().ServerTick >= 3
	}, 5*time.Second, 5*time.Millisecond)

	r.RemoveSession("sa")
	r.RemoveSession("sb")
	require.Eventually(t, func() bool {
		s := r.Status()
		return s.Finished && !s.Running
	}, 5*time.Second, 5*time.Millisecond)
}

func TestBroadcastSkipsClosingSockets(t *testing.T) {
	r, ca, cb := startedRoom(t, testOptions())
	cb.mu.Lock()
	cb.rejectOn = true
	cb.mu.Unlock()

	r.Broadcast("ping", map[string]interface{}{"n": 1})
	require.Len(t, ca.framesOfType(t, "ping"), 1)
	assert.Empty(t, cb.framesOfType(t, "ping"))
}

func TestRegistryLifecycle(t *testing.T) {
	g := NewRegistry(testOptions())
	r1 := g.GetOrCreate("room-1")
	assert.Same(t, r1, g.GetOrCreate("room-1"))
	assert.Same(t, r1, g.Get("room-1"))
	assert.Equal(t, 1, g.Len())

	_, _, err := r1.UpsertSession(&Session{ID: "s1", UserID: "a", Conn: &fakeConn{}})
	require.NoError(t, err)
	r1.RemoveSession("s1")

	assert.Nil(t, g.Get("room-1"))
	assert.Equal(t, 0, g.Len())
}
