package game

import (
	"log/slog"
	"sync"
)

// Registry maps room ids to live runtimes. Rooms are created lazily on
// first join and deregister themselves through the OnClosed hook.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	opts  Options
}

// NewRegistry builds a registry whose rooms share the given options.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// GetOrCreate returns the runtime for a room id, creating it on first use.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[roomID]; ok {
		return r
	}

	opts := g.opts
	opts.OnClosed = func(id string) {
		g.Remove(id)
		if g.opts.OnClosed != nil {
			g.opts.OnClosed(id)
		}
	}
	r = NewRoom(roomID, opts)
	g.rooms[roomID] = r
	if g.opts.Metrics != nil {
		g.opts.Metrics.RoomsOpen.Inc()
	}
	g.opts.Logger.Info("room created", "room_id", roomID)
	return r
}

// Get returns the runtime for a room id, or nil.
func (g *Registry) Get(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

// Remove deregisters a room id. Idempotent.
func (g *Registry) Remove(roomID string) {
	g.mu.Lock()
	_, ok := g.rooms[roomID]
	delete(g.rooms, roomID)
	g.mu.Unlock()
	if ok {
		if g.opts.Metrics != nil {
			g.opts.Metrics.RoomsOpen.Dec()
		}
		g.opts.Logger.Info("room removed", "room_id", roomID)
	}
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Shutdown tears every room down, closing remaining sockets.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.finished = true
		r.stopSchedulerLocked()
		for _, s := range r.sessions {
			s.Conn.CloseWithCode(CloseMatchTerminated, "server shutting down")
		}
		r.mu.Unlock()
	}
}
