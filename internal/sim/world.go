// Package sim implements the deterministic fixed-step simulation for a
// two-player space-combat arena: ship movement, projectile flight,
// lag-compensated hit detection via per-ship position history, special
// weapons and pickups, and terminal resolution.
//
// The package is single-threaded by contract: the owning room calls into it
// from exactly one goroutine. All mutated floats are quantized to 1/10000 so
// that two runs with the same seed and inputs are bit-identical.
package sim

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// Phase is the coarse lifecycle state of a world.
type Phase string

const (
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// WeaponType identifies the special weapon a ship currently carries.
type WeaponType string

const (
	WeaponNone  WeaponType = "none"
	WeaponLaser WeaponType = "laser"
	WeaponBomb  WeaponType = "bomb"
	WeaponNova  WeaponType = "nova"
)

// ProjectileKind distinguishes standard shots from bombs.
type ProjectileKind string

const (
	KindBullet ProjectileKind = "bullet"
	KindBomb   ProjectileKind = "bomb"
)

// EndReason records why a match terminated.
type EndReason string

const (
	ReasonElimination        EndReason = "elimination"
	ReasonTimeout            EndReason = "timeout"
	ReasonPlayerDisconnected EndReason = "player_disconnected"
)

// Input is the latest intention of one player. It is overwritten, never
// queued; FirePressed is an edge flag consumed by the next tick.
type Input struct {
	Turn        float64
	Thrust      float64
	Fire        bool
	FirePressed bool
	FireSeq     int64
	LagCompMs   float64
}

// Stats accumulates per-player match statistics.
type Stats struct {
	Kills            int     `json:"kills"`
	Deaths           int     `json:"deaths"`
	DamageDealt      float64 `json:"damage_dealt"`
	PickupsCollected int     `json:"pickups_collected"`
}

// Ship is one player's vessel.
type Ship struct {
	ID             string
	X, Y           float64
	VX, VY         float64
	Angle          float64
	HP             float64
	Alive          bool
	FireCooldownMs float64
	Weapon         WeaponType
	WeaponUses     int
	LaserActiveMs  float64
	NovaCooldownMs float64
	History        PositionRing
	Input          Input
	Stats          Stats
}

// Projectile is a bullet or bomb in flight. A projectile with Damage == 0 is
// a short-lived visual marker left behind by an instant rewound hit and never
// collides with anything.
type Projectile struct {
	ID        string
	OwnerID   string
	X, Y      float64
	VX, VY    float64
	TTLMs     float64
	Damage    float64
	Kind      ProjectileKind
	LagCompMs float64
}

// Pickup grants a special weapon when an alive ship overlaps it.
type Pickup struct {
	ID    string
	X, Y  float64
	Type  WeaponType
	Value int
}

// Effect is a short-lived visual marker (explosion, nova flash).
type Effect struct {
	ID    string
	Kind  string
	X, Y  float64
	TTLMs float64
}

// World is the simulation's source of truth for one room.
type World struct {
	Phase       Phase
	Seed        int64
	Ticks       int64
	RemainingMs float64
	Players     map[string]*Ship
	Order       []string // player ids in join order; map iteration is not deterministic
	Projectiles []*Projectile
	Pickups     []*Pickup
	Effects     []*Effect
	WinnerIDs   []string
	Reason      EndReason

	projSeq   int64
	pickupSeq int64
	effectSeq int64
}

// PositionRing is a fixed-capacity ring of the last HistorySamples ship
// positions, one per simulation tick. Old samples fall off the tail.
type PositionRing struct {
	xs, ys [HistorySamples]float64
	start  int
	n      int
}

// Push appends a sample, evicting the oldest when full.
func (r *PositionRing) Push(x, y float64) {
	if r.n < HistorySamples {
		i := (r.start + r.n) % HistorySamples
		r.xs[i], r.ys[i] = x, y
		r.n++
		return
	}
	r.xs[r.start], r.ys[r.start] = x, y
	r.start = (r.start + 1) % HistorySamples
}

// Len reports the number of stored samples.
func (r *PositionRing) Len() int { return r.n }

// At returns the sample ticksBack ticks in the past. The index clamps at the
// oldest stored sample; with no samples ok is false and the caller should use
// the current position.
func (r *PositionRing) At(ticksBack int) (x, y float64, ok bool) {
	if r.n == 0 {
		return 0, 0, false
	}
	i := r.n - 1 - ticksBack
	if i < 0 {
		i = 0
	}
	j := (r.start + i) % HistorySamples
	return r.xs[j], r.ys[j], true
}

// SeedFromRoomID derives the deterministic world seed from a room id: the
// first 12 hex digits of SHA-256 of the id, read base-16.
func SeedFromRoomID(roomID string) int64 {
	sum := sha256.Sum256([]byte(roomID))
	h := hex.EncodeToString(sum[:])
	v, err := strconv.ParseInt(h[:12], 16, 64)
	if err != nil {
		// 12 hex digits always fit in an int64; unreachable.
		return 0
	}
	return v
}

// Init builds a fresh world for the given players. The first two ids take
// the symmetric spawn points: left at (18,50) facing 0, right at (82,50)
// facing pi.
func Init(playerIDs []string, seed int64) *World {
	w := &World{
		Phase:       PhasePlaying,
		Seed:        seed,
		RemainingMs: RoundDurationMs,
		Players:     make(map[string]*Ship, len(playerIDs)),
	}
	spawns := []struct {
		x, y, angle float64
	}{
		{18, 50, 0},
		{82, 50, math.Pi},
	}
	for i, id := range playerIDs {
		if i >= len(spawns) {
			break
		}
		s := &Ship{
			ID:     id,
			X:      spawns[i].x,
			Y:      spawns[i].y,
			Angle:  spawns[i].angle,
			HP:     MaxHP,
			Alive:  true,
			Weapon: WeaponNone,
		}
		w.Players[id] = s
		w.Order = append(w.Order, id)
	}
	return w
}

// ApplyInput stores a clamped input snapshot into the ship's slot. Absent or
// dead ships are a no-op. FirePressed is set strictly from the received
// value; the tick loop consumes and clears it.
func (w *World) ApplyInput(userID string, in Input) {
	s := w.Players[userID]
	if s == nil || !s.Alive {
		return
	}
	s.Input = Input{
		Turn:        clamp(in.Turn, -1, 1),
		Thrust:      clamp(in.Thrust, -1, 1),
		Fire:        in.Fire,
		FirePressed: in.FirePressed,
		FireSeq:     in.FireSeq,
		LagCompMs:   clamp(in.LagCompMs, 0, MaxLagCompMs),
	}
}

func (w *World) nextProjectileID() string {
	w.projSeq++
	return fmt.Sprintf("p%d", w.projSeq)
}

func (w *World) nextPickupID() string {
	w.pickupSeq++
	return fmt.Sprintf("k%d", w.pickupSeq)
}

func (w *World) nextEffectID() string {
	w.effectSeq++
	return fmt.Sprintf("e%d", w.effectSeq)
}

// quant snaps a float to 1/10000. Determinism across runs depends on every
// mutated world float passing through here.
func quant(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeAngle wraps an angle into (-pi, pi].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// rewoundPosition returns where a ship was lagMs ago according to its
// position history. The lag window rounds to whole history ticks; with no
// samples the current position is used.
func rewoundPosition(s *Ship, lagMs float64) (float64, float64) {
	if lagMs <= 0 {
		return s.X, s.Y
	}
	ticksBack := int(math.Round(lagMs / HistoryTickMs))
	if x, y, ok := s.History.At(ticksBack); ok {
		return x, y
	}
	return s.X, s.Y
}

func dist(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}
