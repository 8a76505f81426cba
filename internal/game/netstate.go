// Package game owns the per-match runtime: the room (sessions, input
// admission, tick scheduler, broadcast fan-out, terminal handling), the
// registry mapping room ids to runtimes, and the network projection of the
// simulation state with its snapshot/delta encoding.
package game

import "github.com/ugshanyu/space-craft-standalone/internal/sim"

// NetShip is a ship as clients see it. Server-only data (position history,
// transient input fields) is stripped; the shape is comparable so the delta
// builder can shallow-compare entries.
type NetShip struct {
	ID         string    `json:"id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	VX         float64   `json:"vx"`
	VY         float64   `json:"vy"`
	Angle      float64   `json:"angle"`
	HP         float64   `json:"hp"`
	Alive      bool      `json:"alive"`
	Weapon     string    `json:"weapon"`
	WeaponUses int       `json:"weapon_uses"`
	FireSeq    int64     `json:"fire_seq"`
	Stats      sim.Stats `json:"stats"`
}

// NetProjectile is a projectile's network shape.
type NetProjectile struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"owner_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
	TTLMs   float64 `json:"ttl_ms"`
	Kind    string  `json:"kind"`
}

// NetPickup is a pickup's network shape.
type NetPickup struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Type  string  `json:"type"`
	Value int     `json:"value"`
}

// NetEffect is a visual effect's network shape.
type NetEffect struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	TTLMs float64 `json:"ttl_ms"`
}

// NetState is the full projected world broadcast in state_snapshot frames.
type NetState struct {
	Phase       string             `json:"phase"`
	Tick        int64              `json:"tick"`
	RemainingMs float64            `json:"remaining_ms"`
	Players     map[string]NetShip `json:"players"`
	Projectiles []NetProjectile    `json:"projectiles"`
	Pickups     []NetPickup        `json:"pickups"`
	Effects     []NetEffect        `json:"effects"`
	WinnerIDs   []string           `json:"winner_ids,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// Project builds the network shape of a world.
func Project(w *sim.World) NetState {
	ns := NetState{
		Phase:       string(w.Phase),
		Tick:        w.Ticks,
		RemainingMs: w.RemainingMs,
		Players:     make(map[string]NetShip, len(w.Players)),
		Projectiles: make([]NetProjectile, 0, len(w.Projectiles)),
		Pickups:     make([]NetPickup, 0, len(w.Pickups)),
		Effects:     make([]NetEffect, 0, len(w.Effects)),
		Reason:      string(w.Reason),
	}
	if len(w.WinnerIDs) > 0 {
		ns.WinnerIDs = append(ns.WinnerIDs, w.WinnerIDs...)
	}
	for _, id := range w.Order {
		s := w.Players[id]
		if s == nil {
			continue
		}
		ns.Players[id] = NetShip{
			ID:         s.ID,
			X:          s.X,
			Y:          s.Y,
			VX:         s.VX,
			VY:         s.VY,
			Angle:      s.Angle,
			HP:         s.HP,
			Alive:      s.Alive,
			Weapon:     string(s.Weapon),
			WeaponUses: s.WeaponUses,
			FireSeq:    s.Input.FireSeq,
			Stats:      s.Stats,
		}
	}
	for _, p := range w.Projectiles {
		ns.Projectiles = append(ns.Projectiles, NetProjectile{
			ID:      p.ID,
			OwnerID: p.OwnerID,
			X:       p.X,
			Y:       p.Y,
			VX:      p.VX,
			VY:      p.VY,
			TTLMs:   p.TTLMs,
			Kind:    string(p.Kind),
		})
	}
	for _, p := range w.Pickups {
		ns.Pickups = append(ns.Pickups, NetPickup{
			ID:    p.ID,
			X:     p.X,
			Y:     p.Y,
			Type:  string(p.Type),
			Value: p.Value,
		})
	}
	for _, e := range w.Effects {
		ns.Effects = append(ns.Effects, NetEffect{
			ID:    e.ID,
			Kind:  e.Kind,
			X:     e.X,
			Y:     e.Y,
			TTLMs: e.TTLMs,
		})
	}
	return ns
}
