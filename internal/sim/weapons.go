package sim

import "math"

// fireBomb launches a bomb projectile. Bombs fly slower, hit harder, and
// detonate in an area; firing one doubles the fire cooldown.
func (w *World) fireBomb(s *Ship) {
	s.FireCooldownMs = 2 * FireCooldownMs

	dirX := math.Cos(s.Angle)
	dirY := math.Sin(s.Angle)
	lagMs := clamp(s.Input.LagCompMs, 0, MaxLagCompMs)

	w.Projectiles = append(w.Projectiles, &Projectile{
		ID:        w.nextProjectileID(),
		OwnerID:   s.ID,
		X:         quant(clamp(s.X+dirX*MuzzleOffset, ProjectileRadius, ArenaExtent-ProjectileRadius)),
		Y:         quant(clamp(s.Y+dirY*MuzzleOffset, ProjectileRadius, ArenaExtent-ProjectileRadius)),
		VX:        quant(dirX * BombSpeed),
		VY:        quant(dirY * BombSpeed),
		TTLMs:     BombTTLMs,
		Damage:    BombDamage,
		Kind:      KindBomb,
		LagCompMs: lagMs,
	})
	w.consumeUse(s)
}

// detonateBomb damages every ship inside the blast radius with linear
// fall-off to BombEdgeFactor at the edge; the owner takes half of its share.
func (w *World) detonateBomb(p *Projectile) {
	for _, id := range w.Order {
		s := w.Players[id]
		if s == nil || !s.Alive {
			continue
		}
		d := dist(p.X, p.Y, s.X, s.Y)
		if d > BombRadius {
			continue
		}
		factor := 1 - (1-BombEdgeFactor)*(d/BombRadius)
		dmg := BombDamage * factor
		if s.ID == p.OwnerID {
			dmg *= 0.5
		}
		w.applyDamage(s, p.OwnerID, dmg)
	}
	w.Effects = append(w.Effects, &Effect{
		ID:    w.nextEffectID(),
		Kind:  "explosion",
		X:     p.X,
		Y:     p.Y,
		TTLMs: ExplosionEffectTTLMs,
	})
}

// applyLaserDamage burns every other alive ship whose rewound position falls
// inside the beam: projection onto the facing direction within range and
// perpendicular distance inside the widened half-width.
func (w *World) applyLaserDamage(s *Ship, dt float64) {
	dirX := math.Cos(s.Angle)
	dirY := math.Sin(s.Angle)
	lagMs := clamp(s.Input.LagCompMs, 0, MaxLagCompMs)

	for _, id := range w.Order {
		target := w.Players[id]
		if target == nil || !target.Alive || target.ID == s.ID {
			continue
		}
		tx, ty := rewoundPosition(target, lagMs)
		relX := tx - s.X
		relY := ty - s.Y
		along := relX*dirX + relY*dirY
		if along < 0 || along > LaserRange {
			continue
		}
		perp := math.Abs(relX*dirY - relY*dirX)
		if perp > LaserHalfWidth+PlayerRadius {
			continue
		}
		w.applyDamage(target, s.ID, LaserDPS*dt)
	}
}

// fireNova releases an instant radial burst around the ship against rewound
// positions, with linear fall-off to NovaEdgeFactor at the edge.
func (w *World) fireNova(s *Ship) {
	s.FireCooldownMs = FireCooldownMs
	s.NovaCooldownMs = NovaCooldownMs
	lagMs := clamp(s.Input.LagCompMs, 0, MaxLagCompMs)

	for _, id := range w.Order {
		target := w.Players[id]
		if target == nil || !target.Alive || target.ID == s.ID {
			continue
		}
		tx, ty := rewoundPosition(target, lagMs)
		d := dist(s.X, s.Y, tx, ty)
		if d > NovaRadius {
			continue
		}
		factor := 1 - (1-NovaEdgeFactor)*(d/NovaRadius)
		w.applyDamage(target, s.ID, NovaDamage*factor)
	}

	w.Effects = append(w.Effects, &Effect{
		ID:    w.nextEffectID(),
		Kind:  "nova",
		X:     s.X,
		Y:     s.Y,
		TTLMs: NovaEffectTTLMs,
	})
	w.consumeUse(s)
}
