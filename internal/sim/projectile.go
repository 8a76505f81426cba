package sim

import "math"

// fireBullet spawns a standard projectile at the ship's nose. When the
// shooter reported a lag-compensation window, an instant rewound hit-scan
// runs across that window first; a hit applies damage immediately and leaves
// only a short-lived visual marker.
func (w *World) fireBullet(s *Ship) {
	s.FireCooldownMs = FireCooldownMs

	dirX := math.Cos(s.Angle)
	dirY := math.Sin(s.Angle)
	px := clamp(s.X+dirX*MuzzleOffset, ProjectileRadius, ArenaExtent-ProjectileRadius)
	py := clamp(s.Y+dirY*MuzzleOffset, ProjectileRadius, ArenaExtent-ProjectileRadius)
	vx := dirX * ProjectileSpeed
	vy := dirY * ProjectileSpeed

	lagMs := clamp(s.Input.LagCompMs, 0, MaxLagCompMs)
	ttl := ProjectileTTLMs

	if lagMs > 0 {
		if hit, hx, hy := w.rewindHitScan(s, px, py, vx, vy, lagMs); hit {
			w.Projectiles = append(w.Projectiles, &Projectile{
				ID:      w.nextProjectileID(),
				OwnerID: s.ID,
				X:       quant(hx),
				Y:       quant(hy),
				TTLMs:   50,
				Kind:    KindBullet,
			})
			return
		}
		// No rewound hit: the projectile has already flown the lag window.
		px += vx * lagMs / 1000
		py += vy * lagMs / 1000
		ttl -= lagMs
	}

	w.Projectiles = append(w.Projectiles, &Projectile{
		ID:        w.nextProjectileID(),
		OwnerID:   s.ID,
		X:         quant(px),
		Y:         quant(py),
		VX:        quant(vx),
		VY:        quant(vy),
		TTLMs:     ttl,
		Damage:    ProjectileDamage,
		Kind:      KindBullet,
		LagCompMs: lagMs,
	})
}

// rewindHitScan walks the projectile's would-be path across the lag window
// in 16 ms substeps, testing each sampled point against the other ships'
// rewound positions. On the first overlap it applies damage and reports the
// impact point.
func (w *World) rewindHitScan(shooter *Ship, px, py, vx, vy, lagMs float64) (bool, float64, float64) {
	substeps := int(math.Ceil(lagMs / HistoryTickMs))
	for step := 0; step < substeps; step++ {
		tMs := math.Min(float64(step+1)*HistoryTickMs, lagMs)
		sx := px + vx*tMs/1000
		sy := py + vy*tMs/1000
		rewindMs := math.Max(0, lagMs-float64(step+1)*HistoryTickMs)
		for _, id := range w.Order {
			target := w.Players[id]
			if target == nil || !target.Alive || target.ID == shooter.ID {
				continue
			}
			tx, ty := rewoundPosition(target, rewindMs)
			if dist(sx, sy, tx, ty) <= PlayerRadius+ProjectileRadius {
				w.applyDamage(target, shooter.ID, ProjectileDamage)
				return true, sx, sy
			}
		}
	}
	return false, 0, 0
}

// updateProjectiles ages, integrates, and collides every projectile.
// Zero-damage markers only age out.
func (w *World) updateProjectiles(dtMs float64) {
	dt := dtMs / 1000
	kept := w.Projectiles[:0]
	for _, p := range w.Projectiles {
		p.TTLMs -= dtMs
		if p.TTLMs <= 0 {
			if p.Kind == KindBomb {
				w.detonateBomb(p)
			}
			continue
		}

		p.X = quant(p.X + p.VX*dt)
		p.Y = quant(p.Y + p.VY*dt)

		if p.X < ProjectileRadius || p.X > ArenaExtent-ProjectileRadius ||
			p.Y < ProjectileRadius || p.Y > ArenaExtent-ProjectileRadius {
			if p.Kind == KindBomb {
				w.detonateBomb(p)
			}
			continue
		}

		if p.Damage > 0 && w.collideProjectile(p) {
			continue
		}

		kept = append(kept, p)
	}
	w.Projectiles = kept
}

// collideProjectile tests p against every other alive ship at both its
// current position and, when the projectile carries a lag window, its
// rewound position. Reports whether the projectile was consumed.
func (w *World) collideProjectile(p *Projectile) bool {
	for _, id := range w.Order {
		target := w.Players[id]
		if target == nil || !target.Alive || target.ID == p.OwnerID {
			continue
		}
		hit := dist(p.X, p.Y, target.X, target.Y) <= PlayerRadius+ProjectileRadius
		if !hit && p.LagCompMs > 0 {
			tx, ty := rewoundPosition(target, p.LagCompMs)
			hit = dist(p.X, p.Y, tx, ty) <= PlayerRadius+ProjectileRadius
		}
		if !hit {
			continue
		}
		if p.Kind == KindBomb {
			w.detonateBomb(p)
		} else {
			w.applyDamage(target, p.OwnerID, p.Damage)
		}
		return true
	}
	return false
}
