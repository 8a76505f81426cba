package sim

import "math"

// Tick advances the world by dtMs milliseconds. Ordering is load-bearing:
// countdown and effects first, then ships in join order (movement, firing,
// laser burn), then projectiles, pickups, and terminal resolution.
func (w *World) Tick(dtMs float64) {
	if w.Phase == PhaseFinished {
		return
	}

	w.RemainingMs = math.Max(0, w.RemainingMs-dtMs)
	w.Ticks++

	w.expireEffects(dtMs)

	for _, id := range w.Order {
		s := w.Players[id]
		if s == nil || !s.Alive {
			continue
		}
		w.stepShip(s, dtMs)
	}

	w.updateProjectiles(dtMs)
	w.spawnPickups()
	w.collectPickups()
	w.resolveTerminal()
}

func (w *World) expireEffects(dtMs float64) {
	kept := w.Effects[:0]
	for _, e := range w.Effects {
		e.TTLMs -= dtMs
		if e.TTLMs > 0 {
			kept = append(kept, e)
		}
	}
	w.Effects = kept
}

func (w *World) stepShip(s *Ship, dtMs float64) {
	dt := dtMs / 1000
	in := s.Input

	s.Angle = normalizeAngle(s.Angle + in.Turn*TurnRate*dt)

	accel := ForwardAccel
	if in.Thrust < 0 {
		accel = ReverseAccel
	}
	s.VX += math.Cos(s.Angle) * accel * in.Thrust * dt
	s.VY += math.Sin(s.Angle) * accel * in.Thrust * dt

	decay := math.Exp(-DragFactor * dt)
	s.VX *= decay
	s.VY *= decay

	if speed := math.Hypot(s.VX, s.VY); speed > MaxSpeed {
		scale := MaxSpeed / speed
		s.VX *= scale
		s.VY *= scale
	}

	s.X += s.VX * dt
	s.Y += s.VY * dt
	if s.X < PlayerRadius {
		s.X = PlayerRadius
		if s.VX < 0 {
			s.VX = 0
		}
	} else if s.X > ArenaExtent-PlayerRadius {
		s.X = ArenaExtent - PlayerRadius
		if s.VX > 0 {
			s.VX = 0
		}
	}
	if s.Y < PlayerRadius {
		s.Y = PlayerRadius
		if s.VY < 0 {
			s.VY = 0
		}
	} else if s.Y > ArenaExtent-PlayerRadius {
		s.Y = ArenaExtent - PlayerRadius
		if s.VY > 0 {
			s.VY = 0
		}
	}

	s.X = quant(s.X)
	s.Y = quant(s.Y)
	s.VX = quant(s.VX)
	s.VY = quant(s.VY)
	s.Angle = quant(s.Angle)

	s.History.Push(s.X, s.Y)

	s.FireCooldownMs = math.Max(0, s.FireCooldownMs-dtMs)
	s.NovaCooldownMs = math.Max(0, s.NovaCooldownMs-dtMs)

	if s.Input.FirePressed {
		if s.FireCooldownMs == 0 {
			w.fire(s)
		}
		s.Input.FirePressed = false
	}

	if s.Weapon == WeaponLaser && s.Input.Fire && s.WeaponUses > 0 {
		s.LaserActiveMs += dtMs
		w.applyLaserDamage(s, dt)
		if s.LaserActiveMs >= LaserBurnMs {
			s.LaserActiveMs = 0
			w.consumeUse(s)
		}
	}
}

// fire dispatches a fire press: special weapons take precedence, otherwise a
// standard projectile is spawned.
func (w *World) fire(s *Ship) {
	switch {
	case s.Weapon == WeaponBomb && s.WeaponUses > 0:
		w.fireBomb(s)
	case s.Weapon == WeaponNova && s.WeaponUses > 0:
		if s.NovaCooldownMs == 0 {
			w.fireNova(s)
		}
	case s.Weapon == WeaponLaser && s.WeaponUses > 0:
		// Laser burns while fire is held; a press alone spawns nothing.
	default:
		w.fireBullet(s)
	}
}

// consumeUse decrements the special-weapon counter and clears the special
// when it reaches zero.
func (w *World) consumeUse(s *Ship) {
	s.WeaponUses--
	if s.WeaponUses <= 0 {
		s.WeaponUses = 0
		s.Weapon = WeaponNone
		s.LaserActiveMs = 0
	}
}

// applyDamage deals amount to target, crediting ownerID's stats and kill
// count. Self-damage never credits stats.
func (w *World) applyDamage(target *Ship, ownerID string, amount float64) {
	if target == nil || !target.Alive || amount <= 0 {
		return
	}
	target.HP = quant(math.Max(0, target.HP-amount))
	owner := w.Players[ownerID]
	if owner != nil && ownerID != target.ID {
		owner.Stats.DamageDealt = quant(owner.Stats.DamageDealt + amount)
	}
	if target.HP <= 0 {
		target.Alive = false
		target.Stats.Deaths++
		if owner != nil && ownerID != target.ID {
			owner.Stats.Kills++
		}
	}
}

// Terminal describes the outcome of IsTerminal.
type Terminal struct {
	Terminal    bool
	WinnerIDs   []string
	Reason      EndReason
	FinalTick   int64
	RemainingMs float64
}

// IsTerminal reports whether the world has reached a terminal state.
func (w *World) IsTerminal() Terminal {
	return Terminal{
		Terminal:    w.Phase == PhaseFinished,
		WinnerIDs:   w.WinnerIDs,
		Reason:      w.Reason,
		FinalTick:   w.Ticks,
		RemainingMs: w.RemainingMs,
	}
}

// resolveTerminal flips the world to finished on elimination or timeout.
func (w *World) resolveTerminal() {
	if w.Phase == PhaseFinished {
		return
	}

	var alive []string
	for _, id := range w.Order {
		if s := w.Players[id]; s != nil && s.Alive {
			alive = append(alive, id)
		}
	}
	if len(alive) <= 1 {
		w.Phase = PhaseFinished
		w.WinnerIDs = alive
		w.Reason = ReasonElimination
		return
	}

	if w.RemainingMs <= 0 {
		best := math.Inf(-1)
		for _, id := range w.Order {
			if s := w.Players[id]; s != nil && s.HP > best {
				best = s.HP
			}
		}
		var winners []string
		for _, id := range w.Order {
			if s := w.Players[id]; s != nil && math.Abs(s.HP-best) <= HPTieEpsilon {
				winners = append(winners, id)
			}
		}
		w.Phase = PhaseFinished
		w.WinnerIDs = winners
		w.Reason = ReasonTimeout
	}
}
