package game

// ChangedEntities carries every scalar and entity that differs from the
// previous projected state. Entity collections hold full entities.
type ChangedEntities struct {
	Phase       *string            `json:"phase,omitempty"`
	Tick        *int64             `json:"tick,omitempty"`
	RemainingMs *float64           `json:"remaining_ms,omitempty"`
	Players     map[string]NetShip `json:"players,omitempty"`
	Projectiles []NetProjectile    `json:"projectiles,omitempty"`
	Pickups     []NetPickup        `json:"pickups,omitempty"`
	Effects     []NetEffect        `json:"effects,omitempty"`
	WinnerIDs   []string           `json:"winner_ids,omitempty"`
	Reason      *string            `json:"reason,omitempty"`
}

// RemovedEntities lists ids present in the previous state but gone now.
type RemovedEntities struct {
	Players     []string `json:"players,omitempty"`
	Projectiles []string `json:"projectiles,omitempty"`
	Pickups     []string `json:"pickups,omitempty"`
	Effects     []string `json:"effects,omitempty"`
}

// Delta is the incremental patch broadcast in state_delta frames.
// ApplyDelta(prev, BuildDelta(prev, next)) reproduces next exactly.
type Delta struct {
	Changed ChangedEntities `json:"changed_entities"`
	Removed RemovedEntities `json:"removed_entities"`
}

// BuildDelta diffs two consecutive projected states. With no previous state
// everything is emitted as changed and the removed set is empty.
func BuildDelta(prev *NetState, next NetState) Delta {
	var d Delta

	if prev == nil || prev.Phase != next.Phase {
		d.Changed.Phase = &next.Phase
	}
	if prev == nil || prev.Tick != next.Tick {
		d.Changed.Tick = &next.Tick
	}
	if prev == nil || prev.RemainingMs != next.RemainingMs {
		d.Changed.RemainingMs = &next.RemainingMs
	}
	if prev == nil || !sameIDs(prev.WinnerIDs, next.WinnerIDs) {
		if next.WinnerIDs != nil {
			d.Changed.WinnerIDs = next.WinnerIDs
		}
	}
	if prev == nil || prev.Reason != next.Reason {
		if next.Reason != "" {
			d.Changed.Reason = &next.Reason
		}
	}

	for id, ship := range next.Players {
		if prev == nil {
			if d.Changed.Players == nil {
				d.Changed.Players = map[string]NetShip{}
			}
			d.Changed.Players[id] = ship
			continue
		}
		if old, ok := prev.Players[id]; !ok || old != ship {
			if d.Changed.Players == nil {
				d.Changed.Players = map[string]NetShip{}
			}
			d.Changed.Players[id] = ship
		}
	}

	if prev != nil {
		for id := range prev.Players {
			if _, ok := next.Players[id]; !ok {
				d.Removed.Players = append(d.Removed.Players, id)
			}
		}
	}

	d.Changed.Projectiles, d.Removed.Projectiles = diffProjectiles(prev, next)
	d.Changed.Pickups, d.Removed.Pickups = diffPickups(prev, next)
	d.Changed.Effects, d.Removed.Effects = diffEffects(prev, next)

	return d
}

func diffProjectiles(prev *NetState, next NetState) ([]NetProjectile, []string) {
	var old map[string]NetProjectile
	if prev != nil {
		old = make(map[string]NetProjectile, len(prev.Projectiles))
		for _, p := range prev.Projectiles {
			old[p.ID] = p
		}
	}
	var changed []NetProjectile
	seen := make(map[string]bool, len(next.Projectiles))
	for _, p := range next.Projectiles {
		seen[p.ID] = true
		if o, ok := old[p.ID]; !ok || o != p {
			changed = append(changed, p)
		}
	}
	var removed []string
	if prev != nil {
		for _, p := range prev.Projectiles {
			if !seen[p.ID] {
				removed = append(removed, p.ID)
			}
		}
	}
	return changed, removed
}

func diffPickups(prev *NetState, next NetState) ([]NetPickup, []string) {
	var old map[string]NetPickup
	if prev != nil {
		old = make(map[string]NetPickup, len(prev.Pickups))
		for _, p := range prev.Pickups {
			old[p.ID] = p
		}
	}
	var changed []NetPickup
	seen := make(map[string]bool, len(next.Pickups))
	for _, p := range next.Pickups {
		seen[p.ID] = true
		if o, ok := old[p.ID]; !ok || o != p {
			changed = append(changed, p)
		}
	}
	var removed []string
	if prev != nil {
		for _, p := range prev.Pickups {
			if !seen[p.ID] {
				removed = append(removed, p.ID)
			}
		}
	}
	return changed, removed
}

func diffEffects(prev *NetState, next NetState) ([]NetEffect, []string) {
	var old map[string]NetEffect
	if prev != nil {
		old = make(map[string]NetEffect, len(prev.Effects))
		for _, e := range prev.Effects {
			old[e.ID] = e
		}
	}
	var changed []NetEffect
	seen := make(map[string]bool, len(next.Effects))
	for _, e := range next.Effects {
		seen[e.ID] = true
		if o, ok := old[e.ID]; !ok || o != e {
			changed = append(changed, e)
		}
	}
	var removed []string
	if prev != nil {
		for _, e := range prev.Effects {
			if !seen[e.ID] {
				removed = append(removed, e.ID)
			}
		}
	}
	return changed, removed
}

// ApplyDelta patches a previous projected state with a delta. This is the
// client-side operation; the server keeps it next to BuildDelta so the
// round-trip law stays tested in one place.
func ApplyDelta(prev *NetState, d Delta) NetState {
	var next NetState
	if prev != nil {
		next = *prev
		next.Players = make(map[string]NetShip, len(prev.Players))
		for id, s := range prev.Players {
			next.Players[id] = s
		}
		next.Projectiles = append([]NetProjectile(nil), prev.Projectiles...)
		next.Pickups = append([]NetPickup(nil), prev.Pickups...)
		next.Effects = append([]NetEffect(nil), prev.Effects...)
		next.WinnerIDs = append([]string(nil), prev.WinnerIDs...)
	} else {
		next.Players = map[string]NetShip{}
	}

	if d.Changed.Phase != nil {
		next.Phase = *d.Changed.Phase
	}
	if d.Changed.Tick != nil {
		next.Tick = *d.Changed.Tick
	}
	if d.Changed.RemainingMs != nil {
		next.RemainingMs = *d.Changed.RemainingMs
	}
	if d.Changed.WinnerIDs != nil {
		next.WinnerIDs = d.Changed.WinnerIDs
	}
	if d.Changed.Reason != nil {
		next.Reason = *d.Changed.Reason
	}

	for _, id := range d.Removed.Players {
		delete(next.Players, id)
	}
	for id, ship := range d.Changed.Players {
		next.Players[id] = ship
	}

	next.Projectiles = patchProjectiles(next.Projectiles, d.Changed.Projectiles, d.Removed.Projectiles)
	next.Pickups = patchPickups(next.Pickups, d.Changed.Pickups, d.Removed.Pickups)
	next.Effects = patchEffects(next.Effects, d.Changed.Effects, d.Removed.Effects)

	return next
}

func patchProjectiles(base, changed []NetProjectile, removed []string) []NetProjectile {
	drop := make(map[string]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}
	byID := make(map[string]NetProjectile, len(changed))
	for _, p := range changed {
		byID[p.ID] = p
	}
	out := make([]NetProjectile, 0, len(base)+len(changed))
	for _, p := range base {
		if drop[p.ID] {
			continue
		}
		if upd, ok := byID[p.ID]; ok {
			p = upd
			delete(byID, p.ID)
		}
		out = append(out, p)
	}
	for _, p := range changed {
		if _, pending := byID[p.ID]; pending {
			out = append(out, p)
		}
	}
	return out
}

func patchPickups(base, changed []NetPickup, removed []string) []NetPickup {
	drop := make(map[string]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}
	byID := make(map[string]NetPickup, len(changed))
	for _, p := range changed {
		byID[p.ID] = p
	}
	out := make([]NetPickup, 0, len(base)+len(changed))
	for _, p := range base {
		if drop[p.ID] {
			continue
		}
		if upd, ok := byID[p.ID]; ok {
			p = upd
			delete(byID, p.ID)
		}
		out = append(out, p)
	}
	for _, p := range changed {
		if _, pending := byID[p.ID]; pending {
			out = append(out, p)
		}
	}
	return out
}

func patchEffects(base, changed []NetEffect, removed []string) []NetEffect {
	drop := make(map[string]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}
	byID := make(map[string]NetEffect, len(changed))
	for _, e := range changed {
		byID[e.ID] = e
	}
	out := make([]NetEffect, 0, len(base)+len(changed))
	for _, e := range base {
		if drop[e.ID] {
			continue
		}
		if upd, ok := byID[e.ID]; ok {
			e = upd
			delete(byID, e.ID)
		}
		out = append(out, e)
	}
	for _, e := range changed {
		if _, pending := byID[e.ID]; pending {
			out = append(out, e)
		}
	}
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
