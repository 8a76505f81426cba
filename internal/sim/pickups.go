package sim

import "math"

// Pseudo-random stream constants. The generator is the classic
// frac(sin(x*12.9898)*43758.5453) shader hash; replacing it would change
// every pickup position in every replay.
var pickupStreams = [3]int64{7919, 1543, 3571}

// prand maps an integer to a reproducible value in [0,1).
func prand(x int64) float64 {
	v := math.Sin(float64(x)*12.9898) * 43758.5453
	return v - math.Floor(v)
}

// spawnPickups places a new pickup every PickupSpawnPeriodTicks ticks while
// fewer than MaxPickups are on the field. Placement and type derive only
// from the seed and the tick counter.
func (w *World) spawnPickups() {
	if w.Ticks%PickupSpawnPeriodTicks != 0 || len(w.Pickups) >= MaxPickups {
		return
	}

	r0 := prand(w.Seed + w.Ticks*pickupStreams[0])
	r1 := prand(w.Seed + w.Ticks*pickupStreams[1])
	r2 := prand(w.Seed + w.Ticks*pickupStreams[2])

	span := ArenaExtent - 2*PickupInset
	x := quant(PickupInset + r0*span)
	y := quant(PickupInset + r1*span)

	types := [3]WeaponType{WeaponLaser, WeaponBomb, WeaponNova}
	idx := int(r2 * 3)
	if idx > 2 {
		idx = 2
	}

	w.Pickups = append(w.Pickups, &Pickup{
		ID:    w.nextPickupID(),
		X:     x,
		Y:     y,
		Type:  types[idx],
		Value: UsesPerPickup,
	})
}

// collectPickups hands each pickup to the first alive ship overlapping it.
// The ship's previous special is replaced outright.
func (w *World) collectPickups() {
	kept := w.Pickups[:0]
	for _, p := range w.Pickups {
		collected := false
		for _, id := range w.Order {
			s := w.Players[id]
			if s == nil || !s.Alive {
				continue
			}
			if dist(s.X, s.Y, p.X, p.Y) <= PlayerRadius+PickupRadius {
				s.Weapon = p.Type
				s.WeaponUses = p.Value
				s.LaserActiveMs = 0
				s.Stats.PickupsCollected++
				collected = true
				break
			}
		}
		if !collected {
			kept = append(kept, p)
		}
	}
	w.Pickups = kept
}
