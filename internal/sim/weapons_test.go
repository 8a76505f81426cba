package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedHistory fills a ship's ring with its current position, as if it had
// been stationary for the whole window.
func seedHistory(s *Ship) {
	for i := 0; i < HistorySamples; i++ {
		s.History.Push(s.X, s.Y)
	}
}

func TestLagCompensatedPointBlankHit(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	b := w.Players["b"]
	b.X = 24 // six units from a at (18,50)
	seedHistory(a)
	seedHistory(b)

	w.ApplyInput("a", Input{FirePressed: true, LagCompMs: 80})
	w.Tick(dtMs)

	// Damage lands in the same tick as the fire press.
	assert.Equal(t, 70.0, b.HP)
	assert.Equal(t, 30.0, a.Stats.DamageDealt)

	// The only projectile left is the short-lived visual marker.
	require.Len(t, w.Projectiles, 1)
	marker := w.Projectiles[0]
	assert.Equal(t, 0.0, marker.Damage)
	assert.Equal(t, KindBullet, marker.Kind)
	assert.LessOrEqual(t, marker.TTLMs, 50.0)

	// The marker ages out without dealing further damage.
	for i := 0; i < 4; i++ {
		w.Tick(dtMs)
	}
	assert.Empty(t, w.Projectiles)
	assert.Equal(t, 70.0, b.HP)
}

func TestLagMissAdvancesSpawn(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	seedHistory(a)
	seedHistory(w.Players["b"])

	w.ApplyInput("a", Input{FirePressed: true, LagCompMs: 96})
	w.Tick(dtMs)

	require.Len(t, w.Projectiles, 1)
	p := w.Projectiles[0]
	assert.Equal(t, ProjectileDamage, p.Damage)
	assert.Equal(t, 96.0, p.LagCompMs)
	// Spawn advanced by the lag window and ttl reduced by it, then one tick
	// of normal integration ran.
	wantX := quant(quant(a.X+MuzzleOffset+ProjectileSpeed*0.096) + ProjectileSpeed*0.016)
	assert.InDelta(t, wantX, p.X, 1e-9)
	assert.Equal(t, ProjectileTTLMs-96-dtMs, p.TTLMs)
}

func TestRewoundCollisionUsesHistory(t *testing.T) {
	w := newTestWorld()
	b := w.Players["b"]

	// b used to sit at x=40 and has since warped away; a projectile with a
	// lag window still hits the historical position.
	b.X = 40
	seedHistory(b)
	b.X = 80

	w.Projectiles = append(w.Projectiles, &Projectile{
		ID: "p1", OwnerID: "a",
		X: 39, Y: 50, VX: 0, VY: 0,
		TTLMs: 500, Damage: ProjectileDamage, Kind: KindBullet, LagCompMs: 80,
	})
	w.updateProjectiles(dtMs)

	assert.Empty(t, w.Projectiles)
	assert.Equal(t, 70.0, b.HP)
}

func TestBombFireAndDetonation(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	b := w.Players["b"]
	a.Weapon = WeaponBomb
	a.WeaponUses = 3

	w.ApplyInput("a", Input{FirePressed: true})
	w.Tick(dtMs)

	require.Len(t, w.Projectiles, 1)
	p := w.Projectiles[0]
	assert.Equal(t, KindBomb, p.Kind)
	assert.InDelta(t, BombSpeed, math.Hypot(p.VX, p.VY), 1e-6)
	assert.Equal(t, 2, a.WeaponUses)
	assert.Equal(t, 2*FireCooldownMs, a.FireCooldownMs)

	// Fly until impact with b; the blast damages b and leaves an explosion.
	for i := 0; i < 120 && len(w.Projectiles) > 0; i++ {
		w.Tick(dtMs)
	}
	assert.Less(t, b.HP, 100.0)
	assert.Greater(t, b.HP, 30.0) // fall-off: never more than the full 60
	require.NotEmpty(t, w.Effects)
	assert.Equal(t, "explosion", w.Effects[len(w.Effects)-1].Kind)
	// a is far outside the 8-unit blast radius.
	assert.Equal(t, 100.0, a.HP)
}

func TestBombOwnerSelfDamage(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	b := w.Players["b"]
	b.X = a.X
	b.Y = a.Y

	w.detonateBomb(&Projectile{ID: "p1", OwnerID: "a", X: a.X, Y: a.Y, Kind: KindBomb})

	// Both at blast center: b takes 60, the owner half of that.
	assert.Equal(t, 40.0, b.HP)
	assert.Equal(t, 70.0, a.HP)
	assert.Equal(t, 0, a.Stats.Kills)
}

func TestBombWeaponClearsAtZeroUses(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	a.Weapon = WeaponBomb
	a.WeaponUses = 1

	w.ApplyInput("a", Input{FirePressed: true})
	w.Tick(dtMs)

	assert.Equal(t, WeaponNone, a.Weapon)
	assert.Equal(t, 0, a.WeaponUses)
}

func TestLaserBurn(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	b := w.Players["b"]
	a.Weapon = WeaponLaser
	a.WeaponUses = 1
	b.X = 50 // 32 units ahead of a, inside the 55-unit range on the beam line
	b.Y = 50
	seedHistory(b)

	w.ApplyInput("a", Input{Fire: true})
	w.Tick(dtMs)

	want := quant(100 - LaserDPS*0.016)
	assert.Equal(t, want, b.HP)
	assert.Equal(t, dtMs, a.LaserActiveMs)

	// Swing the beam away and burn through the rest of the 2000 ms use.
	a.Angle = math.Pi / 2
	for i := 0; i < 125; i++ {
		w.ApplyInput("a", Input{Fire: true})
		w.Tick(dtMs)
	}
	assert.Equal(t, WeaponNone, a.Weapon)
	assert.Equal(t, 0, a.WeaponUses)
	assert.Equal(t, 0.0, a.LaserActiveMs)
	assert.Equal(t, want, b.HP)
}

func TestLaserMissesOffBeam(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	b := w.Players["b"]
	a.Weapon = WeaponLaser
	a.WeaponUses = 1
	b.X = 50
	b.Y = 60 // ten units off the beam line
	seedHistory(b)

	w.ApplyInput("a", Input{Fire: true})
	w.Tick(dtMs)

	assert.Equal(t, 100.0, b.HP)
}

func TestNovaBurst(t *testing.T) {
	w := newTestWorld()
	a := w.Players["a"]
	b := w.Players["b"]
	a.Weapon = WeaponNova
	a.WeaponUses = 3
	b.X = a.X + 10
	b.Y = a.Y
	seedHistory(b)

	w.ApplyInput("a", Input{FirePressed: true})
	w.Tick(dtMs)

	// Linear fall-off to 50% at radius 15: at d=10 the factor is 2/3.
	factor := 1 - (1-NovaEdgeFactor)*(10.0/NovaRadius)
	want := quant(100 - NovaDamage*factor)
	assert.InDelta(t, want, b.HP, 1e-6)
	assert.Equal(t, 2, a.WeaponUses)
	assert.Equal(t, NovaCooldownMs, a.NovaCooldownMs)
	require.NotEmpty(t, w.Effects)
	assert.Equal(t, "nova", w.Effects[0].Kind)

	// A second press while the nova cooldown runs does nothing.
	w.ApplyInput("a", Input{FirePressed: true})
	for i := 0; i < 11; i++ { // clears the 160 ms fire cooldown only
		w.Tick(dtMs)
	}
	w.ApplyInput("a", Input{FirePressed: true})
	w.Tick(dtMs)
	assert.Equal(t, 2, a.WeaponUses)
}
