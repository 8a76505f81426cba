package sim

// Tuning constants for the arena. Distances are in arena units, rates are
// per second, durations in milliseconds. Changing any of these changes the
// deterministic replay of every match.
const (
	ArenaExtent = 100.0

	TurnRate     = 3.8  // rad/s
	ForwardAccel = 55.0 // u/s^2
	ReverseAccel = 28.0 // u/s^2
	DragFactor   = 0.18 // velocity *= exp(-DragFactor*dt)
	MaxSpeed     = 32.0 // u/s

	PlayerRadius     = 2.5
	ProjectileRadius = 0.8
	PickupRadius     = 2.8

	ProjectileSpeed  = 70.0
	ProjectileTTLMs  = 1200.0
	ProjectileDamage = 30.0
	MuzzleOffset     = PlayerRadius + 0.5

	FireCooldownMs = 160.0
	MaxLagCompMs   = 120.0
	MaxHP          = 100.0

	PickupSpawnPeriodTicks = 120
	MaxPickups             = 3
	PickupInset            = PickupRadius + 5
	UsesPerPickup          = 3

	LaserDPS        = 80.0
	LaserRange      = 55.0
	LaserHalfWidth  = 0.6
	LaserBurnMs     = 2000.0

	BombSpeed      = 50.0
	BombDamage     = 60.0
	BombRadius     = 8.0
	BombTTLMs      = 1600.0
	BombEdgeFactor = 0.4 // damage fall-off floor at blast edge

	NovaDamage     = 50.0
	NovaRadius     = 15.0
	NovaEdgeFactor = 0.5
	NovaCooldownMs = 3 * FireCooldownMs

	ExplosionEffectTTLMs = 500.0
	NovaEffectTTLMs      = 400.0

	RoundDurationMs = 180000.0

	// HistoryTickMs is the assumed sample spacing when converting a lag
	// window into history ticks.
	HistoryTickMs  = 16.0
	HistorySamples = 30

	// HPTieEpsilon is the tolerance used when ranking ships by hit points
	// at timeout.
	HPTieEpsilon = 1e-4
)
