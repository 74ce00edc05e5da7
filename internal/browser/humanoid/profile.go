// internal/browser/humanoid/profile.go
package humanoid

import (
	"time"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

// profile is the resolved runtime shape of config.HumanoidConfig. Values
// are pre-converted to the units the driver samples in so the hot paths
// never touch the config package again.
type profile struct {
	keyDelayMin time.Duration
	keyDelayMax time.Duration
	keyHoldMu   float64 // ms, mean key-down duration
	typoRate    float64

	clickHoldMin time.Duration
	clickHoldMax time.Duration

	moveSpeed       float64 // multiplier on base travel time, >1 is slower
	jitterAmplitude float64 // px, perlin drift envelope
	overshootChance float64

	fatigueEnabled bool
	// fatigue accumulates per action and decays during pauses. Both are
	// unitless fractions of the 0..1 fatigue scale.
	fatigueIncrease float64
	fatigueRecover  float64
}

func newProfile(cfg config.HumanoidConfig) *profile {
	p := &profile{
		keyDelayMin:     time.Duration(cfg.KeyDelayMinMs) * time.Millisecond,
		keyDelayMax:     time.Duration(cfg.KeyDelayMaxMs) * time.Millisecond,
		keyHoldMu:       cfg.KeyHoldMu,
		typoRate:        cfg.TypoRate,
		clickHoldMin:    time.Duration(cfg.ClickHoldMinMs) * time.Millisecond,
		clickHoldMax:    time.Duration(cfg.ClickHoldMaxMs) * time.Millisecond,
		moveSpeed:       cfg.MoveSpeed,
		jitterAmplitude: cfg.JitterAmplitude,
		overshootChance: cfg.OvershootChance,
		fatigueEnabled:  cfg.FatigueEnabled,
		fatigueIncrease: 0.004,
		fatigueRecover:  0.02,
	}
	// Guard the degenerate configs rather than trusting every caller to
	// have run Validate.
	if p.keyDelayMax < p.keyDelayMin {
		p.keyDelayMax = p.keyDelayMin
	}
	if p.clickHoldMax < p.clickHoldMin {
		p.clickHoldMax = p.clickHoldMin
	}
	if p.moveSpeed <= 0 {
		p.moveSpeed = 1.0
	}
	if p.keyHoldMu <= 0 {
		p.keyHoldMu = 62.0
	}
	return p
}

// tire pushes the fatigue level up after an action and clamps it.
func (d *Driver) tire(weight float64) {
	if !d.prof.fatigueEnabled {
		return
	}
	d.fatigue += d.prof.fatigueIncrease * weight
	if d.fatigue > 1.0 {
		d.fatigue = 1.0
	}
}

// rest lets fatigue decay in proportion to how long the hands were idle.
func (d *Driver) rest(idle time.Duration) {
	if !d.prof.fatigueEnabled || d.fatigue == 0 {
		return
	}
	d.fatigue -= d.prof.fatigueRecover * idle.Seconds()
	if d.fatigue < 0 {
		d.fatigue = 0
	}
}

// slack is the fatigue multiplier applied to every sampled delay. A
// tired hand is a slower hand, up to ~40% slower at full fatigue.
func (d *Driver) slack() float64 {
	return 1.0 + d.fatigue*0.4
}
