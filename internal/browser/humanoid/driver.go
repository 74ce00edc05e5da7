// internal/browser/humanoid/driver.go
// Package humanoid synthesizes believable pointer and keyboard activity
// on top of a raw input backend. Trajectories, cadence and noise are
// modeled on the motor behavior literature (Fitts's law travel times,
// ballistic sub-movements with correction) rather than fixed sleeps, so
// automated sessions do not present the metronomic signature that
// trips behavioral bot scoring.
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

// Driver produces humanized input events against a single page. It is
// not safe for concurrent use; a page has one pair of hands.
type Driver struct {
	backend Backend
	prof    *profile
	log     *zap.Logger

	rng *rand.Rand

	// drift is the 1D perlin field sampled for micro-jitter along
	// pointer paths. driftT is the read cursor into the field.
	drift  *perlin.Perlin
	driftT float64

	// pos is the driver's belief about where the pointer currently is.
	pos     Vec2
	fatigue float64
}

// New builds a Driver over the given backend. A zero cfg.Seed picks a
// time-derived seed; fixing the seed makes every sampled delay and path
// reproducible, which the tests lean on.
func New(backend Backend, cfg config.HumanoidConfig, log *zap.Logger) *Driver {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		backend: backend,
		prof:    newProfile(cfg),
		log:     log,
		rng:     rand.New(rand.NewSource(seed)),
		drift:   perlin.NewPerlin(2, 2, 3, seed),
		// start somewhere plausible instead of (0,0) in the corner
		pos: Vec2{X: 180 + float64(seed%97), Y: 140 + float64(seed%61)},
	}
}

// NewTest builds a deterministic Driver for tests: fixed seed, default
// profile, nop logger.
func NewTest(backend Backend, seed int64) *Driver {
	cfg := config.HumanoidConfig{}
	cfg.ApplyDefaults()
	cfg.Seed = seed
	return New(backend, cfg, zap.NewNop())
}

// randDur samples uniformly from [min, max], stretched by fatigue.
func (d *Driver) randDur(min, max time.Duration) time.Duration {
	if max <= min {
		return time.Duration(float64(min) * d.slack())
	}
	span := float64(max - min)
	return time.Duration((float64(min) + d.rng.Float64()*span) * d.slack())
}

// gaussMs samples a normal distribution in milliseconds, clamped to a
// small positive floor so a lucky draw never becomes a zero-length hold.
func (d *Driver) gaussMs(mu, sigma float64) time.Duration {
	ms := d.rng.NormFloat64()*sigma + mu*d.slack()
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (d *Driver) chance(p float64) bool {
	return d.rng.Float64() < p
}

// driftSample advances the perlin cursor and returns a value in [-1, 1].
func (d *Driver) driftSample(step float64) float64 {
	d.driftT += step
	return d.drift.Noise1D(d.driftT)
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	return d.backend.Sleep(ctx, dur)
}

// easeInOutCubic maps linear progress to the slow-fast-slow velocity
// curve of a deliberate hand movement.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := 2*t - 2
	return 1 + f*f*f/2
}

// fittsTravelMs estimates base travel time for a reach of dist px onto
// a target of width px using Fitts's law (MT = a + b*log2(1 + D/W)).
// Constants are tuned for trackpad-speed movement.
func fittsTravelMs(dist, width float64) float64 {
	if dist < 1 {
		return 0
	}
	if width < 4 {
		width = 4
	}
	return 110 + 96*math.Log2(1+dist/width)
}
