// internal/browser/humanoid/idle.go
package humanoid

import (
	"context"
	"time"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// Pause idles for a gaussian-distributed interval. Long pauses carry a
// little aimless pointer drift, because nobody's cursor is pixel-frozen
// while they read. Idle time is also when fatigue drains back off.
func (d *Driver) Pause(ctx context.Context, meanMs, stdDevMs float64) error {
	dur := d.gaussMs(meanMs, stdDevMs)
	start := time.Now()

	if dur > 600*time.Millisecond && d.chance(0.55) {
		lead := time.Duration(float64(dur) * (0.2 + d.rng.Float64()*0.3))
		if err := d.sleep(ctx, lead); err != nil {
			return err
		}
		if err := d.idleDrift(ctx); err != nil {
			return err
		}
	}

	if remaining := dur - time.Since(start); remaining > 0 {
		if err := d.sleep(ctx, remaining); err != nil {
			return err
		}
	}
	d.rest(dur)
	return nil
}

// Hesitate is a short cognitive beat, the kind people take between
// reading a field label and acting on it.
func (d *Driver) Hesitate(ctx context.Context) error {
	return d.Pause(ctx, 320, 140)
}

// idleDrift wanders the pointer a short distance at reading speed.
func (d *Driver) idleDrift(ctx context.Context) error {
	dst := d.pos.Add(Vec2{
		X: d.rng.NormFloat64() * 35,
		Y: d.rng.NormFloat64() * 25,
	})
	if dst.X < 5 {
		dst.X = 5
	}
	if dst.Y < 5 {
		dst.Y = 5
	}
	dist := d.pos.Dist(dst)
	if dist < 2 {
		return nil
	}
	// drift is slower than a purposeful reach
	dur := time.Duration(fittsTravelMs(dist, 40) * 2.2 * float64(time.Millisecond))
	return d.playPath(ctx, d.planPath(d.pos, dst), dur)
}

// SettleScroll performs a short read-like scroll: a few downward wheel
// bursts with reading pauses, sometimes a small corrective scroll back
// up. It exists purely to make the session's event stream look lived-in
// after navigation.
func (d *Driver) SettleScroll(ctx context.Context) error {
	bursts := 2 + d.rng.Intn(3)
	for i := 0; i < bursts; i++ {
		if err := d.wheelBurst(ctx, 1); err != nil {
			return err
		}
		if err := d.Pause(ctx, 700, 280); err != nil {
			return err
		}
	}
	if d.chance(0.4) {
		if err := d.wheelBurst(ctx, -1); err != nil {
			return err
		}
	}
	return nil
}

// wheelBurst emits a run of wheel ticks in one direction. Tick deltas
// match typical mouse wheel detents with trackpad-ish jitter.
func (d *Driver) wheelBurst(ctx context.Context, dir float64) error {
	ticks := 2 + d.rng.Intn(4)
	for i := 0; i < ticks; i++ {
		delta := (80 + d.rng.Float64()*60) * dir
		ev := schemas.MouseEventData{
			Type:   schemas.MouseWheel,
			X:      d.pos.X,
			Y:      d.pos.Y,
			Button: schemas.ButtonNone,
			DeltaY: delta,
		}
		if err := d.backend.DispatchMouseEvent(ctx, ev); err != nil {
			return err
		}
		if err := d.sleep(ctx, d.gaussMs(85, 30)); err != nil {
			return err
		}
	}
	return nil
}
