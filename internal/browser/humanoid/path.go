// internal/browser/humanoid/path.go
package humanoid

import (
	"context"
	"math"
	"time"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// curvature bounds for the bezier control points, as fractions of the
// chord length. Real reaches bow outward a little; huge arcs read as
// synthetic just as badly as ruler-straight lines do.
const (
	curveMin = 0.06
	curveMax = 0.22
)

// planPath lays a cubic bezier from a to b and samples it into
// waypoints. Control points sit perpendicular to the chord at randomized
// offsets, both usually on the same side so the path bows like a wrist
// arc instead of snaking.
func (d *Driver) planPath(a, b Vec2) []Vec2 {
	chord := b.Sub(a)
	dist := chord.Len()
	if dist < 2 {
		return []Vec2{b}
	}

	side := 1.0
	if d.chance(0.5) {
		side = -1.0
	}
	perp := chord.perp().Unit()

	bow1 := (curveMin + d.rng.Float64()*(curveMax-curveMin)) * dist * side
	bow2 := (curveMin + d.rng.Float64()*(curveMax-curveMin)) * dist * side
	// occasionally the correction phase crosses the chord
	if d.chance(0.18) {
		bow2 = -bow2 * 0.5
	}

	c1 := lerp(a, b, 0.25+d.rng.Float64()*0.15).Add(perp.Scale(bow1))
	c2 := lerp(a, b, 0.65+d.rng.Float64()*0.15).Add(perp.Scale(bow2))

	// sample density scales with distance, clamped so short hops still
	// get a few intermediate events and long reaches don't flood CDP
	steps := int(dist / 14)
	if steps < 6 {
		steps = 6
	}
	if steps > 52 {
		steps = 52
	}

	pts := make([]Vec2, 0, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps))
		pts = append(pts, cubicBezier(a, c1, c2, b, t))
	}
	return pts
}

func cubicBezier(p0, p1, p2, p3 Vec2, t float64) Vec2 {
	u := 1 - t
	w0 := u * u * u
	w1 := 3 * u * u * t
	w2 := 3 * u * t * t
	w3 := t * t * t
	return Vec2{
		X: w0*p0.X + w1*p1.X + w2*p2.X + w3*p3.X,
		Y: w0*p0.Y + w1*p1.Y + w2*p2.Y + w3*p3.Y,
	}
}

// playPath walks the pointer through pts over roughly total, dispatching
// a mousemove per waypoint. Perlin drift plus a touch of gaussian tremor
// is layered on each point so the samples never sit exactly on the
// ideal curve.
func (d *Driver) playPath(ctx context.Context, pts []Vec2, total time.Duration) error {
	if len(pts) == 0 {
		return nil
	}
	stepDur := total / time.Duration(len(pts))
	if stepDur < 4*time.Millisecond {
		stepDur = 4 * time.Millisecond
	}

	amp := d.prof.jitterAmplitude
	for i, p := range pts {
		jx := d.driftSample(0.13) * amp
		jy := d.driftSample(0.11) * amp
		jx += d.rng.NormFloat64() * amp * 0.15
		jy += d.rng.NormFloat64() * amp * 0.15

		// land the final event on the true endpoint
		if i == len(pts)-1 {
			jx, jy = 0, 0
		}

		ev := schemas.MouseEventData{
			Type:   schemas.MouseMove,
			X:      p.X + jx,
			Y:      p.Y + jy,
			Button: schemas.ButtonNone,
		}
		if err := d.backend.DispatchMouseEvent(ctx, ev); err != nil {
			return err
		}
		d.pos = Vec2{ev.X, ev.Y}

		// +-30% per-step wobble keeps the event timestamps irregular
		wobble := 0.7 + d.rng.Float64()*0.6
		if err := d.sleep(ctx, time.Duration(float64(stepDur)*wobble)); err != nil {
			return err
		}
	}
	d.pos = pts[len(pts)-1]
	return nil
}

// travelTime converts a planned reach into a duration via Fitts's law,
// scaled by the profile's speed multiplier and current fatigue.
func (d *Driver) travelTime(dist, targetWidth float64) time.Duration {
	ms := fittsTravelMs(dist, targetWidth) * d.prof.moveSpeed * d.slack()
	// never let a reach complete implausibly fast
	ms = math.Max(ms, 90)
	return time.Duration(ms * float64(time.Millisecond))
}
