// internal/browser/humanoid/pointer.go
package humanoid

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// directClickScript is the degraded path for elements CDP cannot measure
// (hidden, zero-sized, or inside a closed shadow root). A synthetic DOM
// click is detectable, but it beats failing the whole run on a quirk of
// the page's layout.
const directClickScript = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) { throw new Error('no element matching ' + sel); }
	el.click();
	return true;
}`

// aimPoint picks a landing coordinate inside the element. Humans do not
// click dead center; the point is drawn from a gaussian around center
// with spread proportional to the element size, clamped to stay within
// the quad's inner margin.
func (d *Driver) aimPoint(geo *schemas.ElementGeometry) (Vec2, error) {
	if geo == nil || len(geo.Vertices) < 8 {
		return Vec2{}, fmt.Errorf("element geometry has no usable quad")
	}
	var cx, cy float64
	n := len(geo.Vertices) / 2
	for i := 0; i < n; i++ {
		cx += geo.Vertices[2*i]
		cy += geo.Vertices[2*i+1]
	}
	cx /= float64(n)
	cy /= float64(n)

	w := float64(geo.Width)
	h := float64(geo.Height)
	if w < 1 || h < 1 {
		return Vec2{}, fmt.Errorf("element has zero-sized box (%dx%d)", geo.Width, geo.Height)
	}

	dx := d.rng.NormFloat64() * w / 6
	dy := d.rng.NormFloat64() * h / 6
	// keep a margin so the jittered point can't slip off the element
	dx = math.Max(-w/2*0.8, math.Min(w/2*0.8, dx))
	dy = math.Max(-h/2*0.8, math.Min(h/2*0.8, dy))

	return Vec2{X: cx + dx, Y: cy + dy}, nil
}

// moveTo walks the pointer from its current position to dst, optionally
// overshooting and correcting on long reaches the way a fast hand does.
func (d *Driver) moveTo(ctx context.Context, dst Vec2, targetWidth float64) error {
	dist := d.pos.Dist(dst)
	if dist < 1.5 {
		return nil
	}

	if dist > 220 && d.chance(d.prof.overshootChance) {
		over := dst.Add(dst.Sub(d.pos).Unit().Scale(8 + d.rng.Float64()*18))
		if err := d.playPath(ctx, d.planPath(d.pos, over), d.travelTime(dist, targetWidth)); err != nil {
			return err
		}
		// brief realization-and-correct beat
		if err := d.sleep(ctx, d.gaussMs(70, 25)); err != nil {
			return err
		}
		corr := d.pos.Dist(dst)
		return d.playPath(ctx, d.planPath(d.pos, dst), d.travelTime(corr, targetWidth))
	}

	return d.playPath(ctx, d.planPath(d.pos, dst), d.travelTime(dist, targetWidth))
}

// MoveTo positions the pointer over the element without clicking.
func (d *Driver) MoveTo(ctx context.Context, selector string) error {
	geo, err := d.backend.ElementGeometry(ctx, selector)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", selector, err)
	}
	aim, err := d.aimPoint(geo)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", selector, err)
	}
	if err := d.moveTo(ctx, aim, float64(geo.Width)); err != nil {
		return err
	}
	d.tire(0.5)
	return nil
}

// Click reaches the element and performs a press/release pair with a
// randomized hold. When the element's geometry cannot be resolved the
// click degrades to a direct DOM click rather than failing the action.
func (d *Driver) Click(ctx context.Context, selector string) error {
	geo, geoErr := d.backend.ElementGeometry(ctx, selector)
	var aim Vec2
	if geoErr == nil {
		aim, geoErr = d.aimPoint(geo)
	}
	if geoErr != nil {
		d.log.Debug("geometry unresolvable, using direct click",
			zap.String("selector", selector),
			zap.Error(geoErr))
		if _, err := d.backend.RunScript(ctx, directClickScript, []interface{}{selector}); err != nil {
			return fmt.Errorf("direct click on %q: %w", selector, err)
		}
		d.tire(1)
		return nil
	}

	if err := d.moveTo(ctx, aim, float64(geo.Width)); err != nil {
		return err
	}
	// settle beat between arrival and press
	if err := d.sleep(ctx, d.gaussMs(60, 20)); err != nil {
		return err
	}

	press := schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          d.pos.X,
		Y:          d.pos.Y,
		Button:     schemas.ButtonLeft,
		Buttons:    1,
		ClickCount: 1,
	}
	if err := d.backend.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	if err := d.sleep(ctx, d.randDur(d.prof.clickHoldMin, d.prof.clickHoldMax)); err != nil {
		return err
	}
	release := press
	release.Type = schemas.MouseRelease
	release.Buttons = 0
	if err := d.backend.DispatchMouseEvent(ctx, release); err != nil {
		return err
	}
	d.tire(1)
	return nil
}
