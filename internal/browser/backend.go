// internal/browser/backend.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
)

// cdpBackend adapts a Session into the low-level surface the humanoid
// driver dispatches into. It is the only place where synthetic input
// events become CDP calls.
type cdpBackend struct {
	session *Session
}

var _ humanoid.Backend = (*cdpBackend)(nil)

func (b *cdpBackend) Sleep(ctx context.Context, d time.Duration) error {
	return b.session.RunActions(ctx, chromedp.Sleep(d))
}

func (b *cdpBackend) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
	if data.Type == schemas.MouseWheel {
		p = p.WithDeltaX(data.DeltaX).WithDeltaY(data.DeltaY)
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.session.RunActions(opCtx, p); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("mouse event dispatch timed out: %w", opCtx.Err())
		}
		return err
	}
	return nil
}

func (b *cdpBackend) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.session.RunActions(opCtx, chromedp.KeyEvent(keys)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("key dispatch timed out: %w", opCtx.Err())
		}
		return err
	}
	return nil
}

// DispatchKeyChord presses a modifier combination as a KeyDown/KeyUp
// pair. The modifiers bitmask maps one-to-one onto CDP's.
func (b *cdpBackend) DispatchKeyChord(ctx context.Context, data schemas.KeyEventData) error {
	var mods input.Modifier
	if data.Modifiers&schemas.ModAlt != 0 {
		mods |= input.ModifierAlt
	}
	if data.Modifiers&schemas.ModCtrl != 0 {
		mods |= input.ModifierCtrl
	}
	if data.Modifiers&schemas.ModMeta != 0 {
		mods |= input.ModifierMeta
	}
	if data.Modifiers&schemas.ModShift != 0 {
		mods |= input.ModifierShift
	}

	keyDown := input.DispatchKeyEvent(input.KeyDown).WithModifiers(mods).WithKey(data.Key)
	keyUp := input.DispatchKeyEvent(input.KeyUp).WithModifiers(mods).WithKey(data.Key)

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.session.RunActions(opCtx, keyDown, keyUp); err != nil {
		return fmt.Errorf("dispatching key chord %q: %w", data.Key, err)
	}
	return nil
}

// ElementGeometry measures the selector's border-box quad and reports
// it in viewport coordinates, or errors when the element is absent or
// not visible.
func (b *cdpBackend) ElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	script := fmt.Sprintf(`(function(sel) {
		const node = document.querySelector(sel);
		if (!node) { return null; }

		const rect = node.getBoundingClientRect();
		const style = window.getComputedStyle(node);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
		if (!visible) { return null; }

		return {
			vertices: [
				rect.left, rect.top,
				rect.right, rect.top,
				rect.right, rect.bottom,
				rect.left, rect.bottom
			],
			width: Math.round(rect.width),
			height: Math.round(rect.height),
			tagName: node.tagName || '',
			type: node.type || ''
		};
	})(%s)`, jsString(selector))

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var res json.RawMessage
	if err := b.session.Eval(opCtx, script, &res); err != nil {
		return nil, fmt.Errorf("measuring %q: %w", selector, err)
	}
	if string(res) == "null" {
		return nil, fmt.Errorf("element %q not found or not visible", selector)
	}

	var geom schemas.ElementGeometry
	if err := json.Unmarshal(res, &geom); err != nil {
		return nil, fmt.Errorf("decoding geometry for %q: %w", selector, err)
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return nil, fmt.Errorf("element %q has degenerate box %dx%d", selector, geom.Width, geom.Height)
	}
	return &geom, nil
}

// RunScript evaluates a function-expression script with JSON-encoded
// arguments applied to it.
func (b *cdpBackend) RunScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding script args: %w", err)
	}
	wrapped := fmt.Sprintf(`(%s).apply(null, %s)`, script, string(encodedArgs))

	opCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	var res json.RawMessage
	if err := b.session.Eval(opCtx, wrapped, &res); err != nil {
		return nil, err
	}
	return res, nil
}
