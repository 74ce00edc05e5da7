// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// Input is the high-level interface the workflow controllers consume. The
// driver decides HOW an interaction happens; callers decide what to interact
// with. None of these methods return page data beyond completion.
type Input interface {
	// MoveTo walks the pointer to the element along a humanized path.
	MoveTo(ctx context.Context, selector string) error
	// Click moves to the element and performs a press/release pair with a
	// randomized hold. If the element has no resolvable geometry the click
	// degrades to a direct DOM click instead of failing.
	Click(ctx context.Context, selector string) error
	// Type focuses the element and enters text keystroke by keystroke with
	// randomized inter-key delays drawn from the configured range.
	Type(ctx context.Context, selector, text string) error
	// Clear empties an input via a select-all chord followed by a delete.
	Clear(ctx context.Context, selector string) error
	// PressKey sends a single control key (Enter, Tab, Escape) to the
	// focused element.
	PressKey(ctx context.Context, key ControlKey) error
	// SettleScroll performs a short read-like scroll sequence. Non-functional
	// but part of the behavioral contract.
	SettleScroll(ctx context.Context) error
	// Pause idles for a human-scaled duration with subtle pointer drift.
	Pause(ctx context.Context, meanMs, stdDevMs float64) error
}

// Backend is the low-level surface the driver dispatches into. The CDP
// session implements it; tests supply mocks.
type Backend interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error
	SendKeys(ctx context.Context, keys string) error
	// DispatchKeyChord presses a key combination (e.g. ctrl+a). The backend
	// owns the KeyDown and KeyUp sequencing.
	DispatchKeyChord(ctx context.Context, data schemas.KeyEventData) error
	ElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error)
	RunScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}

// ControlKey defines constants for common control characters used in SendKeys.
type ControlKey string

const (
	KeyBackspace ControlKey = "\b"   // Backspace
	KeyEnter     ControlKey = "\r"   // Carriage Return (often used for Enter)
	KeyTab       ControlKey = "\t"   // Tab
	KeyEscape    ControlKey = "\x1b" // Escape
	KeyDelete    ControlKey = "\x7f" // Delete
)
