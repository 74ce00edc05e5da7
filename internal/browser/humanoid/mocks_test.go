// FILE: ./internal/browser/humanoid/mocks_test.go
package humanoid

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// mockBackend implements Backend for tests. Sleeps are recorded, not
// performed, so even long behavioral sequences run instantly.
//
// Overrides replace the default behavior when set; an override can call
// the corresponding Default* method when it still wants the recording.
type mockBackend struct {
	t *testing.T

	mu         sync.Mutex
	mouse      []schemas.MouseEventData
	keys       []string
	chords     []schemas.KeyEventData
	sleeps     []time.Duration
	scriptRuns []string

	returnErr error

	MockSleep              func(ctx context.Context, d time.Duration) error
	MockDispatchMouseEvent func(ctx context.Context, data schemas.MouseEventData) error
	MockSendKeys           func(ctx context.Context, keys string) error
	MockDispatchKeyChord   func(ctx context.Context, data schemas.KeyEventData) error
	MockElementGeometry    func(ctx context.Context, selector string) (*schemas.ElementGeometry, error)
	MockRunScript          func(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}

func newMockBackend(t *testing.T) *mockBackend {
	return &mockBackend{t: t}
}

func (m *mockBackend) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	return m.DefaultSleep(ctx, d)
}

func (m *mockBackend) DefaultSleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, d)
	return nil
}

func (m *mockBackend) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if m.MockDispatchMouseEvent != nil {
		return m.MockDispatchMouseEvent(ctx, data)
	}
	return m.DefaultDispatchMouseEvent(ctx, data)
}

func (m *mockBackend) DefaultDispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mouse = append(m.mouse, data)
	if m.returnErr != nil {
		return m.returnErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (m *mockBackend) SendKeys(ctx context.Context, keys string) error {
	if m.MockSendKeys != nil {
		return m.MockSendKeys(ctx, keys)
	}
	return m.DefaultSendKeys(ctx, keys)
}

func (m *mockBackend) DefaultSendKeys(ctx context.Context, keys string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, keys)
	if m.returnErr != nil {
		return m.returnErr
	}
	return nil
}

func (m *mockBackend) DispatchKeyChord(ctx context.Context, data schemas.KeyEventData) error {
	if m.MockDispatchKeyChord != nil {
		return m.MockDispatchKeyChord(ctx, data)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chords = append(m.chords, data)
	if m.returnErr != nil {
		return m.returnErr
	}
	return nil
}

func (m *mockBackend) ElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	if m.MockElementGeometry != nil {
		return m.MockElementGeometry(ctx, selector)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	// a 100x40 box at (50, 50)
	return &schemas.ElementGeometry{
		Vertices: []float64{50, 50, 150, 50, 150, 90, 50, 90},
		Width:    100,
		Height:   40,
		TagName:  "BUTTON",
	}, nil
}

func (m *mockBackend) RunScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	if m.MockRunScript != nil {
		return m.MockRunScript(ctx, script, args)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scriptRuns = append(m.scriptRuns, script)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return json.RawMessage(`true`), nil
}

// race-safe snapshot helpers

func (m *mockBackend) mouseEvents() []schemas.MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.MouseEventData, len(m.mouse))
	copy(out, m.mouse)
	return out
}

func (m *mockBackend) sentKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *mockBackend) sentChords() []schemas.KeyEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.KeyEventData, len(m.chords))
	copy(out, m.chords)
	return out
}

func (m *mockBackend) sleptDurations() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.sleeps))
	copy(out, m.sleeps)
	return out
}

func (m *mockBackend) scripts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.scriptRuns))
	copy(out, m.scriptRuns)
	return out
}
