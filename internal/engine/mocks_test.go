// internal/engine/mocks_test.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/solver"
)

// instantSleep stands in for every wait so long behavioral sequences run in
// test time.
func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// fakePage implements Page against an in-memory picture of the site: which
// selectors currently resolve, what the body says, which frames are mounted.
//
// Overrides replace the default behavior when set; an override can call the
// corresponding Default* method when it still wants the recording.
type fakePage struct {
	t *testing.T

	mu         sync.Mutex
	currentURL string
	bodyText   string
	frames     []string
	present    map[string]bool
	texts      map[string]string
	exported   *schemas.StorageState
	imported   []*schemas.StorageState
	navs       []string
	navErrs    []error
	closed     int

	input *fakeInput

	MockNavigate   func(ctx context.Context, url string) error
	MockFirstMatch func(ctx context.Context, selectors []string) (string, bool, error)
	MockEval       func(ctx context.Context, script string, out interface{}) error
	MockExport     func(ctx context.Context) (*schemas.StorageState, error)
	MockImport     func(ctx context.Context, state *schemas.StorageState) error
}

func newFakePage(t *testing.T) *fakePage {
	return &fakePage{
		t:       t,
		present: make(map[string]bool),
		texts:   make(map[string]string),
		input:   &fakeInput{},
	}
}

func (m *fakePage) setPresent(selector string, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present[selector] = present
}

func (m *fakePage) setFrames(frames ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = frames
}

func (m *fakePage) setBody(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodyText = text
}

func (m *fakePage) setCurrentURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentURL = url
}

func (m *fakePage) navCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.navs)
}

func (m *fakePage) Navigate(ctx context.Context, url string) error {
	if m.MockNavigate != nil {
		return m.MockNavigate(ctx, url)
	}
	return m.DefaultNavigate(ctx, url)
}

// DefaultNavigate records the attempt and consumes the next queued error;
// an exhausted queue means success. Successful loads update the current URL.
func (m *fakePage) DefaultNavigate(ctx context.Context, url string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navs = append(m.navs, url)
	if len(m.navErrs) > 0 {
		err := m.navErrs[0]
		m.navErrs = m.navErrs[1:]
		if err != nil {
			return err
		}
	}
	m.currentURL = url
	return nil
}

func (m *fakePage) CurrentURL(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentURL, nil
}

func (m *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present[selector], nil
}

func (m *fakePage) FirstMatch(ctx context.Context, selectors []string) (string, bool, error) {
	if m.MockFirstMatch != nil {
		return m.MockFirstMatch(ctx, selectors)
	}
	return m.DefaultFirstMatch(ctx, selectors)
}

func (m *fakePage) DefaultFirstMatch(ctx context.Context, selectors []string) (string, bool, error) {
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sel := range selectors {
		if m.present[sel] {
			return sel, true, nil
		}
	}
	return "", false, nil
}

func (m *fakePage) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.present[selector] {
		return nil
	}
	return fmt.Errorf("element %s never became visible", selector)
}

func (m *fakePage) TextOf(ctx context.Context, selector string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[selector], nil
}

// BodyText lowercases like the real session so keyword detection behaves
// identically.
func (m *fakePage) BodyText(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.ToLower(m.bodyText), nil
}

func (m *fakePage) FrameURLs(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.frames))
	copy(out, m.frames)
	return out, nil
}

func (m *fakePage) Eval(ctx context.Context, script string, out interface{}) error {
	if m.MockEval != nil {
		return m.MockEval(ctx, script, out)
	}
	return ctx.Err()
}

func (m *fakePage) ExportStorage(ctx context.Context) (*schemas.StorageState, error) {
	if m.MockExport != nil {
		return m.MockExport(ctx)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exported != nil {
		return m.exported, nil
	}
	return &schemas.StorageState{
		Cookies: []*schemas.Cookie{{Name: "sid", Value: "abc", Domain: "site.test"}},
	}, nil
}

func (m *fakePage) ImportStorage(ctx context.Context, state *schemas.StorageState) error {
	if m.MockImport != nil {
		return m.MockImport(ctx, state)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imported = append(m.imported, state)
	return nil
}

func (m *fakePage) Input() humanoid.Input {
	return m.input
}

func (m *fakePage) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// typedEntry is one recorded Type call.
type typedEntry struct {
	selector string
	text     string
}

// fakeInput implements humanoid.Input with recording only; nothing moves
// and nothing sleeps.
type fakeInput struct {
	mu      sync.Mutex
	moves   []string
	clicks  []string
	typed   []typedEntry
	cleared []string
	keys    []humanoid.ControlKey
	scrolls int
	pauses  int

	MockClick        func(ctx context.Context, selector string) error
	MockType         func(ctx context.Context, selector, text string) error
	MockClear        func(ctx context.Context, selector string) error
	MockPressKey     func(ctx context.Context, key humanoid.ControlKey) error
	MockSettleScroll func(ctx context.Context) error
}

func (f *fakeInput) MoveTo(ctx context.Context, selector string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, selector)
	return nil
}

func (f *fakeInput) Click(ctx context.Context, selector string) error {
	if f.MockClick != nil {
		return f.MockClick(ctx, selector)
	}
	return f.DefaultClick(ctx, selector)
}

func (f *fakeInput) DefaultClick(ctx context.Context, selector string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeInput) Type(ctx context.Context, selector, text string) error {
	if f.MockType != nil {
		return f.MockType(ctx, selector, text)
	}
	return f.DefaultType(ctx, selector, text)
}

func (f *fakeInput) DefaultType(ctx context.Context, selector, text string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, typedEntry{selector: selector, text: text})
	return nil
}

func (f *fakeInput) Clear(ctx context.Context, selector string) error {
	if f.MockClear != nil {
		return f.MockClear(ctx, selector)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, selector)
	return nil
}

func (f *fakeInput) PressKey(ctx context.Context, key humanoid.ControlKey) error {
	if f.MockPressKey != nil {
		return f.MockPressKey(ctx, key)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeInput) SettleScroll(ctx context.Context) error {
	if f.MockSettleScroll != nil {
		return f.MockSettleScroll(ctx)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls++
	return nil
}

func (f *fakeInput) Pause(ctx context.Context, _, _ float64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeInput) credentialInteractions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typed) + len(f.clicks) + len(f.keys)
}

// fakeStore is an in-memory sessionstore.Store.
type fakeStore struct {
	mu      sync.Mutex
	states  map[string]*schemas.StorageState
	loads   int
	saves   int
	loadErr error
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*schemas.StorageState)}
}

func (s *fakeStore) Save(ctx context.Context, principal string, state *schemas.StorageState) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[principal] = state
	return nil
}

func (s *fakeStore) Load(ctx context.Context, principal string) (*schemas.StorageState, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	state, ok := s.states[principal]
	return state, ok, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeTranscriber returns a canned answer and records what it was fed.
type fakeTranscriber struct {
	mu     sync.Mutex
	calls  []solver.Payload
	answer string
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, payload solver.Payload) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payload)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeDelegate returns a canned token and records the challenge it was
// asked to solve.
type fakeDelegate struct {
	mu    sync.Mutex
	calls []solver.Challenge
	token string
	err   error
}

func (f *fakeDelegate) Solve(ctx context.Context, ch solver.Challenge) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ch)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeDelegate) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// captureSink collects recorded results in order.
type captureSink struct {
	mu        sync.Mutex
	results   []schemas.DeliveryResult
	recordErr error
	onRecord  func(schemas.DeliveryResult)
}

func (s *captureSink) Record(ctx context.Context, result schemas.DeliveryResult) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	s.results = append(s.results, result)
	err := s.recordErr
	hook := s.onRecord
	s.mu.Unlock()
	if hook != nil {
		hook(result)
	}
	return err
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) recorded() []schemas.DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.DeliveryResult, len(s.results))
	copy(out, s.results)
	return out
}

// fakeSessions hands out a prepared page.
type fakeSessions struct {
	mu     sync.Mutex
	page   *fakePage
	err    error
	opened int
}

func (f *fakeSessions) NewSession(ctx context.Context) (Page, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

// testConfig returns a config tuned for test time: single-digit millisecond
// waits, permissive rate cap, deterministic humanoid seed.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Browser.Headless = true
	cfg.Browser.Humanoid.Seed = 7

	cfg.Session.Reuse = true

	cfg.Challenge.FrameMarkers = []string{"recaptcha", "hcaptcha"}
	cfg.Challenge.Keywords = []string{"verify you are human"}
	cfg.Challenge.AudioTriggers = []string{"#audio-btn"}
	cfg.Challenge.AudioSources = []string{"#audio-src"}
	cfg.Challenge.AnswerInputs = []string{"#audio-answer"}
	cfg.Challenge.VerifyControls = []string{"#verify"}
	cfg.Challenge.ResponseFields = []string{"textarea[name='g-recaptcha-response']"}

	cfg.Delivery = config.DeliveryConfig{
		NavAttempts:       3,
		NavRetryPause:     time.Millisecond,
		SettleWait:        20 * time.Millisecond,
		ConfirmWait:       20 * time.Millisecond,
		PaceMin:           time.Millisecond,
		PaceMax:           2 * time.Millisecond,
		PerMinute:         60000,
		ContinueOnFailure: true,
	}

	cfg.Locators.Login = config.LoginLocators{
		URL:                     "https://site.test/login",
		HomeURL:                 "https://site.test/home",
		URLMarkers:              []string{"/login", "/checkpoint"},
		UsernameFields:          []string{"#user"},
		PasswordFields:          []string{"#pass"},
		SubmitControls:          []string{"#submit"},
		AuthenticatedIndicators: []string{"#avatar"},
		ErrorBanners:            []string{"#login-error"},
	}
	cfg.Locators.Delivery = config.DeliveryLocators{
		Affordances:   []string{"#msg-btn"},
		Composers:     []string{"#composer"},
		SendControls:  []string{"#send"},
		Confirmations: []string{"#sent"},
	}
	return cfg
}
