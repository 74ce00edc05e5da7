// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/courier-cli/internal/browser/stealth"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

// Session is one browser tab plus the humanized input driver bound to
// it. The workflow controllers only ever touch a Session through these
// primitives; none of them know they are talking to CDP.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	persona schemas.Persona
	input   humanoid.Input

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

// NewSession wraps an already-created chromedp tab context. The caller
// (Manager) owns allocation; the session owns the tab from here on.
func NewSession(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.Config,
	persona schemas.Persona,
	logger *zap.Logger,
	onClose func(),
) (*Session, error) {
	sessionID := uuid.New().String()
	s := &Session{
		id:      sessionID,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("session_id", sessionID)),
		cfg:     cfg,
		persona: persona,
		onClose: onClose,
	}
	return s, nil
}

// Initialize connects the tab, applies the stealth persona, and builds
// the input driver. Must be called before any navigation.
func (s *Session) Initialize(ctx context.Context) error {
	// first Run creates the target and attaches CDP
	if err := chromedp.Run(s.ctx); err != nil {
		return fmt.Errorf("attaching browser target: %w", err)
	}

	if s.cfg.Browser.Stealth.Enabled {
		if err := s.RunActions(ctx, stealth.Apply(s.persona, s.logger)); err != nil {
			return fmt.Errorf("applying stealth persona: %w", err)
		}
	}

	hCfg := s.cfg.Browser.Humanoid
	if !hCfg.Enabled {
		// degraded profile: same event pipeline, minimal theatrics
		hCfg = directInputProfile(hCfg)
	}
	s.input = humanoid.New(&cdpBackend{session: s}, hCfg, s.logger.Named("humanoid"))

	s.logger.Debug("session initialized")
	return nil
}

// directInputProfile strips the behavioral model down to raw dispatch
// speeds for runs that disable humanization.
func directInputProfile(base config.HumanoidConfig) config.HumanoidConfig {
	base.Enabled = true
	base.KeyDelayMinMs = 1
	base.KeyDelayMaxMs = 3
	base.KeyHoldMu = 1
	base.TypoRate = 0
	base.ClickHoldMinMs = 1
	base.ClickHoldMaxMs = 2
	base.MoveSpeed = 0.05
	base.JitterAmplitude = 0
	base.OvershootChance = 0
	base.FatigueEnabled = false
	return base
}

// Input returns the humanized driver for this tab.
func (s *Session) Input() humanoid.Input {
	return s.input
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Context exposes the session's lifecycle context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// RunActions executes chromedp actions under both the session lifetime
// and the caller's deadline.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL, waits for the document to become ready, and
// lets the page settle for the configured post-load window.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.Network.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("navigating", zap.String("url", url))
	if err := s.RunActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, timeout, navCtx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if wait := s.cfg.Network.PostLoadWait; wait > 0 {
		if err := s.RunActions(ctx, chromedp.Sleep(wait)); err != nil {
			return err
		}
	}
	return nil
}

// CurrentURL reports the tab's location after any redirects.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// Title reports the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.RunActions(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading title: %w", err)
	}
	return title, nil
}

// Eval evaluates a JS expression and unmarshals the result into out.
// out may be nil when the caller only cares about side effects.
func (s *Session) Eval(ctx context.Context, script string, out interface{}) error {
	evalCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	action := chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
	if err := s.RunActions(evalCtx, action); err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("script evaluation timed out: %w", evalCtx.Err())
		}
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Exists reports whether any element matches the selector right now.
// It never waits; callers that want a wait use WaitVisible.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
	if err := s.Eval(ctx, script, &found); err != nil {
		return false, err
	}
	return found, nil
}

// FirstMatch probes an ordered locator list and returns the first
// selector that resolves to a visible element. The probe is a snapshot:
// it checks each candidate once, in order, and reports absence with
// found=false rather than an error.
func (s *Session) FirstMatch(ctx context.Context, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		var visible bool
		script := fmt.Sprintf(`(function() {
			const el = document.querySelector(%s);
			if (!el) { return false; }
			const r = el.getBoundingClientRect();
			const cs = window.getComputedStyle(el);
			return r.width > 0 && r.height > 0 && cs.display !== 'none' && cs.visibility !== 'hidden';
		})()`, jsString(sel))
		if err := s.Eval(ctx, script, &visible); err != nil {
			return "", false, err
		}
		if visible {
			return sel, true, nil
		}
	}
	return "", false, nil
}

// WaitVisible blocks until the selector is visible or the timeout hits.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.RunActions(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("element %q not visible within %v: %w", selector, timeout, waitCtx.Err())
		}
		return err
	}
	return nil
}

// TextOf returns the trimmed text content of the first element matching
// the selector, or empty when nothing matches.
func (s *Session) TextOf(ctx context.Context, selector string) (string, error) {
	var text string
	script := fmt.Sprintf(`(function() {
		const el = document.querySelector(%s);
		return el ? (el.innerText || el.textContent || '') : '';
	})()`, jsString(selector))
	if err := s.Eval(ctx, script, &text); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// BodyText returns the rendered text of the page body, lowercased for
// keyword scans.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := s.Eval(ctx, `document.body ? document.body.innerText : ''`, &text); err != nil {
		return "", err
	}
	return strings.ToLower(text), nil
}

// FrameURLs lists the URLs of every frame attached to the page,
// including the main frame. Challenge widgets almost always live in a
// cross-origin iframe, so this is the cheapest reliable probe.
func (s *Session) FrameURLs(ctx context.Context) ([]string, error) {
	var urls []string
	err := s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		tree, err := page.GetFrameTree().Do(c)
		if err != nil {
			return err
		}
		var walk func(*page.FrameTree)
		walk = func(ft *page.FrameTree) {
			if ft == nil || ft.Frame == nil {
				return
			}
			urls = append(urls, ft.Frame.URL)
			for _, child := range ft.ChildFrames {
				walk(child)
			}
		}
		walk(tree)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("listing frames: %w", err)
	}
	return urls, nil
}

// ExportStorage captures cookies plus local and session storage. The
// snapshot is complete or nil: a partial capture is worse than none
// because restoring it later produces a half-authenticated limbo.
func (s *Session) ExportStorage(ctx context.Context) (*schemas.StorageState, error) {
	state := &schemas.StorageState{
		LocalStorage:   map[string]string{},
		SessionStorage: map[string]string{},
	}

	err := s.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		cookies, err := network.GetCookies().Do(c)
		if err != nil {
			return fmt.Errorf("reading cookies: %w", err)
		}
		for _, ck := range cookies {
			state.Cookies = append(state.Cookies, &schemas.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				Size:     ck.Size,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				Session:  ck.Session,
				SameSite: schemas.CookieSameSite(ck.SameSite.String()),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	if err := s.Eval(ctx, snapshotStorageJS("localStorage"), &state.LocalStorage); err != nil {
		s.logger.Debug("local storage capture failed", zap.Error(err))
	}
	if err := s.Eval(ctx, snapshotStorageJS("sessionStorage"), &state.SessionStorage); err != nil {
		s.logger.Debug("session storage capture failed", zap.Error(err))
	}

	return state, nil
}

// ImportStorage restores a previously exported snapshot. Cookies land
// via CDP; web storage needs the origin loaded first, so callers must
// navigate to the target origin before importing.
func (s *Session) ImportStorage(ctx context.Context, state *schemas.StorageState) error {
	if state.IsEmpty() {
		return nil
	}

	if len(state.Cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(state.Cookies))
		for _, ck := range state.Cookies {
			p := &network.CookieParam{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Secure:   ck.Secure,
				HTTPOnly: ck.HTTPOnly,
			}
			if ck.SameSite != "" {
				p.SameSite = network.CookieSameSite(strings.ToLower(string(ck.SameSite)))
			}
			if ck.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				p.Expires = &exp
			}
			params = append(params, p)
		}
		if err := s.RunActions(ctx, network.SetCookies(params)); err != nil {
			return fmt.Errorf("restoring cookies: %w", err)
		}
	}

	for storageKind, items := range map[string]map[string]string{
		"localStorage":   state.LocalStorage,
		"sessionStorage": state.SessionStorage,
	} {
		if len(items) == 0 {
			continue
		}
		payload, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", storageKind, err)
		}
		script := fmt.Sprintf(`(function(items) {
			try {
				for (const [k, v] of Object.entries(items)) { window.%s.setItem(k, v); }
				return true;
			} catch (e) { return false; }
		})(%s)`, storageKind, string(payload))
		var ok bool
		if err := s.Eval(ctx, script, &ok); err != nil {
			return fmt.Errorf("restoring %s: %w", storageKind, err)
		}
		if !ok {
			s.logger.Warn("web storage restore rejected by page", zap.String("kind", storageKind))
		}
	}

	return nil
}

// Close tears the tab down exactly once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("closing session")

	// chromedp.Cancel issues Target.closeTarget and drains the handler;
	// a bare context cancel would leave the tab open in the browser.
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.logger.Debug("tab close returned error", zap.Error(err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// snapshotStorageJS builds the capture expression for a storage kind.
func snapshotStorageJS(kind string) string {
	return fmt.Sprintf(`(function() {
		let items = {};
		try {
			const s = window.%s;
			if (s) {
				for (let i = 0; i < s.length; i++) {
					const k = s.key(i);
					if (k) { items[k] = s.getItem(k); }
				}
			}
		} catch (e) { /* storage disabled */ }
		return items;
	})()`, kind)
}

// jsString safely embeds a Go string as a JS string literal.
func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
