// internal/engine/login.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/sessionstore"
)

// LoginController establishes the authenticated session. It is the only
// component that reads the identity secret; the secret is never logged
// and never leaves the credential fields.
type LoginController struct {
	cfg      *config.Config
	store    sessionstore.Store
	resolver *Resolver
	log      *zap.Logger
	sleep    sleepFunc
}

func NewLogin(cfg *config.Config, store sessionstore.Store, resolver *Resolver, logger *zap.Logger) *LoginController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginController{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		log:      logger.Named("login"),
		sleep:    ctxSleep,
	}
}

// EnsureAuthenticated tries stored artifact reuse first, then drives a
// fresh credential submission. The reuse path performs zero credential
// interactions: a restored session either proves itself through the
// authenticated indicator or the controller falls through to a full
// login.
func (l *LoginController) EnsureAuthenticated(ctx context.Context, page Page, identity schemas.Identity) (schemas.LoginOutcome, error) {
	if identity.Principal == "" {
		return schemas.LoginOutcome{}, &AuthenticationError{Reason: "identity has no principal"}
	}

	if l.cfg.Session.Reuse {
		reused, err := l.tryReuse(ctx, page, identity.Principal)
		if err != nil {
			return schemas.LoginOutcome{}, err
		}
		if reused {
			l.log.Info("session reused from stored artifacts", zap.String("principal", identity.Principal))
			return schemas.LoginOutcome{Authenticated: true, ReusedSession: true}, nil
		}
	}

	if err := l.freshLogin(ctx, page, identity); err != nil {
		return schemas.LoginOutcome{}, err
	}

	l.saveArtifacts(ctx, page, identity.Principal)
	l.log.Info("authenticated", zap.String("principal", identity.Principal))
	return schemas.LoginOutcome{Authenticated: true, ReusedSession: false}, nil
}

// tryReuse restores stored artifacts and probes the authenticated
// indicator. Every failure short of run cancellation degrades to a fresh
// login rather than failing the run.
func (l *LoginController) tryReuse(ctx context.Context, page Page, principal string) (bool, error) {
	state, found, err := l.store.Load(ctx, principal)
	if err != nil {
		return l.reuseAbandoned(ctx, "loading stored session", err)
	}
	if !found || state.IsEmpty() {
		return false, nil
	}

	if l.cfg.Session.FreshnessCheck && sessionstore.Probe(state, time.Now()) == sessionstore.FreshnessExpired {
		l.log.Info("stored session expired, performing fresh login", zap.String("principal", principal))
		return false, nil
	}

	home := l.homeURL()
	scoped, err := sessionstore.ScopeToOrigin(state, home)
	if err != nil {
		l.log.Warn("session scoping failed, using full artifact set", zap.Error(err))
		scoped = state
	}

	// Web storage restore requires the origin to be loaded, and restored
	// cookies only apply on the next load. Two navigations, then the
	// indicator decides.
	if err := page.Navigate(ctx, home); err != nil {
		return l.reuseAbandoned(ctx, "reaching reference url", err)
	}
	if err := page.ImportStorage(ctx, scoped); err != nil {
		return l.reuseAbandoned(ctx, "restoring artifacts", err)
	}
	if err := page.Navigate(ctx, home); err != nil {
		return l.reuseAbandoned(ctx, "reloading with restored artifacts", err)
	}

	authed, err := l.isAuthenticated(ctx, page)
	if err != nil {
		return l.reuseAbandoned(ctx, "probing authenticated indicator", err)
	}
	if !authed {
		l.log.Info("stored session not accepted, performing fresh login", zap.String("principal", principal))
	}
	return authed, nil
}

func (l *LoginController) reuseAbandoned(ctx context.Context, step string, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	l.log.Warn("session reuse abandoned", zap.String("step", step), zap.Error(err))
	return false, nil
}

// freshLogin drives the credential submission sequence against the login
// surface.
func (l *LoginController) freshLogin(ctx context.Context, page Page, identity schemas.Identity) error {
	login := l.cfg.Locators.Login
	if login.URL == "" {
		return &AuthenticationError{Reason: "no login url configured"}
	}
	if identity.Secret == "" {
		return &AuthenticationError{Reason: "identity has no secret"}
	}

	if err := page.Navigate(ctx, login.URL); err != nil {
		return &AuthenticationError{Reason: "login surface unreachable", Err: err}
	}

	userSel, found, err := page.FirstMatch(ctx, login.UsernameFields)
	if err != nil {
		return fmt.Errorf("probing username field: %w", err)
	}
	if !found {
		return &AuthenticationError{Reason: "username field not found on login surface"}
	}
	passSel, found, err := page.FirstMatch(ctx, login.PasswordFields)
	if err != nil {
		return fmt.Errorf("probing password field: %w", err)
	}
	if !found {
		return &AuthenticationError{Reason: "password field not found on login surface"}
	}

	input := page.Input()
	if err := input.Type(ctx, userSel, identity.Principal); err != nil {
		return &AuthenticationError{Reason: "entering principal failed", Err: err}
	}
	if err := input.Type(ctx, passSel, identity.Secret); err != nil {
		return &AuthenticationError{Reason: "entering secret failed", Err: err}
	}

	if err := l.submit(ctx, page, login); err != nil {
		return &AuthenticationError{Reason: "submitting credentials failed", Err: err}
	}
	if err := l.sleep(ctx, l.settleWait()); err != nil {
		return err
	}

	outcome, err := l.resolver.Resolve(ctx, page)
	if err != nil {
		return err
	}
	if !outcome.Cleared {
		return &AuthenticationError{Reason: "verification challenge blocked login", Err: &ChallengeUnresolvedError{}}
	}

	authed, err := l.isAuthenticated(ctx, page)
	if err != nil {
		return fmt.Errorf("probing authenticated indicator: %w", err)
	}
	if !authed {
		return &AuthenticationError{Reason: l.failureReason(ctx, page, login)}
	}
	return nil
}

// submit clicks the first resolvable submit control, falling back to a
// terminal key in the password field when the form has none.
func (l *LoginController) submit(ctx context.Context, page Page, login config.LoginLocators) error {
	sel, found, err := page.FirstMatch(ctx, login.SubmitControls)
	if err != nil {
		return err
	}
	input := page.Input()
	if found {
		if err := input.Click(ctx, sel); err == nil {
			return nil
		}
		l.log.Debug("submit control click failed, falling back to enter key")
	}
	return input.PressKey(ctx, humanoid.KeyEnter)
}

// failureReason surfaces the site's own error text when a banner is
// present, else reports the generic still-on-login cause.
func (l *LoginController) failureReason(ctx context.Context, page Page, login config.LoginLocators) string {
	banner, found, err := page.FirstMatch(ctx, login.ErrorBanners)
	if err == nil && found {
		if text, err := page.TextOf(ctx, banner); err == nil && text != "" {
			return text
		}
	}
	return "still on login surface"
}

// saveArtifacts captures and persists the session set. The login already
// succeeded; persistence trouble costs the next run its reuse, nothing
// more.
func (l *LoginController) saveArtifacts(ctx context.Context, page Page, principal string) {
	state, err := page.ExportStorage(ctx)
	if err != nil {
		l.log.Warn("session artifact capture failed", zap.Error(err))
		return
	}
	if err := l.store.Save(ctx, principal, state); err != nil {
		l.log.Warn("session artifact save failed", zap.Error(err))
		return
	}
	l.log.Debug("session artifacts saved", zap.Int("cookies", len(state.Cookies)))
}

func (l *LoginController) isAuthenticated(ctx context.Context, page Page) (bool, error) {
	_, found, err := page.FirstMatch(ctx, l.cfg.Locators.Login.AuthenticatedIndicators)
	return found, err
}

func (l *LoginController) homeURL() string {
	if l.cfg.Locators.Login.HomeURL != "" {
		return l.cfg.Locators.Login.HomeURL
	}
	return l.cfg.Locators.Login.URL
}

func (l *LoginController) settleWait() time.Duration {
	if l.cfg.Delivery.SettleWait > 0 {
		return l.cfg.Delivery.SettleWait
	}
	return 2 * time.Second
}

// onLoginSurface reports whether the current URL matches any of the
// configured login or checkpoint markers.
func onLoginSurface(ctx context.Context, page Page, login config.LoginLocators) (bool, error) {
	current, err := page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(current)
	for _, marker := range login.URLMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true, nil
		}
	}
	return false, nil
}
