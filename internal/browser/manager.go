// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/network"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

// Manager owns the browser process and hands out tab sessions. The
// process is started lazily on the first session request so that
// commands which never touch a page (results inspection, config checks)
// do not pay for a Chromium launch.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	mu          sync.Mutex
	initialized bool
	closed      bool
	relay       *network.Relay
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	sessions    map[string]*Session
	wg          sync.WaitGroup
}

func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		sessions: make(map[string]*Session),
	}
}

// proxyServerAddress resolves the proxy the browser should be pointed
// at, starting the credential relay when the upstream needs auth. An
// empty address means no proxying.
func (m *Manager) proxyServerAddress() (string, error) {
	proxyCfg := m.cfg.Network.Proxy
	if !proxyCfg.Enabled {
		return "", nil
	}

	if proxyCfg.Username == "" {
		// No credentials to inject; the browser can talk to the
		// upstream directly.
		return proxyCfg.Upstream, nil
	}

	relay := network.NewRelay(proxyCfg, m.logger)
	addr, err := relay.Start()
	if err != nil {
		return "", fmt.Errorf("starting proxy relay: %w", err)
	}
	m.relay = relay
	return addr, nil
}

// allocatorOptions assembles the exec allocator flag set, including the
// proxy wiring.
func (m *Manager) allocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	opts := DefaultAllocatorOptions(m.cfg.Browser)
	addr, err := m.proxyServerAddress()
	if err != nil {
		return nil, err
	}
	if addr != "" {
		opts = append(opts, chromedp.ProxyServer(addr))
	}
	return opts, nil
}

// init launches the browser process. Caller holds m.mu.
func (m *Manager) init(ctx context.Context) error {
	if m.initialized {
		return nil
	}
	if m.closed {
		return fmt.Errorf("browser manager is shut down")
	}

	opts, err := m.allocatorOptions()
	if err != nil {
		return err
	}

	// The allocator is parented to the background so sessions are not
	// tied to whichever caller happened to trigger the launch.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// Run with no actions forces the process launch now, under the
	// caller's deadline, instead of on the first session action.
	launchCtx, cancel := CombineContext(rootCtx, ctx)
	err = chromedp.Run(launchCtx)
	cancel()
	if err != nil {
		rootCancel()
		allocCancel()
		m.stopRelay()
		return fmt.Errorf("launching browser: %w", err)
	}

	m.allocCancel = allocCancel
	m.rootCtx = rootCtx
	m.rootCancel = rootCancel
	m.initialized = true
	m.logger.Info("browser launched",
		zap.Bool("headless", m.cfg.Browser.Headless),
		zap.Bool("proxied", m.cfg.Network.Proxy.Enabled),
	)
	return nil
}

// NewSession opens a fresh tab, applies the stealth persona, and wires
// the humanized input driver. The session must be closed by the caller;
// Shutdown closes stragglers.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if err := m.init(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(m.rootCtx)

	sess, err := NewSession(tabCtx, tabCancel, m.cfg, m.buildPersona(), m.logger, nil)
	if err != nil {
		tabCancel()
		m.mu.Unlock()
		return nil, err
	}
	sess.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, sess.ID())
		m.mu.Unlock()
		m.wg.Done()
	}
	m.sessions[sess.ID()] = sess
	m.wg.Add(1)
	m.mu.Unlock()

	if err := sess.Initialize(ctx); err != nil {
		_ = sess.Close(ctx)
		return nil, err
	}
	return sess, nil
}

// SessionCount reports the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// buildPersona resolves the run's fingerprint from config over the
// default persona. The noise seed follows the humanoid seed so a seeded
// run reproduces its canvas fingerprint too.
func (m *Manager) buildPersona() schemas.Persona {
	p := schemas.DefaultPersona

	st := m.cfg.Browser.Stealth
	if st.UserAgent != "" {
		p.UserAgent = st.UserAgent
	}
	if st.Timezone != "" {
		p.Timezone = st.Timezone
	}
	if st.Locale != "" {
		p.Locale = st.Locale
		p.Languages = languagesForLocale(st.Locale)
	}

	if w, ok := m.cfg.Browser.Viewport["width"]; ok && w > 0 {
		p.Width = int64(w)
		p.AvailWidth = int64(w)
	}
	if h, ok := m.cfg.Browser.Viewport["height"]; ok && h > 0 {
		p.Height = int64(h)
		// Leave room for a task bar, as real desktops report.
		p.AvailHeight = int64(h) - 40
	}

	if seed := m.cfg.Browser.Humanoid.Seed; seed != 0 {
		p.NoiseSeed = seed
	} else {
		p.NoiseSeed = rand.Int63()
	}
	return p
}

// languagesForLocale expands "en-GB" into ["en-GB", "en"].
func languagesForLocale(locale string) []string {
	langs := []string{locale}
	if base, _, found := strings.Cut(locale, "-"); found && base != locale {
		langs = append(langs, base)
	}
	return langs
}

// Shutdown closes all sessions, the browser process, and the proxy
// relay. Safe to call multiple times and before the first session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var eg errgroup.Group
	for _, s := range open {
		s := s
		eg.Go(func() error {
			return s.Close(ctx)
		})
	}
	closeErr := eg.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("timed out waiting for sessions to close", zap.Error(ctx.Err()))
	}

	m.mu.Lock()
	rootCancel := m.rootCancel
	allocCancel := m.allocCancel
	m.rootCancel = nil
	m.allocCancel = nil
	m.initialized = false
	m.mu.Unlock()

	if rootCancel != nil {
		rootCancel()
	}
	if allocCancel != nil {
		// Blocks until the browser process is reaped.
		allocCancel()
	}

	if err := m.stopRelay(); err != nil {
		m.logger.Warn("stopping proxy relay", zap.Error(err))
	}

	m.logger.Info("browser manager shut down")
	return closeErr
}

func (m *Manager) stopRelay() error {
	if m.relay == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.relay.Stop(ctx)
	m.relay = nil
	return err
}
