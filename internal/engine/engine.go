// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/results"
	"github.com/xkilldash9x/courier-cli/internal/sessionstore"
	"github.com/xkilldash9x/courier-cli/internal/solver"
)

// sleepFunc is the clock seam; tests swap it to keep waits out of test time.
type sleepFunc func(ctx context.Context, d time.Duration) error

// ctxSleep waits for d or for the context, whichever ends first.
func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Engine drives one identity's run: a single browser session, one login,
// then the target list worked strictly in order.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	sessions SessionFactory
	sink     results.Sink
	login    *LoginController
	delivery *DeliveryController
	limiter  *rate.Limiter
	rng      *rand.Rand
	sleep    sleepFunc
}

// Deps carries the engine's collaborators. Transcriber and Delegate are
// optional; leaving one nil disables the matching challenge strategy.
type Deps struct {
	Sessions    SessionFactory
	Store       sessionstore.Store
	Sink        results.Sink
	Transcriber solver.Transcriber
	Delegate    solver.Delegate
	Logger      *zap.Logger
}

// New validates the dependencies and assembles the controllers.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine requires a config")
	}
	if deps.Sessions == nil {
		return nil, errors.New("engine requires a session factory")
	}
	if deps.Store == nil {
		return nil, errors.New("engine requires a session store")
	}
	if deps.Sink == nil {
		return nil, errors.New("engine requires a results sink")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := solver.NewHTTPClient(cfg.Network.Timeout)
	resolver := NewResolver(cfg.Challenge, cfg.Browser.Headless, deps.Transcriber, deps.Delegate, httpClient, logger)

	perSecond := cfg.Delivery.PerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1.0 / 30.0
	}

	seed := cfg.Browser.Humanoid.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Engine{
		cfg:      cfg,
		log:      logger.Named("engine"),
		sessions: deps.Sessions,
		sink:     deps.Sink,
		login:    NewLogin(cfg, deps.Store, resolver, logger),
		delivery: NewDelivery(cfg, resolver, logger),
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		rng:      rand.New(rand.NewSource(seed)),
		sleep:    ctxSleep,
	}, nil
}

// Run works every target once and returns one result per target, in target
// order, regardless of failures or cancellation. Only session setup faults
// (browser, login, a bad message template) return an error; per-target
// faults land in the result slice.
func (e *Engine) Run(ctx context.Context, identity schemas.Identity, targets []schemas.Target, message string) (*schemas.RunSummary, []schemas.DeliveryResult, error) {
	if len(targets) == 0 {
		return nil, nil, errors.New("run has no targets")
	}
	tmpl, err := parseMessage(message)
	if err != nil {
		return nil, nil, err
	}

	runID := uuid.New().String()
	startedAt := time.Now().UTC()
	log := e.log.With(zap.String("run_id", runID), zap.String("principal", identity.Principal))
	log.Info("run starting", zap.Int("targets", len(targets)))

	page, err := e.sessions.NewSession(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening browser session: %w", err)
	}
	defer func() {
		// The run context may already be dead; teardown gets its own.
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			log.Warn("closing browser session", zap.Error(err))
		}
	}()

	login, err := e.login.EnsureAuthenticated(ctx, page, identity)
	if err != nil {
		return nil, nil, fmt.Errorf("establishing session: %w", err)
	}

	outcomes := make([]schemas.DeliveryResult, 0, len(targets))
	aborted := false
	abortReason := ""
	for i, target := range targets {
		if aborted {
			res := e.cancelledResult(runID, target, abortReason)
			outcomes = append(outcomes, res)
			e.record(ctx, res, log)
			continue
		}
		if i > 0 {
			if err := e.pace(ctx); err != nil {
				aborted, abortReason = true, "run cancelled"
				res := e.cancelledResult(runID, target, abortReason)
				outcomes = append(outcomes, res)
				e.record(ctx, res, log)
				continue
			}
		}

		body, err := renderMessage(tmpl, target)
		if err != nil {
			res := e.syntheticResult(runID, target, schemas.ErrCodeInternal, err.Error())
			outcomes = append(outcomes, res)
			e.record(ctx, res, log)
			continue
		}

		res := e.delivery.Deliver(ctx, page, runID, target, body)
		outcomes = append(outcomes, res)
		e.record(ctx, res, log)

		if !res.Succeeded {
			if res.Error != nil && res.Error.Code == schemas.ErrCodeCancelled {
				aborted, abortReason = true, "run cancelled"
			} else if !e.cfg.Delivery.ContinueOnFailure {
				aborted, abortReason = true, "run aborted after earlier failure"
			}
		}
	}

	finishedAt := time.Now().UTC()
	summary := results.Summarize(runID, identity.Principal, login, outcomes, startedAt, finishedAt)
	log.Info("run finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Bool("reused_session", summary.Reused),
		zap.Duration("duration", summary.Duration),
	)
	return &summary, outcomes, nil
}

// pace holds the run between targets: the rate cap first, then a pause drawn
// from the configured window so deliveries never land on a fixed beat.
func (e *Engine) pace(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	lo, hi := e.cfg.Delivery.PaceMin, e.cfg.Delivery.PaceMax
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return e.sleep(ctx, lo)
	}
	jitter := time.Duration(e.rng.Int63n(int64(hi - lo)))
	return e.sleep(ctx, lo+jitter)
}

func (e *Engine) record(ctx context.Context, res schemas.DeliveryResult, log *zap.Logger) {
	if ctx.Err() != nil {
		// Cancelled runs still owe the sink their results.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := e.sink.Record(ctx, res); err != nil {
		log.Warn("recording result", zap.String("target_id", res.TargetID), zap.Error(err))
	}
}

func (e *Engine) cancelledResult(runID string, target schemas.Target, reason string) schemas.DeliveryResult {
	return e.syntheticResult(runID, target, schemas.ErrCodeCancelled, reason)
}

// syntheticResult stands in for targets the delivery controller never saw.
func (e *Engine) syntheticResult(runID string, target schemas.Target, code schemas.ErrorCode, msg string) schemas.DeliveryResult {
	return schemas.DeliveryResult{
		ID:          uuid.New().String(),
		RunID:       runID,
		TargetID:    target.ID,
		Destination: target.Destination,
		Succeeded:   false,
		Error:       &schemas.DeliveryError{Code: code, Message: msg},
		Timestamp:   time.Now().UTC(),
	}
}

// EngineFactory builds an engine bound to its own browser for one identity.
// The release func tears down whatever the factory opened. Sessions must not
// be shared across identities; tabs of one browser share a cookie jar.
type EngineFactory func(identity schemas.Identity) (*Engine, func(), error)

// RunAll runs every identity against the same target list, concurrently and
// independently. One identity failing does not stop the others; failures are
// joined into the returned error and the matching summary slot stays zero.
func RunAll(ctx context.Context, identities []schemas.Identity, targets []schemas.Target, message string, build EngineFactory) ([]schemas.RunSummary, error) {
	if len(identities) == 0 {
		return nil, errors.New("campaign has no identities")
	}

	summaries := make([]schemas.RunSummary, len(identities))
	errs := make([]error, len(identities))

	var g errgroup.Group
	for i, identity := range identities {
		g.Go(func() error {
			eng, release, err := build(identity)
			if err != nil {
				errs[i] = fmt.Errorf("identity %s: %w", identity.Principal, err)
				return nil
			}
			defer release()
			summary, _, err := eng.Run(ctx, identity, targets, message)
			if err != nil {
				errs[i] = fmt.Errorf("identity %s: %w", identity.Principal, err)
				return nil
			}
			summaries[i] = *summary
			return nil
		})
	}
	g.Wait()
	return summaries, errors.Join(errs...)
}

// messageData is the per-target view exposed to the message template.
type messageData struct {
	TargetID    string
	Destination string
}

func parseMessage(message string) (*template.Template, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is empty")
	}
	tmpl, err := template.New("message").Parse(message)
	if err != nil {
		return nil, fmt.Errorf("parsing message template: %w", err)
	}
	// Surface references to fields no target carries before the browser opens.
	if err := tmpl.Execute(io.Discard, messageData{}); err != nil {
		return nil, fmt.Errorf("validating message template: %w", err)
	}
	return tmpl, nil
}

func renderMessage(tmpl *template.Template, target schemas.Target) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, messageData{TargetID: target.ID, Destination: target.Destination}); err != nil {
		return "", fmt.Errorf("rendering message for target %s: %w", target.ID, err)
	}
	return buf.String(), nil
}
