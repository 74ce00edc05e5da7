// internal/engine/delivery.go
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

// DeliveryController works a single target: navigate, verify the session
// still holds, clear any challenge, open the compose surface, type and
// dispatch the message, and confirm acceptance. Every exit path produces
// exactly one DeliveryResult; no raw fault crosses this boundary.
type DeliveryController struct {
	cfg      *config.Config
	resolver *Resolver
	log      *zap.Logger
	sleep    sleepFunc
}

func NewDelivery(cfg *config.Config, resolver *Resolver, logger *zap.Logger) *DeliveryController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryController{
		cfg:      cfg,
		resolver: resolver,
		log:      logger.Named("delivery"),
		sleep:    ctxSleep,
	}
}

// Deliver runs the full per-target sequence. DurationMs counts from the
// first navigation attempt.
func (d *DeliveryController) Deliver(ctx context.Context, page Page, runID string, target schemas.Target, message string) schemas.DeliveryResult {
	log := d.log.With(zap.String("target_id", target.ID))
	start := time.Now()
	var diag schemas.DeliveryDiagnostics

	fail := func(err error) schemas.DeliveryResult {
		log.Warn("delivery failed", zap.String("destination", target.Destination), zap.Error(err))
		return d.result(runID, target, start, diag, err)
	}

	if err := d.navigateWithRetry(ctx, page, target.Destination, &diag, log); err != nil {
		return fail(err)
	}

	// Login is session-scoped. A destination that bounces to the login
	// surface means the session lapsed mid-run; that fails the target, it
	// does not restart the login flow.
	redirected, err := onLoginSurface(ctx, page, d.cfg.Locators.Login)
	if err != nil {
		return fail(err)
	}
	if redirected {
		return fail(&AuthenticationError{Reason: "destination redirected to the login surface"})
	}

	if err := page.Input().SettleScroll(ctx); err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		// Non-functional behavioral step; a miss is not a delivery failure.
		log.Debug("settle scroll failed", zap.Error(err))
	}

	outcome, err := d.resolver.Resolve(ctx, page)
	if err != nil {
		return fail(err)
	}
	if !outcome.Cleared || outcome.Method != schemas.ChallengeMethodNone {
		diag.ChallengeSeen = true
	}
	if !outcome.Cleared {
		return fail(&ChallengeUnresolvedError{})
	}

	affordance, found, err := page.FirstMatch(ctx, d.cfg.Locators.Delivery.Affordances)
	if err != nil {
		return fail(err)
	}
	if !found {
		return fail(&StructuralNotFoundError{What: "messaging affordance"})
	}
	diag.AffordanceFound = true
	if err := page.Input().Click(ctx, affordance); err != nil {
		return fail(fmt.Errorf("opening compose surface: %w", err))
	}

	composer, found, err := d.awaitFirstMatch(ctx, page, d.cfg.Locators.Delivery.Composers, d.settleWait())
	if err != nil {
		return fail(err)
	}
	if !found {
		return fail(&StructuralNotFoundError{What: "message composer"})
	}
	diag.ComposerFound = true

	input := page.Input()
	if err := input.Clear(ctx, composer); err != nil {
		return fail(fmt.Errorf("clearing composer: %w", err))
	}
	if err := input.Type(ctx, composer, message); err != nil {
		return fail(fmt.Errorf("entering message: %w", err))
	}

	if err := d.send(ctx, page, log); err != nil {
		return fail(err)
	}
	diag.MessageDispatched = true

	if confirmations := d.cfg.Locators.Delivery.Confirmations; len(confirmations) > 0 {
		_, confirmed, err := d.awaitFirstMatch(ctx, page, confirmations, d.confirmWait())
		if err != nil {
			return fail(err)
		}
		if !confirmed {
			// The send completed, but the indicator is the only acceptance
			// signal there is.
			return fail(&ConfirmationMissingError{})
		}
		diag.Confirmed = true
	}

	log.Info("message delivered",
		zap.String("destination", target.Destination),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return d.result(runID, target, start, diag, nil)
}

// navigateWithRetry retries transient navigation failures with a pause
// between attempts, up to the configured ceiling. Structural absence is
// not its concern; elements that never appear are detected later by the
// locator probes.
func (d *DeliveryController) navigateWithRetry(ctx context.Context, page Page, destination string, diag *schemas.DeliveryDiagnostics, log *zap.Logger) error {
	attempts := d.cfg.Delivery.NavAttempts
	if attempts < 1 {
		attempts = 1
	}
	pause := d.cfg.Delivery.NavRetryPause
	if pause <= 0 {
		pause = 4 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		diag.NavAttempts = attempt
		lastErr = page.Navigate(ctx, destination)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("navigation attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < attempts {
			if err := d.sleep(ctx, pause); err != nil {
				return err
			}
		}
	}
	return &TransientNavigationError{URL: destination, Attempts: attempts, Err: lastErr}
}

// send activates the first resolvable send control, or falls back to a
// terminal key in the still-focused composer.
func (d *DeliveryController) send(ctx context.Context, page Page, log *zap.Logger) error {
	sel, found, err := page.FirstMatch(ctx, d.cfg.Locators.Delivery.SendControls)
	if err != nil {
		return err
	}
	input := page.Input()
	if found {
		if err := input.Click(ctx, sel); err != nil {
			return fmt.Errorf("activating send control: %w", err)
		}
		return nil
	}
	log.Debug("no send control matched, using terminal key")
	if err := input.PressKey(ctx, humanoid.KeyEnter); err != nil {
		return fmt.Errorf("terminal key dispatch: %w", err)
	}
	return nil
}

// awaitFirstMatch polls an ordered locator list until one resolves or the
// budget runs out. Absence is reported, never an error.
func (d *DeliveryController) awaitFirstMatch(ctx context.Context, page Page, selectors []string, budget time.Duration) (string, bool, error) {
	const step = 250 * time.Millisecond
	deadline := time.Now().Add(budget)
	for {
		sel, found, err := page.FirstMatch(ctx, selectors)
		if err != nil || found {
			return sel, found, err
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		if err := d.sleep(ctx, step); err != nil {
			return "", false, err
		}
	}
}

func (d *DeliveryController) result(runID string, target schemas.Target, start time.Time, diag schemas.DeliveryDiagnostics, failure error) schemas.DeliveryResult {
	res := schemas.DeliveryResult{
		ID:          uuid.New().String(),
		RunID:       runID,
		TargetID:    target.ID,
		Destination: target.Destination,
		Succeeded:   failure == nil,
		DurationMs:  time.Since(start).Milliseconds(),
		Diagnostics: diag,
		Timestamp:   time.Now().UTC(),
	}
	if failure != nil {
		res.Error = classify(failure)
	}
	return res
}

func (d *DeliveryController) settleWait() time.Duration {
	if d.cfg.Delivery.SettleWait > 0 {
		return d.cfg.Delivery.SettleWait
	}
	return 2 * time.Second
}

func (d *DeliveryController) confirmWait() time.Duration {
	if d.cfg.Delivery.ConfirmWait > 0 {
		return d.cfg.Delivery.ConfirmWait
	}
	return 5 * time.Second
}
