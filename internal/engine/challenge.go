// internal/engine/challenge.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/solver"
)

const (
	// audioSourceWait bounds how long the resolver waits for the widget to
	// expose its audio payload after switching modes.
	audioSourceWait = 10 * time.Second
	audioSourcePoll = 500 * time.Millisecond
	// strategySettle is the pause between submitting an answer or token
	// and re-probing the detection predicate.
	strategySettle = 2 * time.Second
)

// Resolver walks the challenge resolution chain: audio transcription,
// delegated service, then a bounded manual wait for observable sessions.
// The detection predicate is re-evaluated on every call, never cached; a
// challenge can appear after any navigation or submission.
type Resolver struct {
	cfg         config.ChallengeConfig
	headless    bool
	transcriber solver.Transcriber
	delegate    solver.Delegate
	httpClient  *http.Client
	log         *zap.Logger
	sleep       sleepFunc
}

// NewResolver builds the resolver. Either capability may be nil, which
// skips its strategy entirely.
func NewResolver(
	cfg config.ChallengeConfig,
	headless bool,
	transcriber solver.Transcriber,
	delegate solver.Delegate,
	httpClient *http.Client,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = solver.NewHTTPClient(0)
	}
	return &Resolver{
		cfg:         cfg,
		headless:    headless,
		transcriber: transcriber,
		delegate:    delegate,
		httpClient:  httpClient,
		log:         logger.Named("challenge"),
		sleep:       ctxSleep,
	}
}

// Detect reports whether a verification challenge is currently blocking
// the page: a known embed by frame URL marker, or the generic keyword
// heuristic on the rendered text.
func (r *Resolver) Detect(ctx context.Context, page Page) (bool, error) {
	frames, err := page.FrameURLs(ctx)
	if err != nil {
		return false, fmt.Errorf("listing frames: %w", err)
	}
	for _, frame := range frames {
		lower := strings.ToLower(frame)
		for _, marker := range r.cfg.FrameMarkers {
			if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
				return true, nil
			}
		}
	}

	if len(r.cfg.Keywords) == 0 {
		return false, nil
	}
	body, err := page.BodyText(ctx)
	if err != nil {
		return false, fmt.Errorf("reading page text: %w", err)
	}
	for _, kw := range r.cfg.Keywords {
		if kw != "" && strings.Contains(body, strings.ToLower(kw)) {
			return true, nil
		}
	}
	return false, nil
}

// Resolve runs the strategy chain. A clean page short-circuits to CLEARED
// with zero strategies invoked. Strategies never retry themselves; a
// failed strategy escalates to the next. The returned error is reserved
// for run-level faults (cancellation, a page that stopped answering);
// an exhausted chain is reported through the outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, page Page) (schemas.ChallengeOutcome, error) {
	detected, err := r.Detect(ctx, page)
	if err != nil {
		return schemas.ChallengeOutcome{}, fmt.Errorf("probing for challenge: %w", err)
	}
	if !detected {
		return schemas.ChallengeOutcome{Cleared: true, Method: schemas.ChallengeMethodNone}, nil
	}
	r.log.Info("verification challenge detected")

	if r.transcriber != nil {
		cleared, err := r.tryAudio(ctx, page)
		if err != nil {
			return schemas.ChallengeOutcome{}, err
		}
		if cleared {
			r.log.Info("challenge cleared", zap.String("method", string(schemas.ChallengeMethodAudio)))
			return schemas.ChallengeOutcome{Cleared: true, Method: schemas.ChallengeMethodAudio}, nil
		}
	}

	if r.delegate != nil {
		cleared, err := r.tryDelegated(ctx, page)
		if err != nil {
			return schemas.ChallengeOutcome{}, err
		}
		if cleared {
			r.log.Info("challenge cleared", zap.String("method", string(schemas.ChallengeMethodDelegated)))
			return schemas.ChallengeOutcome{Cleared: true, Method: schemas.ChallengeMethodDelegated}, nil
		}
	}

	if cleared, err := r.manualWait(ctx, page); err != nil {
		return schemas.ChallengeOutcome{}, err
	} else if cleared {
		r.log.Info("challenge cleared", zap.String("method", string(schemas.ChallengeMethodManual)))
		return schemas.ChallengeOutcome{Cleared: true, Method: schemas.ChallengeMethodManual}, nil
	}

	r.log.Warn("challenge unresolved, all strategies exhausted")
	return schemas.ChallengeOutcome{Cleared: false, Method: schemas.ChallengeMethodNone}, nil
}

// tryAudio switches the widget into its accessible mode, fetches the
// audio payload, transcribes it, and submits the answer. One shot: if the
// capability produces nothing or the answer does not clear the predicate,
// the strategy fails without retrying.
func (r *Resolver) tryAudio(ctx context.Context, page Page) (bool, error) {
	trigger, found, err := page.FirstMatch(ctx, r.cfg.AudioTriggers)
	if err != nil {
		return r.softFail(ctx, "locating audio trigger", err)
	}
	if !found {
		r.log.Debug("audio mode unavailable, no trigger matched")
		return false, nil
	}
	if err := page.Input().Click(ctx, trigger); err != nil {
		return r.softFail(ctx, "activating audio mode", err)
	}

	audioURL, err := r.awaitAudioSource(ctx, page)
	if err != nil {
		return r.softFail(ctx, "waiting for audio payload", err)
	}
	if audioURL == "" {
		r.log.Warn("audio mode produced no payload URL")
		return false, nil
	}

	payload, err := solver.FetchPayload(ctx, r.httpClient, audioURL)
	if err != nil {
		return r.softFail(ctx, "fetching audio payload", err)
	}

	answer, err := r.transcriber.Transcribe(ctx, payload)
	if err != nil {
		return r.softFail(ctx, "transcribing audio payload", err)
	}

	answerField, found, err := page.FirstMatch(ctx, r.cfg.AnswerInputs)
	if err != nil || !found {
		return r.softFail(ctx, "locating answer input", err)
	}
	if err := page.Input().Type(ctx, answerField, answer); err != nil {
		return r.softFail(ctx, "entering answer", err)
	}

	verify, found, err := page.FirstMatch(ctx, r.cfg.VerifyControls)
	if err != nil {
		return r.softFail(ctx, "locating verify control", err)
	}
	if found {
		if err := page.Input().Click(ctx, verify); err != nil {
			return r.softFail(ctx, "submitting answer", err)
		}
	} else {
		if err := page.Input().PressKey(ctx, humanoid.KeyEnter); err != nil {
			return r.softFail(ctx, "submitting answer", err)
		}
	}

	if err := r.sleep(ctx, strategySettle); err != nil {
		return false, err
	}
	detected, err := r.Detect(ctx, page)
	if err != nil {
		return r.softFail(ctx, "re-probing after answer", err)
	}
	return !detected, nil
}

// awaitAudioSource polls the widget for a payload URL until the wait
// budget runs out.
func (r *Resolver) awaitAudioSource(ctx context.Context, page Page) (string, error) {
	script := fmt.Sprintf(`(function(sels) {
		for (const sel of sels) {
			const el = document.querySelector(sel);
			if (!el) { continue; }
			const src = el.currentSrc || el.src || el.href || el.getAttribute('src') || el.getAttribute('href') || '';
			if (src) { return src; }
		}
		return '';
	})(%s)`, jsStrings(r.cfg.AudioSources))

	deadline := time.Now().Add(audioSourceWait)
	for {
		var src string
		if err := page.Eval(ctx, script, &src); err != nil {
			return "", err
		}
		if src != "" {
			return src, nil
		}
		if time.Now().After(deadline) {
			return "", nil
		}
		if err := r.sleep(ctx, audioSourcePoll); err != nil {
			return "", err
		}
	}
}

// tryDelegated hands the challenge parameters to the external service and
// injects the returned token into the page's response field, firing the
// site callback when one is registered.
func (r *Resolver) tryDelegated(ctx context.Context, page Page) (bool, error) {
	pageURL, err := page.CurrentURL(ctx)
	if err != nil {
		return r.softFail(ctx, "reading page url", err)
	}

	var siteKey string
	if err := page.Eval(ctx, siteKeyJS, &siteKey); err != nil {
		r.log.Debug("site key probe failed", zap.Error(err))
	}

	token, err := r.delegate.Solve(ctx, solver.Challenge{
		Kind:    r.challengeKind(ctx, page),
		SiteKey: siteKey,
		PageURL: pageURL,
	})
	if err != nil {
		return r.softFail(ctx, "delegated service", err)
	}

	var applied bool
	if err := page.Eval(ctx, injectTokenJS(token, r.cfg.ResponseFields), &applied); err != nil {
		return r.softFail(ctx, "injecting token", err)
	}
	if !applied {
		r.log.Warn("no response field accepted the token")
	}

	if err := r.sleep(ctx, strategySettle); err != nil {
		return false, err
	}
	detected, err := r.Detect(ctx, page)
	if err != nil {
		return r.softFail(ctx, "re-probing after token", err)
	}
	return !detected, nil
}

// challengeKind names the embed by its first matching frame marker so the
// delegated service knows which puzzle family it is solving.
func (r *Resolver) challengeKind(ctx context.Context, page Page) string {
	frames, err := page.FrameURLs(ctx)
	if err != nil {
		return "unknown"
	}
	for _, frame := range frames {
		lower := strings.ToLower(frame)
		for _, marker := range r.cfg.FrameMarkers {
			if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
				return strings.ToLower(marker)
			}
		}
	}
	return "unknown"
}

// manualWait polls the detection predicate until a human clears the
// challenge or the bounded timeout elapses. Headless sessions skip it
// immediately: nobody can see the puzzle, so waiting would only stall
// the run.
func (r *Resolver) manualWait(ctx context.Context, page Page) (bool, error) {
	if r.headless {
		r.log.Debug("manual wait skipped, session is not observable")
		return false, nil
	}
	timeout := r.cfg.ManualWait.Timeout
	if timeout <= 0 {
		return false, nil
	}
	interval := r.cfg.ManualWait.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	r.log.Info("waiting for operator to clear the challenge", zap.Duration("timeout", timeout))
	deadline := time.Now().Add(timeout)
	for {
		if err := r.sleep(ctx, interval); err != nil {
			return false, err
		}
		detected, err := r.Detect(ctx, page)
		if err != nil {
			r.log.Warn("challenge probe failed during manual wait", zap.Error(err))
		} else if !detected {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
	}
}

// softFail logs a strategy-internal failure and escalates to the next
// strategy, unless the run itself is over.
func (r *Resolver) softFail(ctx context.Context, step string, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		r.log.Warn("challenge strategy failed", zap.String("step", step), zap.Error(err))
	} else {
		r.log.Warn("challenge strategy failed", zap.String("step", step))
	}
	return false, nil
}

const siteKeyJS = `(function() {
	const el = document.querySelector('[data-sitekey]');
	return el ? (el.getAttribute('data-sitekey') || '') : '';
})()`

// injectTokenJS writes the token into every configured response field and
// fires the widget callback when the page registered one.
func injectTokenJS(token string, fields []string) string {
	return fmt.Sprintf(`(function(token, sels) {
		let hit = false;
		for (const sel of sels) {
			for (const el of document.querySelectorAll(sel)) {
				el.value = token;
				if (el.tagName === 'TEXTAREA') { el.innerHTML = token; }
				el.dispatchEvent(new Event('input', {bubbles: true}));
				el.dispatchEvent(new Event('change', {bubbles: true}));
				hit = true;
			}
		}
		try {
			const cfg = window.___grecaptcha_cfg;
			if (cfg && cfg.clients) {
				for (const client of Object.values(cfg.clients)) {
					for (const a of Object.values(client)) {
						if (!a || typeof a !== 'object') { continue; }
						for (const b of Object.values(a)) {
							if (b && typeof b === 'object' && typeof b.callback === 'function') {
								b.callback(token);
								return true;
							}
						}
					}
				}
			}
		} catch (e) { /* the site owns the callback shape */ }
		return hit;
	})(%s, %s)`, jsString(token), jsStrings(fields))
}

// jsString embeds a Go string as a JS string literal.
func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// jsStrings embeds a Go string slice as a JS array literal.
func jsStrings(v []string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `[]`
	}
	return string(b)
}
