// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// Apply builds the CDP action sequence that aligns the browser's
// observable surface with the persona: UA and client hints, injected
// JS evasions, timezone, locale, language headers, and screen metrics.
// The evasions script reads the persona from a window global, so the
// injection order matters: persona first, evasions second, both before
// any document script runs.
func Apply(p schemas.Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("applying stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	uaOverride := emulation.SetUserAgentOverride(p.UserAgent)
	if p.ClientHintsData != nil {
		uaOverride = uaOverride.WithUserAgentMetadata(clientHintsMetadata(p))
	}

	tasks := chromedp.Tasks{
		uaOverride,

		// Inject the persona payload and the evasions script before any
		// page script can take a fingerprint.
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := buildInitScript(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("injecting evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguageHeader(p.Languages),
		}),
	}

	if p.Width > 0 && p.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1.0, p.Mobile))
	}

	return tasks
}

// buildInitScript concatenates the persona payload and the evasions body.
func buildInitScript(p schemas.Persona) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling persona: %w", err)
	}
	var b strings.Builder
	b.WriteString("window.__courierPersona = ")
	b.Write(payload)
	b.WriteString(";\n")
	b.WriteString(evasionsScript)
	return b.String(), nil
}

// acceptLanguageHeader renders the persona's language list with the
// descending q-values browsers actually send.
func acceptLanguageHeader(langs []string) string {
	if len(langs) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - float64(i)*0.1
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

func clientHintsMetadata(p schemas.Persona) *emulation.UserAgentMetadata {
	ch := p.ClientHintsData
	meta := &emulation.UserAgentMetadata{
		Platform:        ch.Platform,
		PlatformVersion: ch.PlatformVersion,
		Architecture:    ch.Architecture,
		Bitness:         ch.Bitness,
		Mobile:          ch.Mobile,
	}
	for _, b := range ch.Brands {
		if b == nil {
			continue
		}
		meta.Brands = append(meta.Brands, &emulation.UserAgentBrandVersion{
			Brand:   b.Brand,
			Version: b.Version,
		})
	}
	return meta
}
