// internal/browser/allocator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

// chromeFlags translates BrowserConfig into the Chromium flag set. The
// baseline favors a believable profile over a minimal one: automation
// banners off, blink automation flag disabled, sandbox kept unless the
// caller's args say otherwise. Kept as a plain map so it can be
// inspected without spawning a browser.
func chromeFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"no-first-run":                  true,
		"no-default-browser-check":      true,
		"disable-blink-features":        "AutomationControlled",
		"disable-infobars":              true,
		"disable-background-networking": true,
		"disable-component-update":      true,
		"disable-sync":                  true,
		"disable-dev-shm-usage":         true,
	}

	if cfg.Headless {
		// "new" headless keeps the renderer closer to headful chrome
		flags["headless"] = "new"
		flags["disable-gpu"] = true
	}

	if cfg.DisableCache {
		flags["disk-cache-size"] = "0"
		flags["media-cache-size"] = "0"
		flags["disable-cache"] = true
	}

	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}

	if cfg.UserDataDir != "" {
		flags["user-data-dir"] = cfg.UserDataDir
	}

	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", w, h)
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := parseChromeArg(arg)
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}

	return flags
}

// DefaultAllocatorOptions converts the flag set into chromedp exec
// allocator options.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := chromeFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for name, value := range flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseChromeArg splits "--flag=value" / "--flag" / "flag" forms.
func parseChromeArg(arg string) (name, value string, hasValue bool) {
	arg = strings.TrimLeft(arg, "-")
	if arg == "" {
		return "", "", false
	}
	if idx := strings.IndexByte(arg, '='); idx >= 0 {
		return arg[:idx], arg[idx+1:], true
	}
	return arg, "", false
}
