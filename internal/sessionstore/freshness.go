// internal/sessionstore/freshness.go
package sessionstore

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// Freshness classifies a stored artifact set by the expiry claims of
// any JWT-shaped values it carries. It is a cheap pre-flight check: a
// set judged expired will fail the authenticated-indicator probe
// anyway, so reuse can be skipped without spending a navigation.
type Freshness int

const (
	// FreshnessUnknown: no token with a readable expiry was found.
	FreshnessUnknown Freshness = iota
	// FreshnessLive: at least one token is still inside its validity window.
	FreshnessLive
	// FreshnessExpired: every readable token has expired.
	FreshnessExpired
)

func (f Freshness) String() string {
	switch f {
	case FreshnessLive:
		return "live"
	case FreshnessExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Probe reads exp claims from JWT-shaped cookie and web storage values
// without verifying signatures. Signatures are irrelevant here: the
// server already vouched for these tokens, only their clocks matter.
func Probe(state *schemas.StorageState, now time.Time) Freshness {
	if state == nil {
		return FreshnessUnknown
	}

	var sawLive, sawExpired bool
	inspect := func(value string) {
		exp, ok := tokenExpiry(value)
		if !ok {
			return
		}
		if exp.After(now) {
			sawLive = true
		} else {
			sawExpired = true
		}
	}

	for _, c := range state.Cookies {
		if c != nil {
			inspect(c.Value)
		}
	}
	for _, v := range state.LocalStorage {
		inspect(v)
	}
	for _, v := range state.SessionStorage {
		inspect(v)
	}

	switch {
	case sawLive:
		return FreshnessLive
	case sawExpired:
		return FreshnessExpired
	default:
		return FreshnessUnknown
	}
}

// tokenExpiry parses a candidate JWT unverified and returns its exp
// claim. Values that are not JWTs, fail to parse, or carry no exp are
// reported as unreadable.
func tokenExpiry(value string) (time.Time, bool) {
	if !looksLikeJWT(value) {
		return time.Time{}, false
	}

	token, _, err := jwt.NewParser().ParseUnverified(value, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// looksLikeJWT is a pre-filter so arbitrary cookie values are not fed
// to the parser. A compact JWS is three dot-joined base64url segments;
// the header of every JSON-object JWT encodes to an "eyJ" prefix.
func looksLikeJWT(value string) bool {
	return strings.HasPrefix(value, "eyJ") && strings.Count(value, ".") == 2
}
