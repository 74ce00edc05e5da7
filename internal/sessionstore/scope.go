// internal/sessionstore/scope.go
package sessionstore

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// ScopeToOrigin filters a stored artifact set down to the cookies that
// belong to the origin's registrable domain (eTLD+1), so artifacts
// captured across several sites never leak into an unrelated login.
// Web storage passes through untouched: the browser keys it by origin
// and a restore on the wrong origin is rejected there.
func ScopeToOrigin(state *schemas.StorageState, origin string) (*schemas.StorageState, error) {
	if state == nil {
		return nil, nil
	}

	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin %q: %w", origin, err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("origin %q has no host", origin)
	}

	base, baseErr := publicsuffix.EffectiveTLDPlusOne(host)

	kept := make([]*schemas.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		if c == nil {
			continue
		}
		if cookieInScope(c.Domain, host, base, baseErr == nil) {
			kept = append(kept, c)
		}
	}

	return &schemas.StorageState{
		Cookies:        kept,
		LocalStorage:   state.LocalStorage,
		SessionStorage: state.SessionStorage,
	}, nil
}

// cookieInScope reports whether a cookie domain falls inside the
// origin's registrable domain. Hosts without a registrable domain
// (IPs, localhost, intranet names) fall back to exact host matching.
func cookieInScope(cookieDomain, host, base string, haveBase bool) bool {
	domain := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	if domain == "" {
		return false
	}

	if !haveBase {
		return domain == strings.ToLower(host)
	}

	cookieBase, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain == strings.ToLower(host)
	}
	return strings.EqualFold(cookieBase, base)
}
