// internal/engine/interfaces.go

// Package engine sequences a delivery run: session establishment, login,
// verification challenge handling, and per-target message delivery. The
// browser session is the only shared mutable resource; the engine owns it
// for the run's duration and all page interactions are strictly
// sequential.
package engine

import (
	"context"
	"time"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/browser/humanoid"
)

// Page is the slice of a browser session the controllers drive. None of
// the controllers know they are talking to CDP; tests substitute a fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	FirstMatch(ctx context.Context, selectors []string) (string, bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	TextOf(ctx context.Context, selector string) (string, error)
	BodyText(ctx context.Context) (string, error)
	FrameURLs(ctx context.Context) ([]string, error)
	Eval(ctx context.Context, script string, out interface{}) error
	ExportStorage(ctx context.Context) (*schemas.StorageState, error)
	ImportStorage(ctx context.Context, state *schemas.StorageState) error
	Input() humanoid.Input
	Close(ctx context.Context) error
}

var _ Page = (*browser.Session)(nil)

// SessionFactory opens the run's browser session. Each run owns exactly
// one; parallel runs need independent factories (independent browsers).
type SessionFactory interface {
	NewSession(ctx context.Context) (Page, error)
}

// Sessions adapts the browser manager to the factory contract.
type Sessions struct {
	Manager *browser.Manager
}

func (s Sessions) NewSession(ctx context.Context) (Page, error) {
	sess, err := s.Manager.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
