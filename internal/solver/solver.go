// internal/solver/solver.go

// Package solver supplies the pluggable challenge-solving capabilities the
// resolver orchestrates. The resolver only sequences strategies; everything
// that actually produces an answer lives behind the interfaces here so a
// deployment can swap providers without touching the engine.
package solver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/xkilldash9x/courier-cli/internal/browser/network"
)

// ErrNoAnswer signals the capability ran but could not produce an answer.
// The caller escalates to the next strategy; it must not retry this one.
var ErrNoAnswer = errors.New("solver: no answer produced")

// ErrTimedOut signals the delegated service exhausted its poll budget
// without reaching a verdict.
var ErrTimedOut = errors.New("solver: delegated service timed out")

// Payload is the machine-presentable media of an accessible challenge
// variant, usually a short audio clip.
type Payload struct {
	Data      []byte
	MIMEType  string
	SourceURL string
}

// Transcriber converts a challenge payload into a text answer.
type Transcriber interface {
	Transcribe(ctx context.Context, payload Payload) (string, error)
}

// Challenge carries the parameters a delegated solving service needs to
// reproduce the challenge out of band.
type Challenge struct {
	// Kind names the challenge family, taken from the matched frame marker.
	Kind string `json:"kind"`
	// SiteKey is the site-scoped public key of the embed, when present.
	SiteKey string `json:"site_key,omitempty"`
	// PageURL is the page the challenge appeared on.
	PageURL string `json:"page_url"`
}

// Delegate submits challenges to an external solving service and polls
// for the resulting token.
type Delegate interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

// NewHTTPClient builds the client used for payload fetches and delegated
// service calls. Responses are transparently decompressed; challenge CDNs
// routinely serve brotli.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: network.NewDecodingRoundTripper(nil),
		Timeout:   timeout,
	}
}
