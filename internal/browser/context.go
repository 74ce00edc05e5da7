// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext creates a context derived from ctx1 that is canceled
// when either ctx1 or ctx2 is canceled. ctx1 must be the chromedp
// session context: the combined context inherits its values, which is
// where chromedp keeps the CDP target handle.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext inherits values from its parent but ignores the
// parent's deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context carrying ctx's values that outlives ctx's
// cancellation. Cleanup paths use it so a dying run context cannot
// strand the CDP connection mid-teardown.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
