// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from session (which carries the browser
// connection values) that is also canceled when op is canceled. When op has
// a deadline, the combined context gets it too.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if deadline, ok := op.Deadline(); ok {
		combined, cancel = context.WithDeadline(session, deadline)
	} else {
		combined, cancel = context.WithCancel(session)
	}

	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps the parent's values but drops its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context carrying ctx's values that outlives ctx. Cleanup
// work (closing a tab after the audit deadline fired) runs under it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
