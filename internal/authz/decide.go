package authz

import (
	"context"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// ContextDecisionFunc is the transport-neutral form of DecisionFunc. It
// returns the context to continue with, or nil to keep the one it was given.
type ContextDecisionFunc func(ctx context.Context, h *oracle.Handle) (context.Context, error)

// DecideContext resolves the oracle through b, publishes it into ctx, and
// runs decide. It returns the context to continue with, which always
// carries the published oracle, or the rejection error. ErrOracleUnavailable
// is returned without running decide when nothing resolves.
func DecideContext(ctx context.Context, b Binding, decide ContextDecisionFunc) (context.Context, error) {
	h, ok := b.Resolve(ctx)
	if !ok {
		return ctx, ErrOracleUnavailable
	}

	published := publish(ctx, h)
	next, err := await(ctx, func() (context.Context, error) {
		return decide(published, h)
	})
	if err != nil {
		return published, err
	}
	if next == nil {
		return published, nil
	}
	return next, nil
}

// await runs fn on its own goroutine and waits for it or for ctx to end.
// A result that arrives after ctx ended is discarded. A panic in fn is
// re-raised on the caller's goroutine.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value    T
		err      error
		panicked interface{}
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{panicked: p}
			}
		}()
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.panicked != nil {
			panic(res.panicked)
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
