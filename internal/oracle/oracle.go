package oracle

import (
	"context"

	"github.com/vyrodovalexey/policyguard/internal/identity"
)

// Oracle is a policy-evaluation engine queried with (subject, action, resource)
// triples. Implementations must be safe for concurrent use and must not change
// their answers after construction.
type Oracle interface {
	// Evaluate reports whether subject may perform action on resource.
	Evaluate(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error)
}

// Func adapts an ordinary function to the Oracle interface.
type Func func(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error) {
	return f(ctx, subject, action, resource)
}

// Closer is implemented by oracles that hold resources.
type Closer interface {
	Close() error
}
