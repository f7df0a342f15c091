package authz

import (
	"context"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// BindingKind identifies how a middleware obtains its oracle.
type BindingKind int

// Binding kinds.
const (
	// BindingBound uses the handle captured at construction.
	BindingBound BindingKind = iota

	// BindingDeferred looks the handle up per request from the pipeline
	// attachment point installed by Attach.
	BindingDeferred
)

// String returns the kind name.
func (k BindingKind) String() string {
	switch k {
	case BindingBound:
		return "bound"
	case BindingDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Binding is the oracle resolution strategy of a middleware, fixed at
// construction.
type Binding struct {
	kind   BindingKind
	handle *oracle.Handle
}

// Bound returns a binding to h. A nil h makes every request unresolvable.
func Bound(h *oracle.Handle) Binding {
	return Binding{kind: BindingBound, handle: h}
}

// Deferred returns a binding resolved from the request context.
func Deferred() Binding {
	return Binding{kind: BindingDeferred}
}

// Kind returns the binding kind.
func (b Binding) Kind() BindingKind {
	return b.kind
}

// Resolve returns the handle to use for a request carrying ctx.
func (b Binding) Resolve(ctx context.Context) (*oracle.Handle, bool) {
	switch b.kind {
	case BindingBound:
		return b.handle, b.handle != nil
	case BindingDeferred:
		return pipelineOracle(ctx)
	default:
		return nil, false
	}
}
