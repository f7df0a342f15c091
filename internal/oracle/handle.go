package oracle

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/policyguard/internal/identity"
)

var oracleTracer = otel.Tracer("policyguard/oracle")

// Handle is a shared, immutable reference to an initialized Oracle.
//
// A Handle is created once and never mutated. Passing the pointer around is
// the only form of cloning; every copy refers to the same oracle.
type Handle struct {
	oracle  Oracle
	version uint64
	source  string
}

// HandleOption configures a Handle at construction.
type HandleOption func(*Handle)

// WithVersion sets the handle version.
func WithVersion(version uint64) HandleOption {
	return func(h *Handle) {
		h.version = version
	}
}

// WithSource labels where the oracle's policy came from.
func WithSource(source string) HandleOption {
	return func(h *Handle) {
		h.source = source
	}
}

// NewHandle wraps an oracle. It returns nil when o is nil.
func NewHandle(o Oracle, opts ...HandleOption) *Handle {
	if o == nil {
		return nil
	}
	h := &Handle{oracle: o}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Oracle returns the wrapped oracle.
func (h *Handle) Oracle() Oracle {
	return h.oracle
}

// Version returns the handle version.
func (h *Handle) Version() uint64 {
	return h.version
}

// Source returns the policy source label.
func (h *Handle) Source() string {
	return h.source
}

// Same reports whether both handles refer to the same underlying oracle.
func (h *Handle) Same(other *Handle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h == other || sameOracle(h.oracle, other.oracle)
}

// sameOracle compares oracles by identity without panicking on
// non-comparable dynamic types such as Func.
func sameOracle(a, b Oracle) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

// Evaluate queries the oracle. Errors are returned as-is; a nil subject is
// evaluated as the anonymous identity.
func (h *Handle) Evaluate(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error) {
	if subject == nil {
		subject = identity.Anonymous("")
	}

	ctx, span := oracleTracer.Start(ctx, "oracle.evaluate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("oracle.subject", subject.Subject),
			attribute.String("oracle.action", action),
			attribute.String("oracle.resource", resource),
			attribute.Int64("oracle.version", int64(h.version)),
		),
	)
	defer span.End()

	allowed, err := h.oracle.Evaluate(ctx, subject, action, resource)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("oracle.allowed", allowed))
	return allowed, nil
}

// Current implements Source.
func (h *Handle) Current() (*Handle, bool) {
	return h, h != nil
}

// Source yields the handle to use for a request.
type Source interface {
	Current() (*Handle, bool)
}

// Holder publishes the current Handle and replaces it atomically on reload.
// Readers that already obtained a handle keep using it; a swap is never
// visible in the middle of a request.
type Holder struct {
	current atomic.Pointer[Handle]

	// mu orders writers so versions are published in increasing order.
	mu      sync.Mutex
	version uint64
}

// NewHolder returns a holder, optionally seeded with an oracle.
func NewHolder(o Oracle, source string) *Holder {
	h := &Holder{}
	if o != nil {
		h.Swap(o, source)
	}
	return h
}

// Current implements Source.
func (h *Holder) Current() (*Handle, bool) {
	cur := h.current.Load()
	return cur, cur != nil
}

// Swap installs a new oracle under the next version and returns the new
// handle. The previous oracle is not closed: requests in flight may still
// hold it.
func (h *Holder) Swap(o Oracle, source string) *Handle {
	if o == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.version++
	next := NewHandle(o, WithVersion(h.version), WithSource(source))
	h.current.Store(next)
	return next
}

// Close closes the current oracle, if it holds resources.
func (h *Holder) Close() error {
	h.mu.Lock()
	cur := h.current.Swap(nil)
	h.mu.Unlock()
	if cur == nil {
		return nil
	}
	if c, ok := cur.oracle.(Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	_ Source = (*Handle)(nil)
	_ Source = (*Holder)(nil)
)
