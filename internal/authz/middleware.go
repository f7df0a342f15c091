package authz

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

const tracerName = "policyguard/authz"

// DecisionFunc decides whether a request may proceed. It receives the
// request, whose context already carries the published oracle, and the
// resolved handle. A nil error continues with the returned request, or with
// the request as given when the returned request is nil. Any error rejects.
//
// A DecisionFunc is called concurrently, once per request.
type DecisionFunc func(r *http.Request, h *oracle.Handle) (*http.Request, error)

// Middleware intercepts requests and consults a DecisionFunc before letting
// them through. It is immutable after construction and safe for concurrent
// use.
type Middleware struct {
	binding        Binding
	decide         DecisionFunc
	writeRejection RejectionWriter
	metrics        *Metrics
	tracer         trace.Tracer
}

// Option is a functional option for the middleware.
type Option func(*Middleware)

// WithRejectionWriter replaces DefaultRejectionWriter.
func WithRejectionWriter(writer RejectionWriter) Option {
	return func(m *Middleware) {
		if writer != nil {
			m.writeRejection = writer
		}
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used for decision spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Middleware) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// New creates a middleware bound to h. A nil h is accepted; every request
// is then rejected with ErrOracleUnavailable.
func New(h *oracle.Handle, decide DecisionFunc, opts ...Option) *Middleware {
	return NewWithBinding(Bound(h), decide, opts...)
}

// NewDeferred creates a middleware that resolves the oracle per request from
// the handle attached with Attach or ContextWithPipelineOracle.
func NewDeferred(decide DecisionFunc, opts ...Option) *Middleware {
	return NewWithBinding(Deferred(), decide, opts...)
}

// NewWithBinding creates a middleware with an explicit binding. A nil
// decide rejects every request.
func NewWithBinding(b Binding, decide DecisionFunc, opts ...Option) *Middleware {
	if decide == nil {
		decide = denyAll
	}
	m := &Middleware{
		binding:        b,
		decide:         decide,
		writeRejection: DefaultRejectionWriter,
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Binding returns the middleware's binding.
func (m *Middleware) Binding() Binding {
	return m.binding
}

// Wrap returns next guarded by the middleware.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return &instance{middleware: m, next: next}
}

// Handler returns the middleware in func(http.Handler) http.Handler form.
func (m *Middleware) Handler() func(http.Handler) http.Handler {
	return m.Wrap
}

// Decide runs the per-request algorithm without an inner handler: resolve
// the oracle, publish it, and wait for the decision function or for the
// request context to end. The returned request carries the published
// oracle. It is used by adapters for other frameworks.
func (m *Middleware) Decide(r *http.Request) (*http.Request, error) {
	o := m.run(r)
	return o.request, o.err
}

// WriteRejection writes the rejection response for err.
func (m *Middleware) WriteRejection(w http.ResponseWriter, r *http.Request, err error) {
	m.writeRejection(w, r, err)
}

type instance struct {
	middleware *Middleware
	next       http.Handler
}

func (i *instance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o := i.middleware.run(r)
	req := o.request
	if req == nil {
		req = r
	}
	o.respond(w, req, i.next, i.middleware.writeRejection)
}

func (m *Middleware) run(r *http.Request) outcome {
	start := time.Now()
	ctx, span := m.tracer.Start(r.Context(), "authz.decide",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("authz.binding", m.binding.Kind().String()),
		),
	)
	defer span.End()

	o := m.resolveAndDecide(r.WithContext(ctx))
	if o.request != nil {
		// The decision span ends here; the inner handler's spans belong to
		// the caller's span.
		parent := trace.SpanFromContext(r.Context())
		o.request = o.request.WithContext(trace.ContextWithSpan(o.request.Context(), parent))
	}

	span.SetAttributes(attribute.String("authz.outcome", OutcomeFor(o.err)))
	if o.rejected() {
		span.SetStatus(codes.Error, MessageFor(o.err))
	}
	m.metrics.Record(OutcomeFor(o.err), time.Since(start))
	return o
}

func (m *Middleware) resolveAndDecide(r *http.Request) outcome {
	ctx := r.Context()

	h, ok := m.binding.Resolve(ctx)
	if !ok {
		return reject(ErrOracleUnavailable)
	}

	published := r.WithContext(publish(ctx, h))
	next, err := await(ctx, func() (*http.Request, error) {
		return m.decide(published, h)
	})
	if err != nil {
		return reject(err)
	}
	if next == nil {
		return forward(published)
	}
	return forward(next)
}

func denyAll(*http.Request, *oracle.Handle) (*http.Request, error) {
	return nil, ErrNotAllowed
}
