package authz

import (
	"net/http"
	"strings"

	"github.com/vyrodovalexey/policyguard/internal/identity"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// PathOption configures PathDecision.
type PathOption func(*pathDecision)

// WithAnonymousSubject sets the subject used for unauthenticated requests.
func WithAnonymousSubject(subject string) PathOption {
	return func(d *pathDecision) {
		d.anonymous = subject
	}
}

// WithAction overrides how the action is derived from a request.
func WithAction(fn func(*http.Request) string) PathOption {
	return func(d *pathDecision) {
		if fn != nil {
			d.action = fn
		}
	}
}

// WithResource overrides how the resource is derived from a request.
func WithResource(fn func(*http.Request) string) PathOption {
	return func(d *pathDecision) {
		if fn != nil {
			d.resource = fn
		}
	}
}

type pathDecision struct {
	anonymous string
	action    func(*http.Request) string
	resource  func(*http.Request) string
}

// PathDecision returns a DecisionFunc asking the oracle whether the request
// identity may perform the upper-cased method on the URL path. Requests
// without an identity use the anonymous subject. A denial or an oracle
// error rejects with 401 "not allowed".
func PathDecision(opts ...PathOption) DecisionFunc {
	d := &pathDecision{
		anonymous: identity.AnonymousSubject,
		action:    func(r *http.Request) string { return strings.ToUpper(r.Method) },
		resource:  func(r *http.Request) string { return r.URL.Path },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d.decide
}

func (d *pathDecision) decide(r *http.Request, h *oracle.Handle) (*http.Request, error) {
	subject, ok := identity.FromContext(r.Context())
	if !ok {
		subject = identity.Anonymous(d.anonymous)
	}

	allowed, err := h.Evaluate(r.Context(), subject, d.action(r), d.resource(r))
	if err != nil {
		return nil, RejectErr(err)
	}
	if !allowed {
		return nil, Reject(ErrNotAllowed.Error())
	}
	return r, nil
}
