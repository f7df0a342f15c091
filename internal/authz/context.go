package authz

import (
	"context"
	"net/http"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// publishedKey holds the handle the middleware resolved for a request.
type publishedKey struct{}

// pipelineKey holds the handle attached to the pipeline for deferred
// bindings.
type pipelineKey struct{}

func publish(ctx context.Context, h *oracle.Handle) context.Context {
	return context.WithValue(ctx, publishedKey{}, h)
}

// Extract returns the oracle handle published by the authorization
// middleware. It fails with ErrOracleMissing when no middleware ran.
func Extract(ctx context.Context) (*oracle.Handle, error) {
	if ctx == nil {
		return nil, ErrOracleMissing
	}
	h, ok := ctx.Value(publishedKey{}).(*oracle.Handle)
	if !ok || h == nil {
		return nil, ErrOracleMissing
	}
	return h, nil
}

// ExtractFromRequest is Extract on the request context.
func ExtractFromRequest(r *http.Request) (*oracle.Handle, error) {
	return Extract(r.Context())
}

// ContextWithPipelineOracle attaches h for middleware using a deferred
// binding. A nil h leaves ctx unchanged.
func ContextWithPipelineOracle(ctx context.Context, h *oracle.Handle) context.Context {
	if h == nil {
		return ctx
	}
	return context.WithValue(ctx, pipelineKey{}, h)
}

func pipelineOracle(ctx context.Context) (*oracle.Handle, bool) {
	h, ok := ctx.Value(pipelineKey{}).(*oracle.Handle)
	return h, ok && h != nil
}

// Attach returns middleware that attaches the current handle of src to each
// request for deferred bindings downstream. The handle is read once per
// request, so a request never sees two versions.
func Attach(src oracle.Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src != nil {
				if h, ok := src.Current(); ok {
					r = r.WithContext(ContextWithPipelineOracle(r.Context(), h))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
