package authz

import (
	"net/http"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// OracleHandlerFunc is a handler that receives the published oracle.
type OracleHandlerFunc func(w http.ResponseWriter, r *http.Request, h *oracle.Handle)

// WithOracle adapts fn to http.Handler. When no oracle was published the
// request is answered with 400 "no oracle could be extracted" and fn is not
// called.
func WithOracle(fn OracleHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := ExtractFromRequest(r)
		if err != nil {
			DefaultRejectionWriter(w, r, err)
			return
		}
		fn(w, r, h)
	})
}
