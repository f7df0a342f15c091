package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// RejectionWriter writes the response for a rejected request.
type RejectionWriter func(w http.ResponseWriter, r *http.Request, err error)

// DefaultRejectionWriter answers with StatusFor(err) and a JSON body
// {"error": MessageFor(err)}. A cancelled request gets no response.
func DefaultRejectionWriter(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": MessageFor(err),
	})
}

// outcome is the resolved result of one pass through the middleware: the
// request to forward, or the error to reject with.
type outcome struct {
	request *http.Request
	err     error
}

func forward(r *http.Request) outcome {
	return outcome{request: r}
}

func reject(err error) outcome {
	return outcome{err: err}
}

func (o outcome) rejected() bool {
	return o.err != nil
}

// respond produces the single response for the outcome: the inner
// handler's, or the rejection.
func (o outcome) respond(w http.ResponseWriter, r *http.Request, next http.Handler, writeRejection RejectionWriter) {
	if o.rejected() {
		writeRejection(w, r, o.err)
		return
	}
	next.ServeHTTP(w, o.request)
}
