// Package authz provides authorization middleware for net/http.
//
// A Middleware resolves an oracle handle for every request, publishes it
// into the request context, and asks a DecisionFunc whether the request may
// continue. Rejected requests never reach the wrapped handler.
//
// The handle is either bound when the middleware is built:
//
//	mw := authz.New(handle, authz.PathDecision())
//	http.Handle("/", mw.Wrap(app))
//
// or resolved per request from a handle attached earlier in the pipeline,
// which lets a policy reload take effect without rebuilding the stack:
//
//	holder := oracle.NewHolder(engine, "file:policy.yaml")
//	mw := authz.NewDeferred(authz.PathDecision())
//	http.Handle("/", authz.Attach(holder)(mw.Wrap(app)))
//
// Handlers reach the oracle that made the decision with Extract or the
// WithOracle adapter.
package authz
