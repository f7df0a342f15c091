// Package health provides liveness and readiness endpoints.
//
// Readiness aggregates named checks; PolicyCheck reports whether an oracle
// is loaded and which version is serving.
package health
