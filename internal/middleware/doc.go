// Package middleware provides the net/http middleware policyguard serves
// requests with: request IDs, panic recovery, and access logging.
package middleware
