// Package oracle defines the decision oracle consumed by the authorization
// middleware and the handle through which it is shared.
//
// An Oracle answers (subject, action, resource) queries. It is loaded once,
// wrapped in a Handle, and treated as read-only from then on. Engines live in
// subpackages:
//   - cel: CEL expressions compiled at construction
//   - casbin: Casbin model and policy text
//   - opa: remote Open Policy Agent data API
//
// Policy reload never mutates an Oracle. A Holder swaps in a new Handle with
// a higher version; requests already holding the previous Handle keep it.
package oracle
