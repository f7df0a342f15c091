// Package identity models the caller presented to the decision oracle and
// establishes it from bearer tokens.
//
// The authorization layer assumes the subject is already known; this package
// only turns a verified JWT into an Identity and stores it in the request
// context.
package identity
