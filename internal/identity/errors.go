package identity

import "errors"

// Sentinel errors for authentication.
var (
	// ErrNoCredentials indicates that no bearer token was provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidToken indicates that the token could not be parsed or verified.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token expired")
)
