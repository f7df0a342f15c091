package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/policyguard/internal/observability"
)

const bearerPrefix = "bearer "

// JWTConfig configures HMAC-signed bearer token verification.
type JWTConfig struct {
	// Secret is the shared HMAC key.
	Secret string

	// Algorithm is one of HS256, HS384, HS512. Defaults to HS256.
	Algorithm string

	// Issuer, when set, must match the iss claim.
	Issuer string

	// RolesClaim names the claim holding roles. Defaults to "roles".
	RolesClaim string

	// GroupsClaim names the claim holding groups. Defaults to "groups".
	GroupsClaim string
}

// Authenticator verifies bearer tokens and attaches the resulting identity.
type Authenticator struct {
	config           JWTConfig
	algorithm        jwa.SignatureAlgorithm
	anonymousSubject string
	requireAuth      bool
	logger           observability.Logger
}

// AuthenticatorOption is a functional option for the authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithAnonymousSubject sets the subject used for requests without a token.
func WithAnonymousSubject(subject string) AuthenticatorOption {
	return func(a *Authenticator) {
		a.anonymousSubject = subject
	}
}

// WithRequireAuth rejects requests that carry no token instead of treating
// them as anonymous.
func WithRequireAuth(require bool) AuthenticatorOption {
	return func(a *Authenticator) {
		a.requireAuth = require
	}
}

// NewAuthenticator creates a JWT authenticator.
func NewAuthenticator(cfg JWTConfig, opts ...AuthenticatorOption) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	alg, err := parseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = "groups"
	}

	a := &Authenticator{
		config:           cfg,
		algorithm:        alg,
		anonymousSubject: AnonymousSubject,
		logger:           observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func parseAlgorithm(name string) (jwa.SignatureAlgorithm, error) {
	switch strings.ToUpper(name) {
	case "", "HS256":
		return jwa.HS256, nil
	case "HS384":
		return jwa.HS384, nil
	case "HS512":
		return jwa.HS512, nil
	default:
		return "", fmt.Errorf("unsupported jwt algorithm %q", name)
	}
}

// Authenticate returns the identity for the request. A request without an
// Authorization header yields ErrNoCredentials.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrNoCredentials
	}
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKey(a.algorithm, []byte(a.config.Secret)),
		jwt.WithValidate(true),
	}
	if a.config.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(a.config.Issuer))
	}

	token, err := jwt.ParseString(strings.TrimSpace(header[len(bearerPrefix):]), parseOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	claims := token.PrivateClaims()
	return &Identity{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		AuthType:  AuthTypeJWT,
		ExpiresAt: token.Expiration(),
		Roles:     stringSliceClaim(claims[a.config.RolesClaim]),
		Groups:    stringSliceClaim(claims[a.config.GroupsClaim]),
		Claims:    claims,
	}, nil
}

// stringSliceClaim accepts either a JSON array or a space separated string.
func stringSliceClaim(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(val)
	default:
		return nil
	}
}

// Middleware attaches the caller identity to the request context. Invalid
// tokens are answered with 401; missing tokens produce an anonymous identity
// unless WithRequireAuth is set.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			switch {
			case err == nil:
			case errors.Is(err, ErrNoCredentials) && !a.requireAuth:
				id = Anonymous(a.anonymousSubject)
			default:
				a.logger.WithContext(r.Context()).Debug("authentication failed",
					observability.String("path", r.URL.Path),
					observability.Error(err),
				)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="policyguard"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
}
