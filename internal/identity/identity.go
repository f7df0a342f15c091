package identity

import (
	"context"
	"slices"
	"time"
)

// AnonymousSubject is the subject used when a request carries no credentials.
const AnonymousSubject = "_actor"

// AuthType represents the way an identity was established.
type AuthType string

// Authentication types.
const (
	AuthTypeJWT       AuthType = "jwt"
	AuthTypeAnonymous AuthType = "anonymous"
)

// Identity is the subject presented to the decision oracle.
type Identity struct {
	// Subject is the unique identifier of the caller.
	Subject string `json:"sub"`

	// Issuer is the token issuer, if any.
	Issuer string `json:"iss,omitempty"`

	// AuthType is the authentication method used.
	AuthType AuthType `json:"auth_type"`

	// ExpiresAt is when the identity expires.
	ExpiresAt time.Time `json:"exp,omitempty"`

	// Roles assigned to the identity.
	Roles []string `json:"roles,omitempty"`

	// Groups the identity belongs to.
	Groups []string `json:"groups,omitempty"`

	// Claims holds the remaining token claims.
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// Anonymous returns an identity for an unauthenticated caller.
func Anonymous(subject string) *Identity {
	if subject == "" {
		subject = AnonymousSubject
	}
	return &Identity{
		Subject:  subject,
		AuthType: AuthTypeAnonymous,
	}
}

// IsAnonymous reports whether the identity was not authenticated.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.AuthType == AuthTypeAnonymous
}

// IsExpired returns true if the identity has expired.
func (i *Identity) IsExpired() bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(i.ExpiresAt)
}

// HasRole checks if the identity has a specific role.
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// HasGroup checks if the identity belongs to a specific group.
func (i *Identity) HasGroup(group string) bool {
	return slices.Contains(i.Groups, group)
}

// Attributes flattens the identity into a map suitable for policy engines.
// Claims are copied first so the well-known keys always win.
func (i *Identity) Attributes() map[string]interface{} {
	attrs := make(map[string]interface{}, len(i.Claims)+5)
	for k, v := range i.Claims {
		attrs[k] = v
	}
	attrs["id"] = i.Subject
	attrs["issuer"] = i.Issuer
	attrs["auth_type"] = string(i.AuthType)
	attrs["roles"] = nonNil(i.Roles)
	attrs["groups"] = nonNil(i.Groups)
	return attrs
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type identityKey struct{}

// ContextWithIdentity stores the identity in the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in the context.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
