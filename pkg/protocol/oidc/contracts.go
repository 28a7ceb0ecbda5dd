package oidc

import (
	"context"
	"time"
)

// ClaimSource translates an authenticated user identity and the scopes they
// granted into OIDC claim values. Profile attribute mapping is a collaborator
// concern; the server only merges the result under the standard claims.
type ClaimSource interface {
	Claims(ctx context.Context, subject string, scopes []string) (map[string]any, error)
}

// ClaimSourceFunc adapts a plain function to ClaimSource.
type ClaimSourceFunc func(ctx context.Context, subject string, scopes []string) (map[string]any, error)

func (f ClaimSourceFunc) Claims(ctx context.Context, subject string, scopes []string) (map[string]any, error) {
	return f(ctx, subject, scopes)
}

// IntrospectionResponse is the RFC 7662 result shape for a token lookup.
// Inactive tokens carry Active=false and nothing else.
type IntrospectionResponse struct {
	Active    bool
	Subject   string
	ClientID  string
	Audience  []string
	Scope     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]any
}

// DiscoveryDocument carries the subset of OIDC provider metadata the core
// can answer for itself. Endpoint URLs are filled in by the transport layer
// that actually mounts them.
type DiscoveryDocument struct {
	Issuer                           string
	AuthorizationEndpoint            string
	TokenEndpoint                    string
	IntrospectionEndpoint            string
	JWKSURI                          string
	GrantTypesSupported              []string
	ResponseTypesSupported           []string
	IDTokenSigningAlgValuesSupported []string
}
