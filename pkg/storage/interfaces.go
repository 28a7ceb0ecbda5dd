package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for lookups of records that do not exist or
	// whose TTL already elapsed in backends that expire eagerly.
	ErrNotFound = errors.New("storage: record not found")

	// ErrCodeConsumed is returned by ConsumeAuthCode when the code was
	// already exchanged. The loser of a concurrent exchange sees this.
	ErrCodeConsumed = errors.New("storage: authorization code already consumed")

	// ErrTokenRotated is returned by RotateRefreshToken when the token was
	// already rotated and any reuse grace window has elapsed.
	ErrTokenRotated = errors.New("storage: refresh token already rotated")
)

// ClientRecord is an immutable view of a registered OAuth2 client. The core
// looks clients up and never writes them back.
type ClientRecord struct {
	ID           string
	Name         string
	Confidential bool
	SecretHash   string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
	DateAdded    time.Time
	DateModified *time.Time
}

func (c ClientRecord) AllowsGrantType(grantType string) bool {
	for _, allowed := range c.GrantTypes {
		if allowed == grantType {
			return true
		}
	}
	return false
}

func (c ClientRecord) AllowsRedirectURI(uri string) bool {
	// Exact string match only. Pattern or prefix matching widens the
	// attack surface for redirect hijacking.
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

type ScopeRecord struct {
	ID          string
	Description string
}

type UserRecord struct {
	ID        string
	Claims    map[string]any
	DateAdded time.Time
}

// AuthCodeRecord is the single-use artifact minted by the authorize phase of
// the authorization-code grant and consumed exactly once by the token phase.
type AuthCodeRecord struct {
	Code                string
	ClientID            string
	Subject             string
	Scopes              []string
	RedirectURI         string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	UsedAt              *time.Time
}

type AccessTokenRecord struct {
	ID         string
	ClientID   string
	Subject    string
	Scopes     []string
	AuthCodeID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

type RefreshTokenRecord struct {
	ID            string
	AccessTokenID string
	ClientID      string
	Subject       string
	Scopes        []string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RotatedAt     *time.Time
}

type ClientStore interface {
	GetClient(ctx context.Context, id string) (ClientRecord, error)
}

type ScopeStore interface {
	// ListScopes resolves the given scope identifiers, silently dropping
	// unknown ones. Callers compare input and output lengths to detect
	// requests for scopes the server does not know.
	ListScopes(ctx context.Context, ids []string) ([]ScopeRecord, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (UserRecord, error)
}

type AuthCodeStore interface {
	PutAuthCode(ctx context.Context, record AuthCodeRecord) error

	// ConsumeAuthCode atomically marks the code used and returns it.
	// First writer wins: a second consume of the same code returns
	// ErrCodeConsumed together with the original record so the caller can
	// run replay defenses. Unknown codes return ErrNotFound.
	ConsumeAuthCode(ctx context.Context, code string, now time.Time) (AuthCodeRecord, error)
}

type AccessTokenStore interface {
	PutAccessToken(ctx context.Context, record AccessTokenRecord) error
	RevokeAccessToken(ctx context.Context, id string, now time.Time) error
	IsAccessTokenRevoked(ctx context.Context, id string) (bool, error)

	// RevokeAccessTokensByAuthCode revokes every access token issued off
	// the given authorization code. Replay defense for consumed codes.
	RevokeAccessTokensByAuthCode(ctx context.Context, authCodeID string, now time.Time) error
}

type RefreshTokenStore interface {
	PutRefreshToken(ctx context.Context, record RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, id string) (RefreshTokenRecord, error)

	// RotateRefreshToken atomically marks the token rotated and returns
	// it. A token already rotated returns ErrTokenRotated unless the call
	// lands inside grace after the first rotation; backends that cannot
	// honor a grace window treat every replay as rotated.
	RotateRefreshToken(ctx context.Context, id string, now time.Time, grace time.Duration) (RefreshTokenRecord, error)

	RevokeRefreshToken(ctx context.Context, id string, now time.Time) error
}

// ClientMaterial groups the read-only entity stores a grant handler needs.
type ClientMaterial struct {
	Client ClientStore
	Scope  ScopeStore
	User   UserStore
}

// TokenMaterial groups the mutable token-artifact stores.
type TokenMaterial struct {
	Code    AuthCodeStore
	Access  AccessTokenStore
	Refresh RefreshTokenStore
}

// Store is the full persistence surface, satisfied by complete adapters.
type Store interface {
	ClientStore
	ScopeStore
	UserStore
	AuthCodeStore
	AccessTokenStore
	RefreshTokenStore
}
