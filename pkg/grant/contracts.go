// Package grant implements the OAuth2 grant-type protocol variants. Each
// handler validates one variant's preconditions against the repository ports
// and produces a validated Grant; token minting stays with the caller so
// lifetime policy lives in exactly one place.
package grant

import (
	"context"

	"github.com/porthorian/openidc/pkg/storage"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// TokenRequest is the already-parsed parameter set of a token-endpoint call.
// Transport concerns (form decoding, Basic auth) happen before this point.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// AuthorizeRequest is the parsed parameter set of an authorize-endpoint
// call. Subject is the already-authenticated resource owner; the core never
// performs user authentication itself.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
}

// Grant is a validated token-issuance request: the outcome of a successful
// grant-specific validation, carrying everything the issuer needs.
type Grant struct {
	Client     storage.ClientRecord
	Subject    string
	Scopes     []string
	Nonce      string
	AuthCodeID string

	// AllowRefresh is the handler-level veto on refresh tokens. Implicit
	// and client-credentials grants never permit one regardless of
	// server policy.
	AllowRefresh bool
}

// Authorization is the outcome of the authorize phase. Code-flow outcomes
// carry the minted code; implicit outcomes carry the validated Grant so the
// caller can issue an access token straight into the redirect fragment.
type Authorization struct {
	GrantType   string
	RedirectURI string
	State       string
	Code        string
	Grant       *Grant
}

// Handler validates one grant type's token-exchange phase.
type Handler interface {
	GrantType() string
	Exchange(ctx context.Context, req TokenRequest) (Grant, error)
}

// Authorizer validates one response type's authorize phase.
type Authorizer interface {
	GrantType() string
	ResponseType() string
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
}

// RefreshTokenDecoder unwraps an opaque refresh token into its record
// identifier. Satisfied by the token issuer.
type RefreshTokenDecoder interface {
	DecodeRefreshToken(raw string) (string, error)
}
