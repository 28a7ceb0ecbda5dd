package openidc

import (
	"net/url"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/grant"
	"github.com/porthorian/openidc/pkg/protocol/oidc"
	"github.com/porthorian/openidc/pkg/storage"
	"github.com/porthorian/openidc/pkg/token"
)

// Protocol types re-exported so callers wire against one package.
type (
	TokenRequest     = grant.TokenRequest
	AuthorizeRequest = grant.AuthorizeRequest
	Grant            = grant.Grant
)

const (
	GrantTypeAuthorizationCode = grant.GrantTypeAuthorizationCode
	GrantTypeImplicit          = grant.GrantTypeImplicit
	GrantTypeRefreshToken      = grant.GrantTypeRefreshToken
	GrantTypeClientCredentials = grant.GrantTypeClientCredentials
)

const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultIDTokenTTL      = time.Hour
)

type Config struct {
	// Issuer is the server's identifier, the "iss" claim of every token it
	// signs. Normally the public base URL.
	Issuer string

	Clients storage.ClientMaterial
	Tokens  storage.TokenMaterial

	Keys   token.KeySource
	Hasher ocrypto.Hasher
	Claims oidc.ClaimSource
	Logger logr.Logger
	Now    func() time.Time

	// Grants enables grant types and sets their lifetime policy. Empty
	// means DefaultGrants().
	Grants []GrantConfig

	// RequirePKCE rejects authorization requests without a code challenge.
	RequirePKCE bool

	// RefreshGrace permits replaying a rotated refresh token for this long
	// after its first use. Zero means strict single use.
	RefreshGrace time.Duration

	Runtime RuntimeConfig
}

// GrantConfig is the per-grant-type lifetime policy. Zero durations fall
// back to the package defaults.
type GrantConfig struct {
	Type              string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	AuthCodeTTL       time.Duration
	IDTokenTTL        time.Duration
	IssueRefreshToken bool
}

func (g GrantConfig) withDefaults() GrantConfig {
	if g.AccessTokenTTL <= 0 {
		g.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if g.RefreshTokenTTL <= 0 {
		g.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if g.AuthCodeTTL <= 0 {
		g.AuthCodeTTL = grant.DefaultAuthCodeTTL
	}
	if g.IDTokenTTL <= 0 {
		g.IDTokenTTL = DefaultIDTokenTTL
	}
	return g
}

// DefaultGrants enables the modern grant set. Implicit stays opt-in; it is
// kept for legacy single-page clients only.
func DefaultGrants() []GrantConfig {
	return []GrantConfig{
		{Type: GrantTypeAuthorizationCode, IssueRefreshToken: true},
		{Type: GrantTypeRefreshToken, IssueRefreshToken: true},
		{Type: GrantTypeClientCredentials},
	}
}

// TokenResponse is the token-endpoint success body (RFC 6749 §5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// AuthorizeOutcome is a successful authorize-endpoint result. Code-flow
// outcomes carry the code for the redirect query; implicit outcomes carry
// the token response destined for the fragment.
type AuthorizeOutcome struct {
	RedirectURI string
	State       string
	Code        string
	Token       *TokenResponse
	UseFragment bool
}

// Redirect renders the outcome as the redirect URL the resource owner's
// agent should be sent to.
func (o AuthorizeOutcome) Redirect() (string, error) {
	target, err := url.Parse(o.RedirectURI)
	if err != nil {
		return "", oerrors.Wrap(oerrors.CodeServerError, "redirect uri is not parseable", err)
	}

	params := url.Values{}
	if o.State != "" {
		params.Set("state", o.State)
	}

	if o.UseFragment {
		if o.Token != nil {
			params.Set("access_token", o.Token.AccessToken)
			params.Set("token_type", o.Token.TokenType)
			params.Set("expires_in", strconv.FormatInt(o.Token.ExpiresIn, 10))
			if o.Token.Scope != "" {
				params.Set("scope", o.Token.Scope)
			}
		}
		target.Fragment = params.Encode()
		return target.String(), nil
	}

	query := target.Query()
	for name, values := range params {
		query.Set(name, values[0])
	}
	query.Set("code", o.Code)
	target.RawQuery = query.Encode()
	return target.String(), nil
}
