package grant

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/storage"
)

const DefaultAuthCodeTTL = 10 * time.Minute

var (
	ErrMissingClientStores = errors.New("grant: client material stores are required")
	ErrMissingTokenStores  = errors.New("grant: token material stores are required")
	ErrMissingHasher       = errors.New("grant: secret hasher is required")
)

type AuthorizationCodeConfig struct {
	Clients storage.ClientMaterial
	Tokens  storage.TokenMaterial
	Hasher  ocrypto.Hasher

	// CodeTTL bounds the authorize-to-exchange window. Defaults to
	// DefaultAuthCodeTTL.
	CodeTTL time.Duration

	// RequirePKCE rejects authorize requests without a code_challenge.
	// Public clients should always run with this on.
	RequirePKCE bool

	Now    func() time.Time
	Logger logr.Logger
}

// AuthorizationCode implements the two-phase authorization-code grant: the
// authorize phase mints a short-lived single-use code bound to client,
// redirect URI, scopes, and PKCE challenge; the exchange phase consumes the
// code exactly once and releases the bound grant.
type AuthorizationCode struct {
	clients     storage.ClientMaterial
	tokens      storage.TokenMaterial
	hasher      ocrypto.Hasher
	codeTTL     time.Duration
	requirePKCE bool
	now         func() time.Time
	logger      logr.Logger
}

func NewAuthorizationCode(config AuthorizationCodeConfig) (*AuthorizationCode, error) {
	if config.Clients.Client == nil {
		return nil, ErrMissingClientStores
	}
	if config.Tokens.Code == nil || config.Tokens.Access == nil {
		return nil, ErrMissingTokenStores
	}
	if config.Hasher == nil {
		return nil, ErrMissingHasher
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultAuthCodeTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &AuthorizationCode{
		clients:     config.Clients,
		tokens:      config.Tokens,
		hasher:      config.Hasher,
		codeTTL:     config.CodeTTL,
		requirePKCE: config.RequirePKCE,
		now:         config.Now,
		logger:      config.Logger,
	}, nil
}

func (g *AuthorizationCode) GrantType() string {
	return GrantTypeAuthorizationCode
}

func (g *AuthorizationCode) ResponseType() string {
	return ResponseTypeCode
}

// Authorize validates the front-channel request and mints the code. Errors
// from this phase are not redirectable when the client or redirect URI
// themselves failed validation; the transport layer decides how to render
// them.
func (g *AuthorizationCode) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	client, err := resolveClient(ctx, g.clients.Client, req.ClientID)
	if err != nil {
		return Authorization{}, err
	}

	// Redirect validation comes first: every later failure is safe to
	// deliver to a registered redirect URI, these two are not.
	if req.RedirectURI == "" || !client.AllowsRedirectURI(req.RedirectURI) {
		return Authorization{}, oerrors.New(oerrors.CodeInvalidRequest, "redirect_uri is not registered for this client")
	}

	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return Authorization{}, oerrors.New(oerrors.CodeUnauthorizedClient, "client may not use the authorization_code grant")
	}

	if req.Subject == "" {
		return Authorization{}, oerrors.New(oerrors.CodeAccessDenied, "no authenticated resource owner")
	}
	if g.clients.User != nil {
		if _, err := g.clients.User.GetUser(ctx, req.Subject); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Authorization{}, oerrors.New(oerrors.CodeAccessDenied, "resource owner is unknown")
			}
			return Authorization{}, oerrors.Wrap(oerrors.CodeServerError, "failed to load resource owner", err)
		}
	}

	scopes, err := validateScopes(ctx, g.clients.Scope, client, req.Scopes)
	if err != nil {
		return Authorization{}, err
	}

	method, err := validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod, g.requirePKCE)
	if err != nil {
		return Authorization{}, err
	}

	now := g.now().UTC()
	record := storage.AuthCodeRecord{
		Code:                uuid.NewString(),
		ClientID:            client.ID,
		Subject:             req.Subject,
		Scopes:              scopes,
		RedirectURI:         req.RedirectURI,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(g.codeTTL),
	}
	if err := g.tokens.Code.PutAuthCode(ctx, record); err != nil {
		return Authorization{}, oerrors.Wrap(oerrors.CodeServerError, "failed to persist authorization code", err)
	}

	g.logger.V(1).Info("issued authorization code", "client_id", client.ID, "expires_at", record.ExpiresAt)
	return Authorization{
		GrantType:   GrantTypeAuthorizationCode,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Code:        record.Code,
	}, nil
}

// Exchange consumes the code and releases the grant bound to it. A code
// presented twice triggers revocation of everything the first exchange
// issued, on the assumption the code leaked.
func (g *AuthorizationCode) Exchange(ctx context.Context, req TokenRequest) (Grant, error) {
	if req.Code == "" {
		return Grant{}, oerrors.New(oerrors.CodeInvalidRequest, "code is required")
	}
	if req.RedirectURI == "" {
		return Grant{}, oerrors.New(oerrors.CodeInvalidRequest, "redirect_uri is required")
	}

	client, err := authenticateClient(ctx, g.clients.Client, g.hasher, req.ClientID, req.ClientSecret)
	if err != nil {
		return Grant{}, err
	}
	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return Grant{}, oerrors.New(oerrors.CodeUnauthorizedClient, "client may not use the authorization_code grant")
	}

	now := g.now().UTC()
	record, err := g.tokens.Code.ConsumeAuthCode(ctx, req.Code, now)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeConsumed):
			g.revokeReplayedCode(ctx, record)
			return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "authorization code already used")
		case errors.Is(err, storage.ErrNotFound):
			return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "authorization code is invalid")
		default:
			return Grant{}, oerrors.Wrap(oerrors.CodeServerError, "failed to consume authorization code", err)
		}
	}

	if now.After(record.ExpiresAt) {
		return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "authorization code has expired")
	}
	if record.ClientID != client.ID {
		return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "authorization code was issued to another client")
	}
	if record.RedirectURI != req.RedirectURI {
		return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "redirect_uri does not match the authorization request")
	}

	if record.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return Grant{}, oerrors.New(oerrors.CodeInvalidRequest, "code_verifier is required")
		}
		if !verifyCodeChallenge(record.CodeChallenge, record.CodeChallengeMethod, req.CodeVerifier) {
			return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "code_verifier does not match the challenge")
		}
	} else if req.CodeVerifier != "" {
		return Grant{}, oerrors.New(oerrors.CodeInvalidRequest, "code_verifier provided without a challenge")
	}

	return Grant{
		Client:       client,
		Subject:      record.Subject,
		Scopes:       record.Scopes,
		Nonce:        record.Nonce,
		AuthCodeID:   record.Code,
		AllowRefresh: true,
	}, nil
}

// revokeReplayedCode tears down every token minted off a replayed code. Best
// effort: the exchange already failed, so a revocation error is only logged.
func (g *AuthorizationCode) revokeReplayedCode(ctx context.Context, record storage.AuthCodeRecord) {
	if record.Code == "" {
		return
	}
	if err := g.tokens.Access.RevokeAccessTokensByAuthCode(ctx, record.Code, g.now().UTC()); err != nil {
		g.logger.Error(err, "failed to revoke tokens for replayed authorization code", "client_id", record.ClientID)
	}
}
