// Package openidc is an embeddable OAuth2 and OpenID Connect authorization
// server core. It owns grant validation, token minting, and token lifecycle
// against pluggable persistence; resource-owner authentication and the HTTP
// surface stay with the host application.
package openidc

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/grant"
	"github.com/porthorian/openidc/pkg/protocol/oidc"
	"github.com/porthorian/openidc/pkg/scope"
	"github.com/porthorian/openidc/pkg/token"
)

// Server is the assembled authorization server. Construct it with New and
// release its backend resources with Close.
type Server struct {
	issuer        string
	registry      *grant.Registry
	tokens        *token.Issuer
	keys          token.KeySource
	policies      map[string]GrantConfig
	logger        logr.Logger
	now           func() time.Time
	closeResource func() error
}

func New(config Config) (*Server, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	server, err := assemble(resolvedConfig, closeResource)
	if err != nil {
		_ = closeResource()
		return nil, err
	}
	return server, nil
}

func assemble(config Config, closeResource func() error) (*Server, error) {
	if config.Issuer == "" {
		return nil, token.ErrMissingIssuer
	}
	if config.Keys == nil {
		return nil, oerrors.ErrMissingKeyMaterial
	}
	if config.Hasher == nil {
		config.Hasher = ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options())
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	issuer, err := token.NewIssuer(token.Config{
		Issuer: config.Issuer,
		Keys:   config.Keys,
		Tokens: config.Tokens,
		Claims: config.Claims,
		Now:    config.Now,
		Logger: config.Logger,
	})
	if err != nil {
		return nil, err
	}

	grants := config.Grants
	if len(grants) == 0 {
		grants = DefaultGrants()
	}

	registry, err := grant.NewRegistry()
	if err != nil {
		return nil, err
	}

	server := &Server{
		issuer:        config.Issuer,
		registry:      registry,
		tokens:        issuer,
		keys:          config.Keys,
		policies:      make(map[string]GrantConfig, len(grants)),
		logger:        config.Logger,
		now:           config.Now,
		closeResource: closeResource,
	}

	for _, policy := range grants {
		policy = policy.withDefaults()
		handler, err := buildGrantHandler(policy, config, issuer)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(handler); err != nil {
			return nil, err
		}
		server.policies[policy.Type] = policy
	}

	return server, nil
}

func buildGrantHandler(policy GrantConfig, config Config, issuer *token.Issuer) (any, error) {
	switch policy.Type {
	case GrantTypeAuthorizationCode:
		return grant.NewAuthorizationCode(grant.AuthorizationCodeConfig{
			Clients:     config.Clients,
			Tokens:      config.Tokens,
			Hasher:      config.Hasher,
			CodeTTL:     policy.AuthCodeTTL,
			RequirePKCE: config.RequirePKCE,
			Now:         config.Now,
			Logger:      config.Logger,
		})
	case GrantTypeImplicit:
		return grant.NewImplicit(grant.ImplicitConfig{
			Clients: config.Clients,
			Logger:  config.Logger,
		})
	case GrantTypeRefreshToken:
		return grant.NewRefreshToken(grant.RefreshTokenConfig{
			Clients:     config.Clients,
			Tokens:      config.Tokens,
			Hasher:      config.Hasher,
			Decoder:     issuer,
			GraceWindow: config.RefreshGrace,
			Now:         config.Now,
			Logger:      config.Logger,
		})
	case GrantTypeClientCredentials:
		return grant.NewClientCredentials(grant.ClientCredentialsConfig{
			Clients: config.Clients,
			Hasher:  config.Hasher,
			Logger:  config.Logger,
		})
	default:
		return nil, oerrors.New(oerrors.CodeServerError, "unknown grant type in configuration: "+policy.Type)
	}
}

// HandleTokenRequest runs the token endpoint: dispatch to the grant handler,
// then mint the token set its policy allows.
func (s *Server) HandleTokenRequest(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	if req.GrantType == "" {
		return TokenResponse{}, oerrors.New(oerrors.CodeInvalidRequest, "grant_type is required")
	}

	handler, ok := s.registry.Handler(req.GrantType)
	if !ok {
		return TokenResponse{}, oerrors.New(oerrors.CodeUnsupportedGrantType, "grant type is not enabled: "+req.GrantType)
	}

	validated, err := handler.Exchange(ctx, req)
	if err != nil {
		s.logFailure("token request rejected", req.GrantType, err)
		return TokenResponse{}, err
	}

	response, err := s.mintTokens(ctx, req.GrantType, validated, true)
	if err != nil {
		s.logFailure("token minting failed", req.GrantType, err)
		return TokenResponse{}, err
	}
	return response, nil
}

// HandleAuthorizeRequest runs the authorize endpoint for an authenticated
// resource owner. Code-flow outcomes carry a code; implicit outcomes carry
// the access token bound for the redirect fragment.
func (s *Server) HandleAuthorizeRequest(ctx context.Context, req AuthorizeRequest) (AuthorizeOutcome, error) {
	if req.ResponseType == "" {
		return AuthorizeOutcome{}, oerrors.New(oerrors.CodeInvalidRequest, "response_type is required")
	}

	authorizer, ok := s.registry.Authorizer(req.ResponseType)
	if !ok {
		return AuthorizeOutcome{}, oerrors.New(oerrors.CodeUnsupportedResponseType, "response type is not enabled: "+req.ResponseType)
	}

	authorization, err := authorizer.Authorize(ctx, req)
	if err != nil {
		s.logFailure("authorize request rejected", req.ResponseType, err)
		return AuthorizeOutcome{}, err
	}

	outcome := AuthorizeOutcome{
		RedirectURI: authorization.RedirectURI,
		State:       authorization.State,
		Code:        authorization.Code,
	}

	if authorization.Grant != nil {
		// Fragment delivery carries the plain OAuth token response. No
		// refresh token ever, and no ID token either: the id_token
		// response types are not implemented here.
		response, err := s.mintTokens(ctx, authorization.GrantType, *authorization.Grant, false)
		if err != nil {
			s.logFailure("token minting failed", authorization.GrantType, err)
			return AuthorizeOutcome{}, err
		}
		response.RefreshToken = ""
		outcome.Token = &response
		outcome.UseFragment = true
	}

	return outcome, nil
}

func (s *Server) mintTokens(ctx context.Context, grantType string, validated Grant, includeIDToken bool) (TokenResponse, error) {
	policy, ok := s.policies[grantType]
	if !ok {
		return TokenResponse{}, oerrors.New(oerrors.CodeServerError, "no policy for grant type: "+grantType)
	}

	access, err := s.tokens.IssueAccessToken(ctx, validated.Client, validated.Subject, validated.Scopes, policy.AccessTokenTTL, validated.AuthCodeID)
	if err != nil {
		return TokenResponse{}, err
	}

	response := TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(policy.AccessTokenTTL / time.Second),
		Scope:       scope.Join(validated.Scopes),
	}

	if policy.IssueRefreshToken && validated.AllowRefresh && validated.Client.AllowsGrantType(GrantTypeRefreshToken) {
		refresh, err := s.tokens.IssueRefreshToken(ctx, access, policy.RefreshTokenTTL)
		if err != nil {
			return TokenResponse{}, err
		}
		response.RefreshToken = refresh.Token
	}

	if includeIDToken && validated.Subject != "" && scope.Has(validated.Scopes, scope.OpenID) {
		idToken, err := s.tokens.IssueIDToken(ctx, validated.Client, validated.Subject, validated.Scopes, validated.Nonce, policy.IDTokenTTL)
		if err != nil {
			return TokenResponse{}, err
		}
		response.IDToken = idToken
	}

	return response, nil
}

// VerifyAccessToken validates a bearer token the way a resource server
// would: signature, issuer, expiry, then revocation.
func (s *Server) VerifyAccessToken(ctx context.Context, raw string) (token.AccessTokenClaims, error) {
	return s.tokens.VerifyAccessToken(ctx, raw)
}

// Introspect answers an RFC 7662 lookup. Tokens that fail validation for
// any protocol reason come back inactive rather than as an error; only
// backend failures surface.
func (s *Server) Introspect(ctx context.Context, raw string) (oidc.IntrospectionResponse, error) {
	claims, err := s.tokens.VerifyAccessToken(ctx, raw)
	if err != nil {
		if oerrors.IsInternalCode(err) {
			return oidc.IntrospectionResponse{}, err
		}
		return oidc.IntrospectionResponse{Active: false}, nil
	}

	response := oidc.IntrospectionResponse{
		Active:   true,
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Audience: []string(claims.Audience),
		Scope:    scope.Parse(claims.Scope),
	}
	if claims.IssuedAt != nil {
		response.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		response.ExpiresAt = claims.ExpiresAt.Time
	}
	return response, nil
}

// Metadata reports the provider's discovery document. Endpoint URLs are
// left for the mounting transport to fill in.
func (s *Server) Metadata() oidc.DiscoveryDocument {
	grantTypes := s.registry.GrantTypes()
	responseTypes := s.registry.ResponseTypes()
	sort.Strings(grantTypes)
	sort.Strings(responseTypes)

	return oidc.DiscoveryDocument{
		Issuer:                           s.issuer,
		GrantTypesSupported:              grantTypes,
		ResponseTypesSupported:           responseTypes,
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}

type jwkPublisher interface {
	PublicJWK() map[string]string
}

// JWKS publishes the verification key set (RFC 7517).
func (s *Server) JWKS() map[string]any {
	keys := []any{}
	if publisher, ok := s.keys.(jwkPublisher); ok {
		keys = append(keys, publisher.PublicJWK())
	}
	return map[string]any{"keys": keys}
}

func (s *Server) Close() error {
	if s == nil || s.closeResource == nil {
		return nil
	}

	err := s.closeResource()
	s.closeResource = nil
	if err != nil {
		return oerrors.Wrap(oerrors.CodeServerError, "failed to close server resources", err)
	}
	return nil
}

func (s *Server) logFailure(message, kind string, err error) {
	if oerrors.IsInternalCode(err) {
		s.logger.Error(err, message, "kind", kind)
		return
	}
	s.logger.V(1).Info(message, "kind", kind, "error_code", string(oerrors.CodeOf(err)), "reason", err.Error())
}
