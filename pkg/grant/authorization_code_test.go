package grant

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/storage"
)

func newCodeGrant(t *testing.T, fixture *grantFixture, requirePKCE bool) *AuthorizationCode {
	t.Helper()

	handler, err := NewAuthorizationCode(AuthorizationCodeConfig{
		Clients:     fixture.clientMaterial(),
		Tokens:      fixture.tokenMaterial(),
		Hasher:      fixture.hasher,
		RequirePKCE: requirePKCE,
		Now:         fixture.clock(),
	})
	if err != nil {
		t.Fatalf("new authorization code grant: %v", err)
	}
	return handler
}

func s256Challenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

func TestAuthorizeMintsBoundCode(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newCodeGrant(t, fixture, false)
	ctx := context.Background()

	outcome, err := handler.Authorize(ctx, AuthorizeRequest{
		ResponseType:        ResponseTypeCode,
		ClientID:            "c1",
		RedirectURI:         "https://app/cb",
		Scopes:              []string{"openid", "profile"},
		State:               "xyz",
		Nonce:               "n-1",
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
		Subject:             "u1",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if outcome.Code == "" {
		t.Fatal("expected a minted code")
	}
	if outcome.State != "xyz" {
		t.Fatalf("state must round-trip, got %q", outcome.State)
	}

	record, err := fixture.adapter.ConsumeAuthCode(ctx, outcome.Code, fixture.now)
	if err != nil {
		t.Fatalf("consume minted code: %v", err)
	}
	if record.ClientID != "c1" || record.Subject != "u1" || record.Nonce != "n-1" {
		t.Fatalf("code bindings are wrong: %+v", record)
	}
	if record.CodeChallengeMethod != CodeChallengeMethodS256 {
		t.Fatalf("expected S256 method, got %q", record.CodeChallengeMethod)
	}
	if !record.ExpiresAt.Equal(fixture.now.Add(DefaultAuthCodeTTL)) {
		t.Fatalf("unexpected code expiry %v", record.ExpiresAt)
	}
}

func TestAuthorizeRejections(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newCodeGrant(t, fixture, true)
	ctx := context.Background()

	base := AuthorizeRequest{
		ResponseType:        ResponseTypeCode,
		ClientID:            "c1",
		RedirectURI:         "https://app/cb",
		Scopes:              []string{"openid"},
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
		Subject:             "u1",
	}

	cases := []struct {
		name   string
		mutate func(req *AuthorizeRequest)
		want   oerrors.Code
	}{
		{"unknown client", func(req *AuthorizeRequest) { req.ClientID = "ghost" }, oerrors.CodeInvalidClient},
		{"unregistered redirect", func(req *AuthorizeRequest) { req.RedirectURI = "https://evil/cb" }, oerrors.CodeInvalidRequest},
		{"redirect prefix is not a match", func(req *AuthorizeRequest) { req.RedirectURI = "https://app/cb/extra" }, oerrors.CodeInvalidRequest},
		{"missing subject", func(req *AuthorizeRequest) { req.Subject = "" }, oerrors.CodeAccessDenied},
		{"unknown subject", func(req *AuthorizeRequest) { req.Subject = "ghost" }, oerrors.CodeAccessDenied},
		{"scope outside client allow list", func(req *AuthorizeRequest) { req.Scopes = []string{"openid", "admin"} }, oerrors.CodeInvalidScope},
		{"missing pkce challenge", func(req *AuthorizeRequest) { req.CodeChallenge = "" }, oerrors.CodeInvalidRequest},
		{"bad pkce method", func(req *AuthorizeRequest) { req.CodeChallengeMethod = "S512" }, oerrors.CodeInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			if _, err := handler.Authorize(ctx, req); !oerrors.IsCode(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func authorizeAndExchange(t *testing.T, fixture *grantFixture, handler *AuthorizationCode) (Authorization, Grant) {
	t.Helper()
	ctx := context.Background()

	outcome, err := handler.Authorize(ctx, AuthorizeRequest{
		ClientID:            "c1",
		RedirectURI:         "https://app/cb",
		Scopes:              []string{"openid", "profile"},
		Nonce:               "n-1",
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
		Subject:             "u1",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	grant, err := handler.Exchange(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         outcome.Code,
		RedirectURI:  "https://app/cb",
		CodeVerifier: testVerifier,
		ClientID:     "c1",
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return outcome, grant
}

func TestExchangeReleasesBoundGrant(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newCodeGrant(t, fixture, true)

	outcome, grant := authorizeAndExchange(t, fixture, handler)

	if grant.Subject != "u1" {
		t.Fatalf("expected subject u1, got %q", grant.Subject)
	}
	if grant.Nonce != "n-1" {
		t.Fatalf("nonce must survive the exchange, got %q", grant.Nonce)
	}
	if grant.AuthCodeID != outcome.Code {
		t.Fatal("grant must reference the consumed code")
	}
	if !grant.AllowRefresh {
		t.Fatal("code grants must permit refresh tokens")
	}
	if len(grant.Scopes) != 2 || grant.Scopes[0] != "openid" || grant.Scopes[1] != "profile" {
		t.Fatalf("unexpected scopes %v", grant.Scopes)
	}
}

func TestExchangeReplayRevokesIssuedTokens(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newCodeGrant(t, fixture, true)
	ctx := context.Background()

	outcome, _ := authorizeAndExchange(t, fixture, handler)

	// Tokens minted off the first exchange.
	access := storage.AccessTokenRecord{
		ID:         "at-1",
		ClientID:   "c1",
		Subject:    "u1",
		AuthCodeID: outcome.Code,
		IssuedAt:   fixture.now,
		ExpiresAt:  fixture.now.Add(time.Hour),
	}
	if err := fixture.adapter.PutAccessToken(ctx, access); err != nil {
		t.Fatalf("put access token: %v", err)
	}

	_, err := handler.Exchange(ctx, TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         outcome.Code,
		RedirectURI:  "https://app/cb",
		CodeVerifier: testVerifier,
		ClientID:     "c1",
		ClientSecret: testClientSecret,
	})
	if !oerrors.IsCode(err, oerrors.CodeInvalidGrant) {
		t.Fatalf("expected invalid_grant on replay, got %v", err)
	}

	revoked, err := fixture.adapter.IsAccessTokenRevoked(ctx, "at-1")
	if err != nil {
		t.Fatalf("revocation check: %v", err)
	}
	if !revoked {
		t.Fatal("replaying a code must revoke the tokens it minted")
	}
}

func TestExchangeRejections(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newCodeGrant(t, fixture, true)
	ctx := context.Background()

	mint := func(t *testing.T) string {
		t.Helper()
		outcome, err := handler.Authorize(ctx, AuthorizeRequest{
			ClientID:            "c1",
			RedirectURI:         "https://app/cb",
			Scopes:              []string{"openid"},
			CodeChallenge:       s256Challenge(testVerifier),
			CodeChallengeMethod: CodeChallengeMethodS256,
			Subject:             "u1",
		})
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		return outcome.Code
	}

	base := func(code string) TokenRequest {
		return TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			Code:         code,
			RedirectURI:  "https://app/cb",
			CodeVerifier: testVerifier,
			ClientID:     "c1",
			ClientSecret: testClientSecret,
		}
	}

	t.Run("unknown code", func(t *testing.T) {
		req := base("no-such-code")
		if _, err := handler.Exchange(ctx, req); !oerrors.IsCode(err, oerrors.CodeInvalidGrant) {
			t.Fatalf("expected invalid_grant, got %v", err)
		}
	})

	t.Run("bad client secret", func(t *testing.T) {
		req := base(mint(t))
		req.ClientSecret = "wrong"
		if _, err := handler.Exchange(ctx, req); !oerrors.IsCode(err, oerrors.CodeInvalidClient) {
			t.Fatalf("expected invalid_client, got %v", err)
		}
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		req := base(mint(t))
		req.RedirectURI = "https://other/cb"
		if _, err := handler.Exchange(ctx, req); !oerrors.IsCode(err, oerrors.CodeInvalidGrant) {
			t.Fatalf("expected invalid_grant, got %v", err)
		}
	})

	t.Run("wrong verifier", func(t *testing.T) {
		req := base(mint(t))
		req.CodeVerifier = testVerifier[:len(testVerifier)-1] + "X"
		if _, err := handler.Exchange(ctx, req); !oerrors.IsCode(err, oerrors.CodeInvalidGrant) {
			t.Fatalf("expected invalid_grant, got %v", err)
		}
	})

	t.Run("missing verifier", func(t *testing.T) {
		req := base(mint(t))
		req.CodeVerifier = ""
		if _, err := handler.Exchange(ctx, req); !oerrors.IsCode(err, oerrors.CodeInvalidRequest) {
			t.Fatalf("expected invalid_request, got %v", err)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		code := mint(t)
		fixture.now = fixture.now.Add(DefaultAuthCodeTTL + time.Second)
		defer func() { fixture.now = fixture.now.Add(-(DefaultAuthCodeTTL + time.Second)) }()
		if _, err := handler.Exchange(ctx, base(code)); !oerrors.IsCode(err, oerrors.CodeInvalidGrant) {
			t.Fatalf("expected invalid_grant, got %v", err)
		}
	})
}
