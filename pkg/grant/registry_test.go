package grant

import (
	"errors"
	"testing"
)

func TestRegistryRegistersBothSurfaces(t *testing.T) {
	fixture := newGrantFixture(t)
	code := newCodeGrant(t, fixture, false)
	implicit := newImplicitGrant(t, fixture)
	refresh := newRefreshGrant(t, fixture, 0)

	registry, err := NewRegistry(code, implicit, refresh)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if _, ok := registry.Handler(GrantTypeAuthorizationCode); !ok {
		t.Fatal("authorization_code handler missing")
	}
	if _, ok := registry.Authorizer(ResponseTypeCode); !ok {
		t.Fatal("code authorizer missing")
	}
	if _, ok := registry.Authorizer(ResponseTypeToken); !ok {
		t.Fatal("token authorizer missing")
	}
	if _, ok := registry.Handler(GrantTypeImplicit); ok {
		t.Fatal("implicit must not register a token-phase handler")
	}
	if _, ok := registry.Handler(GrantTypeClientCredentials); ok {
		t.Fatal("unregistered grant type must not resolve")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	fixture := newGrantFixture(t)
	registry, err := NewRegistry(newRefreshGrant(t, fixture, 0))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if err := registry.Register(newRefreshGrant(t, fixture, 0)); !errors.Is(err, ErrDuplicateGrantType) {
		t.Fatalf("expected ErrDuplicateGrantType, got %v", err)
	}
	if err := registry.Register(nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
	if err := registry.Register(42); !errors.Is(err, ErrUnregistrableHandler) {
		t.Fatalf("expected ErrUnregistrableHandler, got %v", err)
	}
}

func TestVerifyCodeChallenge(t *testing.T) {
	challenge := s256Challenge(testVerifier)

	if !verifyCodeChallenge(challenge, CodeChallengeMethodS256, testVerifier) {
		t.Fatal("S256 verifier must match its own challenge")
	}
	if verifyCodeChallenge(challenge, CodeChallengeMethodPlain, testVerifier) {
		t.Fatal("method confusion must not verify")
	}
	if !verifyCodeChallenge(testVerifier, CodeChallengeMethodPlain, testVerifier) {
		t.Fatal("plain verifier must match itself")
	}
	if verifyCodeChallenge(challenge, CodeChallengeMethodS256, "short") {
		t.Fatal("verifier below the RFC minimum must fail")
	}
}
