package grant

import (
	"context"
	"testing"

	oerrors "github.com/porthorian/openidc/pkg/errors"
)

func newClientCredentialsGrant(t *testing.T, fixture *grantFixture) *ClientCredentials {
	t.Helper()

	handler, err := NewClientCredentials(ClientCredentialsConfig{
		Clients: fixture.clientMaterial(),
		Hasher:  fixture.hasher,
	})
	if err != nil {
		t.Fatalf("new client credentials grant: %v", err)
	}
	return handler
}

func TestClientCredentialsExchange(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newClientCredentialsGrant(t, fixture)

	grant, err := handler.Exchange(context.Background(), TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     "c1",
		ClientSecret: testClientSecret,
		Scopes:       []string{"profile"},
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if grant.Subject != "" {
		t.Fatal("client credentials grants have no resource owner")
	}
	if grant.AllowRefresh {
		t.Fatal("client credentials grants must not permit refresh tokens")
	}
	if len(grant.Scopes) != 1 || grant.Scopes[0] != "profile" {
		t.Fatalf("unexpected scopes %v", grant.Scopes)
	}
}

func TestClientCredentialsExchangeRejections(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newClientCredentialsGrant(t, fixture)
	ctx := context.Background()

	t.Run("public client", func(t *testing.T) {
		_, err := handler.Exchange(ctx, TokenRequest{ClientID: "spa"})
		if !oerrors.IsCode(err, oerrors.CodeUnauthorizedClient) {
			t.Fatalf("expected unauthorized_client, got %v", err)
		}
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := handler.Exchange(ctx, TokenRequest{ClientID: "c1"})
		if !oerrors.IsCode(err, oerrors.CodeInvalidClient) {
			t.Fatalf("expected invalid_client, got %v", err)
		}
	})

	t.Run("scope outside allow list", func(t *testing.T) {
		_, err := handler.Exchange(ctx, TokenRequest{
			ClientID:     "c1",
			ClientSecret: testClientSecret,
			Scopes:       []string{"admin"},
		})
		if !oerrors.IsCode(err, oerrors.CodeInvalidScope) {
			t.Fatalf("expected invalid_scope, got %v", err)
		}
	})
}
