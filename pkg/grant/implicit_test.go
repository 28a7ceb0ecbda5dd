package grant

import (
	"context"
	"testing"

	oerrors "github.com/porthorian/openidc/pkg/errors"
)

func newImplicitGrant(t *testing.T, fixture *grantFixture) *Implicit {
	t.Helper()

	handler, err := NewImplicit(ImplicitConfig{
		Clients: fixture.clientMaterial(),
	})
	if err != nil {
		t.Fatalf("new implicit grant: %v", err)
	}
	return handler
}

func TestImplicitAuthorizeReleasesGrantDirectly(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newImplicitGrant(t, fixture)

	outcome, err := handler.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: ResponseTypeToken,
		ClientID:     "spa",
		RedirectURI:  "https://spa/cb",
		Scopes:       []string{"openid"},
		State:        "xyz",
		Nonce:        "n-1",
		Subject:      "u1",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if outcome.Code != "" {
		t.Fatal("implicit outcomes must not carry a code")
	}
	if outcome.Grant == nil {
		t.Fatal("implicit outcomes must carry the validated grant")
	}
	if outcome.Grant.AllowRefresh {
		t.Fatal("implicit grants must never permit refresh tokens")
	}
	if outcome.Grant.Subject != "u1" || outcome.Grant.Nonce != "n-1" {
		t.Fatalf("grant bindings are wrong: %+v", outcome.Grant)
	}
}

func TestImplicitAuthorizeRejectsConfidentialClients(t *testing.T) {
	fixture := newGrantFixture(t)
	// c1 is confidential; allow it implicit to isolate the confidentiality
	// check from the grant-type allow list.
	client, err := fixture.adapter.GetClient(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	client.GrantTypes = append(client.GrantTypes, GrantTypeImplicit)
	fixture.adapter.SeedClient(client)

	handler := newImplicitGrant(t, fixture)
	_, err = handler.Authorize(context.Background(), AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://app/cb",
		Subject:     "u1",
	})
	if !oerrors.IsCode(err, oerrors.CodeUnauthorizedClient) {
		t.Fatalf("expected unauthorized_client, got %v", err)
	}
}

func TestImplicitAuthorizeRejectsDisallowedGrantType(t *testing.T) {
	fixture := newGrantFixture(t)
	handler := newImplicitGrant(t, fixture)

	_, err := handler.Authorize(context.Background(), AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://app/cb",
		Subject:     "u1",
	})
	if !oerrors.IsCode(err, oerrors.CodeUnauthorizedClient) {
		t.Fatalf("expected unauthorized_client, got %v", err)
	}
}
