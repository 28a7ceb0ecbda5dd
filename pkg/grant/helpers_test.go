package grant

import (
	"testing"
	"time"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	"github.com/porthorian/openidc/pkg/storage"
	"github.com/porthorian/openidc/pkg/storage/memory"
)

const (
	testClientSecret = "s3cret-value-for-tests"
	testVerifier     = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk4a"
)

type grantFixture struct {
	adapter *memory.Adapter
	hasher  *ocrypto.PBKDF2Hasher
	now     time.Time
}

func newGrantFixture(t *testing.T) *grantFixture {
	t.Helper()

	fixture := &grantFixture{
		adapter: memory.NewAdapter(),
		hasher:  ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options()),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	secretHash, err := fixture.hasher.Hash(testClientSecret)
	if err != nil {
		t.Fatalf("hash client secret: %v", err)
	}

	fixture.adapter.SeedClient(storage.ClientRecord{
		ID:           "c1",
		Name:         "Example Web App",
		Confidential: true,
		SecretHash:   secretHash,
		RedirectURIs: []string{"https://app/cb"},
		GrantTypes:   []string{"authorization_code", "refresh_token", "client_credentials"},
		Scopes:       []string{"openid", "profile", "email"},
	})
	fixture.adapter.SeedClient(storage.ClientRecord{
		ID:           "spa",
		Name:         "Example SPA",
		Confidential: false,
		RedirectURIs: []string{"https://spa/cb"},
		GrantTypes:   []string{"authorization_code", "implicit"},
		Scopes:       []string{"openid", "profile"},
	})
	for _, id := range []string{"openid", "profile", "email"} {
		fixture.adapter.SeedScope(storage.ScopeRecord{ID: id})
	}
	fixture.adapter.SeedUser(storage.UserRecord{ID: "u1", Claims: map[string]any{"name": "User One"}})

	return fixture
}

func (f *grantFixture) clientMaterial() storage.ClientMaterial {
	return storage.ClientMaterial{Client: f.adapter, Scope: f.adapter, User: f.adapter}
}

func (f *grantFixture) tokenMaterial() storage.TokenMaterial {
	return storage.TokenMaterial{Code: f.adapter, Access: f.adapter, Refresh: f.adapter}
}

func (f *grantFixture) clock() func() time.Time {
	return func() time.Time { return f.now }
}
