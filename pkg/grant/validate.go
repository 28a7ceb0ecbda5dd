package grant

import (
	"context"
	"errors"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/scope"
	"github.com/porthorian/openidc/pkg/storage"
)

// authenticateClient resolves the client and, for confidential clients,
// verifies the presented secret against the stored hash. Unknown clients and
// bad secrets collapse into the same invalid_client so the endpoint does not
// oracle which client identifiers exist.
func authenticateClient(ctx context.Context, clients storage.ClientStore, hasher ocrypto.Hasher, clientID, clientSecret string) (storage.ClientRecord, error) {
	if clientID == "" {
		return storage.ClientRecord{}, oerrors.New(oerrors.CodeInvalidRequest, "client_id is required")
	}

	client, err := clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ClientRecord{}, oerrors.New(oerrors.CodeInvalidClient, "client authentication failed")
		}
		return storage.ClientRecord{}, oerrors.Wrap(oerrors.CodeServerError, "failed to load client", err)
	}

	if client.Confidential {
		if clientSecret == "" {
			return storage.ClientRecord{}, oerrors.New(oerrors.CodeInvalidClient, "client authentication failed")
		}
		ok, err := hasher.Verify(clientSecret, client.SecretHash)
		if err != nil || !ok {
			return storage.ClientRecord{}, oerrors.New(oerrors.CodeInvalidClient, "client authentication failed")
		}
	}

	return client, nil
}

// resolveClient looks a client up without authenticating it, for the
// authorize phase where no secret travels.
func resolveClient(ctx context.Context, clients storage.ClientStore, clientID string) (storage.ClientRecord, error) {
	if clientID == "" {
		return storage.ClientRecord{}, oerrors.New(oerrors.CodeInvalidRequest, "client_id is required")
	}

	client, err := clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ClientRecord{}, oerrors.New(oerrors.CodeInvalidClient, "unknown client")
		}
		return storage.ClientRecord{}, oerrors.Wrap(oerrors.CodeServerError, "failed to load client", err)
	}
	return client, nil
}

// validateScopes checks requested against both the client's allow list and
// the server's scope registry. Every requested scope must clear both, or the
// whole request fails; partial grants are not a thing here.
func validateScopes(ctx context.Context, scopes storage.ScopeStore, client storage.ClientRecord, requested []string) ([]string, error) {
	requested = scope.Parse(scope.Join(requested))
	if len(requested) == 0 {
		return nil, nil
	}

	if !scope.Subset(requested, client.Scopes) {
		return nil, oerrors.New(oerrors.CodeInvalidScope, "client is not allowed the requested scope")
	}

	if scopes != nil {
		known, err := scopes.ListScopes(ctx, requested)
		if err != nil {
			return nil, oerrors.Wrap(oerrors.CodeServerError, "failed to resolve scopes", err)
		}
		if len(known) != len(requested) {
			return nil, oerrors.New(oerrors.CodeInvalidScope, "request contains unknown scopes")
		}
	}

	return requested, nil
}
