package grant

import (
	"context"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/storage"
)

type ClientCredentialsConfig struct {
	Clients storage.ClientMaterial
	Hasher  ocrypto.Hasher
	Logger  logr.Logger
}

// ClientCredentials implements the machine-to-machine grant. There is no
// resource owner: the grant's subject is empty, so no ID token can ever be
// minted off it, and refresh tokens are pointless since the client can just
// authenticate again.
type ClientCredentials struct {
	clients storage.ClientMaterial
	hasher  ocrypto.Hasher
	logger  logr.Logger
}

func NewClientCredentials(config ClientCredentialsConfig) (*ClientCredentials, error) {
	if config.Clients.Client == nil {
		return nil, ErrMissingClientStores
	}
	if config.Hasher == nil {
		return nil, ErrMissingHasher
	}

	return &ClientCredentials{
		clients: config.Clients,
		hasher:  config.Hasher,
		logger:  config.Logger,
	}, nil
}

func (g *ClientCredentials) GrantType() string {
	return GrantTypeClientCredentials
}

func (g *ClientCredentials) Exchange(ctx context.Context, req TokenRequest) (Grant, error) {
	client, err := authenticateClient(ctx, g.clients.Client, g.hasher, req.ClientID, req.ClientSecret)
	if err != nil {
		return Grant{}, err
	}

	if !client.Confidential {
		return Grant{}, oerrors.New(oerrors.CodeUnauthorizedClient, "client_credentials grant requires a confidential client")
	}
	if !client.AllowsGrantType(GrantTypeClientCredentials) {
		return Grant{}, oerrors.New(oerrors.CodeUnauthorizedClient, "client may not use the client_credentials grant")
	}

	scopes, err := validateScopes(ctx, g.clients.Scope, client, req.Scopes)
	if err != nil {
		return Grant{}, err
	}

	g.logger.V(1).Info("validated client_credentials grant", "client_id", client.ID)
	return Grant{
		Client:       client,
		Scopes:       scopes,
		AllowRefresh: false,
	}, nil
}
