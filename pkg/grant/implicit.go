package grant

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/storage"
)

type ImplicitConfig struct {
	Clients storage.ClientMaterial
	Logger  logr.Logger
}

// Implicit implements the legacy implicit grant: tokens issued straight from
// the authorize endpoint into the redirect fragment, public clients only,
// never with a refresh token. It has no token-exchange phase and nothing
// here is time-dependent; token expiry belongs to the issuer.
type Implicit struct {
	clients storage.ClientMaterial
	logger  logr.Logger
}

func NewImplicit(config ImplicitConfig) (*Implicit, error) {
	if config.Clients.Client == nil {
		return nil, ErrMissingClientStores
	}

	return &Implicit{
		clients: config.Clients,
		logger:  config.Logger,
	}, nil
}

func (g *Implicit) GrantType() string {
	return GrantTypeImplicit
}

func (g *Implicit) ResponseType() string {
	return ResponseTypeToken
}

func (g *Implicit) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	client, err := resolveClient(ctx, g.clients.Client, req.ClientID)
	if err != nil {
		return Authorization{}, err
	}

	if req.RedirectURI == "" || !client.AllowsRedirectURI(req.RedirectURI) {
		return Authorization{}, oerrors.New(oerrors.CodeInvalidRequest, "redirect_uri is not registered for this client")
	}

	if !client.AllowsGrantType(GrantTypeImplicit) {
		return Authorization{}, oerrors.New(oerrors.CodeUnauthorizedClient, "client may not use the implicit grant")
	}
	if client.Confidential {
		// Confidential clients hold a secret and can run the code flow;
		// letting them use implicit only weakens them.
		return Authorization{}, oerrors.New(oerrors.CodeUnauthorizedClient, "implicit grant is limited to public clients")
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

	g.logger.V(1).Info("authorized implicit grant", "client_id", client.ID)
	return Authorization{
		GrantType:   GrantTypeImplicit,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Grant: &Grant{
			Client:       client,
			Subject:      req.Subject,
			Scopes:       scopes,
			Nonce:        req.Nonce,
			AllowRefresh: false,
		},
	}, nil
}
