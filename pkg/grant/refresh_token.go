package grant

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/scope"
	"github.com/porthorian/openidc/pkg/storage"
)

var ErrMissingDecoder = errors.New("grant: refresh token decoder is required")

type RefreshTokenConfig struct {
	Clients storage.ClientMaterial
	Tokens  storage.TokenMaterial
	Hasher  ocrypto.Hasher
	Decoder RefreshTokenDecoder

	// GraceWindow permits replaying an already-rotated token for this long
	// after its first rotation. Zero means strict single use: any replay is
	// treated as theft and kills the token chain.
	GraceWindow time.Duration

	Now    func() time.Time
	Logger logr.Logger
}

// RefreshToken implements the refresh_token grant with mandatory rotation:
// every exchange retires the presented token and the access token paired
// with it, and the released grant carries the narrowed scope set.
type RefreshToken struct {
	clients storage.ClientMaterial
	tokens  storage.TokenMaterial
	hasher  ocrypto.Hasher
	decoder RefreshTokenDecoder
	grace   time.Duration
	now     func() time.Time
	logger  logr.Logger
}

func NewRefreshToken(config RefreshTokenConfig) (*RefreshToken, error) {
	if config.Clients.Client == nil {
		return nil, ErrMissingClientStores
	}
	if config.Tokens.Access == nil || config.Tokens.Refresh == nil {
		return nil, ErrMissingTokenStores
	}
	if config.Hasher == nil {
		return nil, ErrMissingHasher
	}
	if config.Decoder == nil {
		return nil, ErrMissingDecoder
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RefreshToken{
		clients: config.Clients,
		tokens:  config.Tokens,
		hasher:  config.Hasher,
		decoder: config.Decoder,
		grace:   config.GraceWindow,
		now:     config.Now,
		logger:  config.Logger,
	}, nil
}

func (g *RefreshToken) GrantType() string {
	return GrantTypeRefreshToken
}

func (g *RefreshToken) Exchange(ctx context.Context, req TokenRequest) (Grant, error) {
	if req.RefreshToken == "" {
		return Grant{}, oerrors.New(oerrors.CodeInvalidRequest, "refresh_token is required")
	}

	client, err := authenticateClient(ctx, g.clients.Client, g.hasher, req.ClientID, req.ClientSecret)
	if err != nil {
		return Grant{}, err
	}
	if !client.AllowsGrantType(GrantTypeRefreshToken) {
		return Grant{}, oerrors.New(oerrors.CodeUnauthorizedClient, "client may not use the refresh_token grant")
	}

	id, err := g.decoder.DecodeRefreshToken(req.RefreshToken)
	if err != nil {
		return Grant{}, err
	}

	now := g.now().UTC()
	record, err := g.tokens.Refresh.RotateRefreshToken(ctx, id, now, g.grace)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenRotated):
			// Reuse outside grace means the token leaked. The paired
			// access token dies with it.
			g.revokeLeakedToken(ctx, id, now)
			return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "refresh token already used")
		case errors.Is(err, storage.ErrNotFound):
			return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "refresh token is invalid")
		default:
			return Grant{}, oerrors.Wrap(oerrors.CodeServerError, "failed to rotate refresh token", err)
		}
	}

	if record.RevokedAt != nil {
		return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "refresh token has been revoked")
	}
	if now.After(record.ExpiresAt) {
		return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "refresh token has expired")
	}
	if record.ClientID != client.ID {
		return Grant{}, oerrors.New(oerrors.CodeInvalidGrant, "refresh token was issued to another client")
	}

	scopes, ok := scope.Narrow(req.Scopes, record.Scopes)
	if !ok {
		return Grant{}, oerrors.New(oerrors.CodeInvalidScope, "requested scope exceeds the original grant")
	}

	g.retireOldPair(ctx, record, now)

	return Grant{
		Client:       client,
		Subject:      record.Subject,
		Scopes:       scopes,
		AllowRefresh: true,
	}, nil
}

// retireOldPair revokes the access token paired with the rotated refresh
// token and, outside a grace window, the refresh record itself. Failures are
// logged and not surfaced: the rotation already succeeded and the new pair
// must still be issued.
func (g *RefreshToken) retireOldPair(ctx context.Context, record storage.RefreshTokenRecord, now time.Time) {
	if record.AccessTokenID != "" {
		if err := g.tokens.Access.RevokeAccessToken(ctx, record.AccessTokenID, now); err != nil {
			g.logger.Error(err, "failed to revoke rotated access token", "token_id", record.AccessTokenID)
		}
	}
	if g.grace <= 0 {
		if err := g.tokens.Refresh.RevokeRefreshToken(ctx, record.ID, now); err != nil {
			g.logger.Error(err, "failed to revoke rotated refresh token", "token_id", record.ID)
		}
	}
}

// revokeLeakedToken runs the replay defense for a token reused after
// rotation.
func (g *RefreshToken) revokeLeakedToken(ctx context.Context, id string, now time.Time) {
	record, err := g.tokens.Refresh.GetRefreshToken(ctx, id)
	if err != nil {
		g.logger.Error(err, "failed to load replayed refresh token", "token_id", id)
		return
	}
	if record.AccessTokenID != "" {
		if err := g.tokens.Access.RevokeAccessToken(ctx, record.AccessTokenID, now); err != nil {
			g.logger.Error(err, "failed to revoke access token for replayed refresh token", "token_id", record.AccessTokenID)
		}
	}
	if err := g.tokens.Refresh.RevokeRefreshToken(ctx, id, now); err != nil {
		g.logger.Error(err, "failed to revoke replayed refresh token", "token_id", id)
	}
}
