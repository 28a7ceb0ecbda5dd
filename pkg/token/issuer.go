// Package token builds and signs the artifacts a successful grant produces:
// RS256 JWT access tokens, AES-GCM-wrapped opaque refresh tokens, and OIDC
// ID tokens. Records are persisted before a token string is returned, so a
// storage failure means the token was never issued.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/protocol/oidc"
	"github.com/porthorian/openidc/pkg/scope"
	"github.com/porthorian/openidc/pkg/storage"
)

var (
	ErrMissingKeys   = errors.New("token issuer: key source is required")
	ErrMissingStores = errors.New("token issuer: access and refresh stores are required")
	ErrMissingIssuer = errors.New("token issuer: issuer identifier is required")
)

type Config struct {
	// Issuer is the value of the "iss" claim, normally the server's URL.
	Issuer string
	Keys   KeySource
	Tokens storage.TokenMaterial
	Claims oidc.ClaimSource
	Now    func() time.Time
	Logger logr.Logger
}

type Issuer struct {
	issuer string
	keys   KeySource
	tokens storage.TokenMaterial
	claims oidc.ClaimSource
	now    func() time.Time
	logger logr.Logger
}

func NewIssuer(config Config) (*Issuer, error) {
	if config.Issuer == "" {
		return nil, ErrMissingIssuer
	}
	if config.Keys == nil {
		return nil, ErrMissingKeys
	}
	if config.Tokens.Access == nil || config.Tokens.Refresh == nil {
		return nil, ErrMissingStores
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Issuer{
		issuer: config.Issuer,
		keys:   config.Keys,
		tokens: config.Tokens,
		claims: config.Claims,
		now:    config.Now,
		logger: config.Logger,
	}, nil
}

// IssueAccessToken signs and persists an access token for the validated
// grant. TTL always comes from the caller; the issuer holds no lifetime
// policy of its own.
func (i *Issuer) IssueAccessToken(ctx context.Context, client storage.ClientRecord, subject string, scopes []string, ttl time.Duration, authCodeID string) (AccessToken, error) {
	now := i.now().UTC()
	record := storage.AccessTokenRecord{
		ID:         uuid.NewString(),
		ClientID:   client.ID,
		Subject:    subject,
		Scopes:     scopes,
		AuthCodeID: authCodeID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	claims := AccessTokenClaims{
		ClientID: client.ID,
		Scope:    scope.Join(scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{client.ID},
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        record.ID,
		},
	}

	signed, err := i.sign(claims)
	if err != nil {
		return AccessToken{}, oerrors.Wrap(oerrors.CodeServerError, "failed to sign access token", err)
	}

	if err := i.tokens.Access.PutAccessToken(ctx, record); err != nil {
		return AccessToken{}, oerrors.Wrap(oerrors.CodeServerError, "failed to persist access token", err)
	}

	i.logger.V(1).Info("issued access token", "client_id", client.ID, "token_id", record.ID, "expires_at", record.ExpiresAt)
	return AccessToken{Token: signed, Record: record}, nil
}

// IssueRefreshToken mints the opaque refresh token paired with access. The
// token string is the encrypted payload; the stored record is authoritative
// for expiry and rotation state.
func (i *Issuer) IssueRefreshToken(ctx context.Context, access AccessToken, ttl time.Duration) (RefreshToken, error) {
	now := i.now().UTC()
	record := storage.RefreshTokenRecord{
		ID:            uuid.NewString(),
		AccessTokenID: access.Record.ID,
		ClientID:      access.Record.ClientID,
		Subject:       access.Record.Subject,
		Scopes:        access.Record.Scopes,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}

	payload, err := json.Marshal(refreshTokenPayload{
		ID:        record.ID,
		ExpiresAt: record.ExpiresAt.Unix(),
	})
	if err != nil {
		return RefreshToken{}, oerrors.Wrap(oerrors.CodeServerError, "failed to encode refresh token", err)
	}

	encrypted, err := i.keys.Encrypt(payload)
	if err != nil {
		return RefreshToken{}, oerrors.Wrap(oerrors.CodeServerError, "failed to encrypt refresh token", err)
	}

	if err := i.tokens.Refresh.PutRefreshToken(ctx, record); err != nil {
		return RefreshToken{}, oerrors.Wrap(oerrors.CodeServerError, "failed to persist refresh token", err)
	}

	i.logger.V(1).Info("issued refresh token", "client_id", record.ClientID, "token_id", record.ID, "expires_at", record.ExpiresAt)
	return RefreshToken{Token: encrypted, Record: record}, nil
}

// DecodeRefreshToken unwraps an opaque refresh token and returns the record
// identifier inside it. Tampered or foreign tokens fail decryption and map
// to invalid_grant.
func (i *Issuer) DecodeRefreshToken(raw string) (string, error) {
	plaintext, err := i.keys.Decrypt(raw)
	if err != nil {
		return "", oerrors.Wrap(oerrors.CodeInvalidGrant, "refresh token is malformed", err)
	}

	var payload refreshTokenPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return "", oerrors.Wrap(oerrors.CodeInvalidGrant, "refresh token is malformed", err)
	}
	if payload.ID == "" {
		return "", oerrors.New(oerrors.CodeInvalidGrant, "refresh token is malformed")
	}
	return payload.ID, nil
}

// IssueIDToken signs an OIDC ID token. Only callers holding an "openid"
// grant with a resource-owner subject may ask for one; ID tokens are always
// signed and never persisted.
func (i *Issuer) IssueIDToken(ctx context.Context, client storage.ClientRecord, subject string, scopes []string, nonce string, ttl time.Duration) (string, error) {
	if !scope.Has(scopes, scope.OpenID) {
		return "", oerrors.New(oerrors.CodeInvalidScope, `id token requires the "openid" scope`)
	}
	if subject == "" {
		return "", oerrors.New(oerrors.CodeServerError, "id token requires a resource-owner subject")
	}

	claims := jwt.MapClaims{}
	if i.claims != nil {
		custom, err := i.claims.Claims(ctx, subject, scopes)
		if err != nil {
			return "", oerrors.Wrap(oerrors.CodeServerError, "failed to resolve id token claims", err)
		}
		for name, value := range custom {
			claims[name] = value
		}
	}

	// Standard claims win over anything the claim source produced.
	now := i.now().UTC()
	claims["iss"] = i.issuer
	claims["sub"] = subject
	claims["aud"] = client.ID
	claims["exp"] = now.Add(ttl).Unix()
	claims["iat"] = now.Unix()
	if nonce != "" {
		claims["nonce"] = nonce
	}

	signed, err := i.sign(claims)
	if err != nil {
		return "", oerrors.Wrap(oerrors.CodeServerError, "failed to sign id token", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, issuer, and expiry against the
// injected clock, then consults the store for revocation.
func (i *Issuer) VerifyAccessToken(ctx context.Context, raw string) (AccessTokenClaims, error) {
	var claims AccessTokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.keys.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return AccessTokenClaims{}, oerrors.Wrap(oerrors.CodeInvalidGrant, "access token is invalid", err)
	}

	revoked, err := i.tokens.Access.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return AccessTokenClaims{}, oerrors.Wrap(oerrors.CodeServerError, "failed to check access token revocation", err)
	}
	if revoked {
		return AccessTokenClaims{}, oerrors.New(oerrors.CodeInvalidGrant, "access token has been revoked")
	}
	return claims, nil
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid := i.keys.KeyID(); kid != "" {
		tok.Header["kid"] = kid
	}

	signed, err := tok.SignedString(i.keys.SigningKey())
	if err != nil {
		return "", fmt.Errorf("sign with RS256: %w", err)
	}
	return signed, nil
}
