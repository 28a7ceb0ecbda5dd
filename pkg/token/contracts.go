package token

import (
	"crypto/rsa"

	"github.com/golang-jwt/jwt/v5"
	"github.com/porthorian/openidc/pkg/storage"
)

// KeySource is the key-material surface the issuer needs. *crypto.KeyMaterial
// satisfies it; tests and external key providers can substitute their own.
// Material is injected at construction and never re-read per request, so a
// rotation is a new Issuer over new material.
type KeySource interface {
	SigningKey() *rsa.PrivateKey
	PublicKey() *rsa.PublicKey
	KeyID() string
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// AccessToken pairs the signed compact JWT with its persisted record.
type AccessToken struct {
	Token  string
	Record storage.AccessTokenRecord
}

// RefreshToken pairs the opaque encrypted token with its persisted record.
type RefreshToken struct {
	Token  string
	Record storage.RefreshTokenRecord
}

// AccessTokenClaims is the claim set embedded in access-token JWTs. Resource
// servers verify these against the published public key without a database
// round trip; revocation still requires the introspection path.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type refreshTokenPayload struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"exp"`
}
