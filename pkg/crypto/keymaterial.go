package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningKey       = errors.New("keymaterial: signing key is required")
	ErrMissingEncryptionSecret = errors.New("keymaterial: encryption secret is required")
	ErrCiphertextInvalid       = errors.New("keymaterial: ciphertext is malformed or tampered")
)

// KeyMaterial bundles the asymmetric signing key pair with the symmetric
// secret used for server-opaque token payloads. It is constructed once and
// injected; nothing here re-reads key files per request.
type KeyMaterial struct {
	signingKey *rsa.PrivateKey
	keyID      string
	aead       cipher.AEAD
}

// NewKeyMaterial parses a PEM-encoded RSA private key (decrypting it with
// passphrase when one is set) and derives the AES-256-GCM key for opaque
// payloads from encryptionSecret.
func NewKeyMaterial(privateKeyPEM []byte, passphrase string, encryptionSecret string) (*KeyMaterial, error) {
	if len(privateKeyPEM) == 0 {
		return nil, ErrMissingSigningKey
	}

	var signingKey *rsa.PrivateKey
	var err error
	if passphrase != "" {
		signingKey, err = jwt.ParseRSAPrivateKeyFromPEMWithPassword(privateKeyPEM, passphrase) //nolint:staticcheck // legacy encrypted PEM keys are still provisioned in the wild
	} else {
		signingKey, err = jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	}
	if err != nil {
		return nil, fmt.Errorf("keymaterial: parse signing key: %w", err)
	}

	return NewKeyMaterialFromKey(signingKey, encryptionSecret)
}

// NewKeyMaterialFromKey wraps an already-parsed signing key. Tests and
// deployments with external key providers construct material through here.
func NewKeyMaterialFromKey(signingKey *rsa.PrivateKey, encryptionSecret string) (*KeyMaterial, error) {
	if signingKey == nil {
		return nil, ErrMissingSigningKey
	}
	if encryptionSecret == "" {
		return nil, ErrMissingEncryptionSecret
	}

	derived := sha256.Sum256([]byte(encryptionSecret))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("keymaterial: derive encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: initialize gcm: %w", err)
	}

	return &KeyMaterial{
		signingKey: signingKey,
		keyID:      fingerprintPublicKey(&signingKey.PublicKey),
		aead:       aead,
	}, nil
}

func (k *KeyMaterial) SigningKey() *rsa.PrivateKey {
	if k == nil {
		return nil
	}
	return k.signingKey
}

func (k *KeyMaterial) PublicKey() *rsa.PublicKey {
	if k == nil || k.signingKey == nil {
		return nil
	}
	return &k.signingKey.PublicKey
}

// KeyID is a stable fingerprint of the public key, used as the JWT "kid"
// header so verifiers can select the right key across rotations.
func (k *KeyMaterial) KeyID() string {
	if k == nil {
		return ""
	}
	return k.keyID
}

// Encrypt seals plaintext with AES-256-GCM and returns a base64url string
// suitable for use as an opaque token.
func (k *KeyMaterial) Encrypt(plaintext []byte) (string, error) {
	if k == nil || k.aead == nil {
		return "", ErrMissingEncryptionSecret
	}

	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := k.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (k *KeyMaterial) Decrypt(ciphertext string) ([]byte, error) {
	if k == nil || k.aead == nil {
		return nil, ErrMissingEncryptionSecret
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	if len(raw) < k.aead.NonceSize() {
		return nil, ErrCiphertextInvalid
	}

	nonce, sealed := raw[:k.aead.NonceSize()], raw[k.aead.NonceSize():]
	plaintext, err := k.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	return plaintext, nil
}

// PublicJWK renders the verification key as a JWK (RFC 7517) for exposure
// on a jwks_uri endpoint.
func (k *KeyMaterial) PublicJWK() map[string]string {
	public := k.PublicKey()
	if public == nil {
		return nil
	}

	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": k.keyID,
		"n":   base64.RawURLEncoding.EncodeToString(public.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(bigEndianExponent(public.E)),
	}
}

func fingerprintPublicKey(public *rsa.PublicKey) string {
	sum := sha256.Sum256(append(public.N.Bytes(), bigEndianExponent(public.E)...))
	return hex.EncodeToString(sum[:8])
}

func bigEndianExponent(e int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(e))
	return new(big.Int).SetBytes(buf).Bytes()
}
