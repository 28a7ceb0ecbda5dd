package crypto

import "errors"

var (
	ErrInvalidHash   = errors.New("secret: invalid hash")
	ErrInvalidConfig = errors.New("secret: invalid config")
)

// Hasher verifies client secrets against their stored encoded hashes. A
// deployment that checks credentials elsewhere can satisfy this with a
// delegating implementation.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret string, encodedHash string) (bool, error)
}
