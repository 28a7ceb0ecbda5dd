package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func decodeIDTokenClaims(t *testing.T, fixture *issuerFixture, signed string) jwt.MapClaims {
	t.Helper()

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (any, error) {
		return fixture.issuer.keys.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return fixture.now }),
	)
	if err != nil {
		t.Fatalf("parse id token: %v", err)
	}
	return claims
}
