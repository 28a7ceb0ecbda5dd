// Package testsuite exercises the single-use and rotation contracts every
// storage adapter must honor. Adapter tests construct a Suite with a fresh
// store and call Run; integration-tested backends reuse the same checks.
package testsuite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/openidc/pkg/storage"
)

type Suite struct {
	Tokens storage.TokenMaterial
	Now    func() time.Time
}

func (s Suite) Run(ctx context.Context) error {
	if s.Now == nil {
		s.Now = time.Now
	}

	checks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"auth code consume once", s.checkAuthCodeConsumeOnce},
		{"auth code unknown", s.checkAuthCodeUnknown},
		{"refresh token rotate once", s.checkRefreshRotateOnce},
		{"refresh token revocation", s.checkRefreshRevocation},
		{"access token revocation", s.checkAccessRevocation},
	}

	for _, check := range checks {
		if err := check.run(ctx); err != nil {
			return fmt.Errorf("testsuite: %s: %w", check.name, err)
		}
	}
	return nil
}

func (s Suite) checkAuthCodeConsumeOnce(ctx context.Context) error {
	now := s.Now()
	record := storage.AuthCodeRecord{
		Code:      "suite-code-1",
		ClientID:  "suite-client",
		Subject:   "suite-user",
		Scopes:    []string{"openid"},
		ExpiresAt: now.Add(time.Minute),
	}
	if err := s.Tokens.Code.PutAuthCode(ctx, record); err != nil {
		return err
	}

	consumed, err := s.Tokens.Code.ConsumeAuthCode(ctx, record.Code, now)
	if err != nil {
		return fmt.Errorf("first consume failed: %w", err)
	}
	if consumed.ClientID != record.ClientID || consumed.Subject != record.Subject {
		return errors.New("consumed record does not match stored record")
	}

	if _, err := s.Tokens.Code.ConsumeAuthCode(ctx, record.Code, now); !errors.Is(err, storage.ErrCodeConsumed) {
		return fmt.Errorf("second consume: expected ErrCodeConsumed, got %v", err)
	}
	return nil
}

func (s Suite) checkAuthCodeUnknown(ctx context.Context) error {
	if _, err := s.Tokens.Code.ConsumeAuthCode(ctx, "suite-missing-code", s.Now()); !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("expected ErrNotFound, got %v", err)
	}
	return nil
}

func (s Suite) checkRefreshRotateOnce(ctx context.Context) error {
	now := s.Now()
	record := storage.RefreshTokenRecord{
		ID:            "suite-refresh-1",
		AccessTokenID: "suite-access-1",
		ClientID:      "suite-client",
		Subject:       "suite-user",
		Scopes:        []string{"openid"},
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := s.Tokens.Refresh.PutRefreshToken(ctx, record); err != nil {
		return err
	}

	if _, err := s.Tokens.Refresh.RotateRefreshToken(ctx, record.ID, now, 0); err != nil {
		return fmt.Errorf("first rotate failed: %w", err)
	}
	if _, err := s.Tokens.Refresh.RotateRefreshToken(ctx, record.ID, now, 0); !errors.Is(err, storage.ErrTokenRotated) {
		return fmt.Errorf("second rotate: expected ErrTokenRotated, got %v", err)
	}
	return nil
}

func (s Suite) checkRefreshRevocation(ctx context.Context) error {
	now := s.Now()
	record := storage.RefreshTokenRecord{
		ID:            "suite-refresh-2",
		AccessTokenID: "suite-access-2",
		ClientID:      "suite-client",
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := s.Tokens.Refresh.PutRefreshToken(ctx, record); err != nil {
		return err
	}
	if err := s.Tokens.Refresh.RevokeRefreshToken(ctx, record.ID, now); err != nil {
		return err
	}
	if _, err := s.Tokens.Refresh.RotateRefreshToken(ctx, record.ID, now, 0); err == nil {
		return errors.New("expected rotation of revoked token to fail")
	}
	return nil
}

func (s Suite) checkAccessRevocation(ctx context.Context) error {
	now := s.Now()
	record := storage.AccessTokenRecord{
		ID:        "suite-access-3",
		ClientID:  "suite-client",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.Tokens.Access.PutAccessToken(ctx, record); err != nil {
		return err
	}

	revoked, err := s.Tokens.Access.IsAccessTokenRevoked(ctx, record.ID)
	if err != nil {
		return err
	}
	if revoked {
		return errors.New("fresh access token reported revoked")
	}

	if err := s.Tokens.Access.RevokeAccessToken(ctx, record.ID, now); err != nil {
		return err
	}
	revoked, err = s.Tokens.Access.IsAccessTokenRevoked(ctx, record.ID)
	if err != nil {
		return err
	}
	if !revoked {
		return errors.New("revoked access token reported active")
	}
	return nil
}
