package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/porthorian/openidc/pkg/storage"
)

func (a *Adapter) PutAccessToken(ctx context.Context, record storage.AccessTokenRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.putAccessToken.ExecContext(ctx,
		record.ID,
		record.ClientID,
		record.Subject,
		pq.Array(record.Scopes),
		nullableString(record.AuthCodeID),
		record.IssuedAt.UTC(),
		record.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres adapter: put access token: %w", err)
	}
	return nil
}

func (a *Adapter) RevokeAccessToken(ctx context.Context, id string, now time.Time) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	if _, err := a.stmts.revokeAccessToken.ExecContext(ctx, id, now.UTC()); err != nil {
		return fmt.Errorf("postgres adapter: revoke access token: %w", err)
	}
	return nil
}

func (a *Adapter) IsAccessTokenRevoked(ctx context.Context, id string) (bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return false, err
	}

	var revokedAt sql.NullTime
	err := a.stmts.getAccessTokenStatus.QueryRowContext(ctx, id).Scan(&revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown tokens report revoked: fail closed.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres adapter: get access token status: %w", err)
	}
	return revokedAt.Valid, nil
}

func (a *Adapter) RevokeAccessTokensByAuthCode(ctx context.Context, authCodeID string, now time.Time) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	// Both revocations ride one transaction so a crash cannot leave the
	// refresh side of a replayed code alive.
	return a.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.StmtContext(ctx, a.stmts.revokeAccessByCode).ExecContext(ctx, authCodeID, now.UTC()); err != nil {
			return fmt.Errorf("postgres adapter: revoke access tokens by auth code: %w", err)
		}
		if _, err := tx.StmtContext(ctx, a.stmts.revokeRefreshByCode).ExecContext(ctx, authCodeID, now.UTC()); err != nil {
			return fmt.Errorf("postgres adapter: revoke refresh tokens by auth code: %w", err)
		}
		return nil
	})
}

func (a *Adapter) PutRefreshToken(ctx context.Context, record storage.RefreshTokenRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.putRefreshToken.ExecContext(ctx,
		record.ID,
		record.AccessTokenID,
		record.ClientID,
		record.Subject,
		pq.Array(record.Scopes),
		record.IssuedAt.UTC(),
		record.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres adapter: put refresh token: %w", err)
	}
	return nil
}

func (a *Adapter) GetRefreshToken(ctx context.Context, id string) (storage.RefreshTokenRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.RefreshTokenRecord{}, err
	}

	record, err := a.scanRefreshToken(a.stmts.getRefreshToken.QueryRowContext(ctx, id), id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("postgres adapter: get refresh token: %w", err)
	}
	return record, nil
}

func (a *Adapter) RotateRefreshToken(ctx context.Context, id string, now time.Time, grace time.Duration) (storage.RefreshTokenRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.RefreshTokenRecord{}, err
	}

	cutoff := now.UTC().Add(-grace)
	record, err := a.scanRefreshToken(a.stmts.rotateRefreshToken.QueryRowContext(ctx, id, now.UTC(), cutoff), id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.RefreshTokenRecord{}, fmt.Errorf("postgres adapter: rotate refresh token: %w", err)
	}

	_, err = a.scanRefreshToken(a.stmts.getRefreshToken.QueryRowContext(ctx, id), id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("postgres adapter: get refresh token: %w", err)
	}
	return storage.RefreshTokenRecord{}, storage.ErrTokenRotated
}

func (a *Adapter) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	if _, err := a.stmts.revokeRefreshToken.ExecContext(ctx, id, now.UTC()); err != nil {
		return fmt.Errorf("postgres adapter: revoke refresh token: %w", err)
	}
	return nil
}

func (a *Adapter) scanRefreshToken(row *sql.Row, id string) (storage.RefreshTokenRecord, error) {
	record := storage.RefreshTokenRecord{ID: id}
	var revokedAt, rotatedAt sql.NullTime

	err := row.Scan(
		&record.AccessTokenID,
		&record.ClientID,
		&record.Subject,
		pq.Array(&record.Scopes),
		&record.IssuedAt,
		&record.ExpiresAt,
		&revokedAt,
		&rotatedAt,
	)
	if err != nil {
		return storage.RefreshTokenRecord{}, err
	}

	if revokedAt.Valid {
		revoked := revokedAt.Time
		record.RevokedAt = &revoked
	}
	if rotatedAt.Valid {
		rotated := rotatedAt.Time
		record.RotatedAt = &rotated
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
