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

func (a *Adapter) PutAuthCode(ctx context.Context, record storage.AuthCodeRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.putAuthCode.ExecContext(ctx,
		record.Code,
		record.ClientID,
		record.Subject,
		pq.Array(record.Scopes),
		record.RedirectURI,
		record.Nonce,
		record.CodeChallenge,
		record.CodeChallengeMethod,
		record.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres adapter: put auth code: %w", err)
	}
	return nil
}

func (a *Adapter) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (storage.AuthCodeRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.AuthCodeRecord{}, err
	}

	record, err := a.scanAuthCode(a.stmts.consumeAuthCode.QueryRowContext(ctx, code, now.UTC()), code)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storage.AuthCodeRecord{}, fmt.Errorf("postgres adapter: consume auth code: %w", err)
	}

	// Zero rows updated: either the code does not exist or it lost the
	// race. Re-read to tell the two apart.
	record, err = a.scanAuthCode(a.stmts.getAuthCode.QueryRowContext(ctx, code), code)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AuthCodeRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AuthCodeRecord{}, fmt.Errorf("postgres adapter: get auth code: %w", err)
	}
	return record, storage.ErrCodeConsumed
}

func (a *Adapter) scanAuthCode(row *sql.Row, code string) (storage.AuthCodeRecord, error) {
	record := storage.AuthCodeRecord{Code: code}
	var usedAt sql.NullTime

	err := row.Scan(
		&record.ClientID,
		&record.Subject,
		pq.Array(&record.Scopes),
		&record.RedirectURI,
		&record.Nonce,
		&record.CodeChallenge,
		&record.CodeChallengeMethod,
		&record.ExpiresAt,
		&usedAt,
	)
	if err != nil {
		return storage.AuthCodeRecord{}, err
	}

	if usedAt.Valid {
		used := usedAt.Time
		record.UsedAt = &used
	}
	return record, nil
}
