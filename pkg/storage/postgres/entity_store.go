package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/porthorian/openidc/pkg/storage"
)

func (a *Adapter) GetClient(ctx context.Context, id string) (storage.ClientRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.ClientRecord{}, err
	}

	var record storage.ClientRecord
	var secretHash sql.NullString
	var dateModified sql.NullTime

	err := a.stmts.getClient.QueryRowContext(ctx, id).Scan(
		&record.ID,
		&record.Name,
		&record.Confidential,
		&secretHash,
		pq.Array(&record.RedirectURIs),
		pq.Array(&record.GrantTypes),
		pq.Array(&record.Scopes),
		&record.DateAdded,
		&dateModified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ClientRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ClientRecord{}, fmt.Errorf("postgres adapter: get client: %w", err)
	}

	record.SecretHash = secretHash.String
	if dateModified.Valid {
		modified := dateModified.Time
		record.DateModified = &modified
	}
	return record, nil
}

func (a *Adapter) ListScopes(ctx context.Context, ids []string) ([]storage.ScopeRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := a.stmts.listScopes.QueryContext(ctx, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: list scopes: %w", err)
	}
	defer rows.Close()

	var records []storage.ScopeRecord
	for rows.Next() {
		var record storage.ScopeRecord
		if err := rows.Scan(&record.ID, &record.Description); err != nil {
			return nil, fmt.Errorf("postgres adapter: scan scope: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres adapter: list scopes rows: %w", err)
	}
	return records, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (storage.UserRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.UserRecord{}, err
	}

	var record storage.UserRecord
	var rawClaims []byte

	err := a.stmts.getUser.QueryRowContext(ctx, id).Scan(&record.ID, &rawClaims, &record.DateAdded)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.UserRecord{}, fmt.Errorf("postgres adapter: get user: %w", err)
	}

	if len(rawClaims) > 0 {
		if err := json.Unmarshal(rawClaims, &record.Claims); err != nil {
			return storage.UserRecord{}, fmt.Errorf("postgres adapter: decode user claims: %w", err)
		}
	}
	return record, nil
}
