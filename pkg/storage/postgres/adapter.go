// Package postgres persists the token material and entity reads behind
// prepared statements. Single-use semantics (code consume, refresh rotate)
// are expressed as conditional UPDATE ... RETURNING so the database is the
// arbiter under concurrent exchanges.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/porthorian/openidc/pkg/storage"
)

type Adapter struct {
	db *sql.DB

	stmts preparedStatements
}

type preparedStatements struct {
	getClient  *sql.Stmt
	listScopes *sql.Stmt
	getUser    *sql.Stmt

	putAuthCode     *sql.Stmt
	consumeAuthCode *sql.Stmt
	getAuthCode     *sql.Stmt

	putAccessToken       *sql.Stmt
	revokeAccessToken    *sql.Stmt
	getAccessTokenStatus *sql.Stmt
	revokeAccessByCode   *sql.Stmt
	revokeRefreshByCode  *sql.Stmt

	putRefreshToken    *sql.Stmt
	getRefreshToken    *sql.Stmt
	rotateRefreshToken *sql.Stmt
	revokeRefreshToken *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var prepareStatementSpecs = []prepareStatementSpec{
	{
		label: "get client",
		query: getClientQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getClient = stmt
		},
	},
	{
		label: "list scopes",
		query: listScopesQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.listScopes = stmt
		},
	},
	{
		label: "get user",
		query: getUserQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getUser = stmt
		},
	},
	{
		label: "put auth code",
		query: putAuthCodeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putAuthCode = stmt
		},
	},
	{
		label: "consume auth code",
		query: consumeAuthCodeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.consumeAuthCode = stmt
		},
	},
	{
		label: "get auth code",
		query: getAuthCodeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getAuthCode = stmt
		},
	},
	{
		label: "put access token",
		query: putAccessTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putAccessToken = stmt
		},
	},
	{
		label: "revoke access token",
		query: revokeAccessTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeAccessToken = stmt
		},
	},
	{
		label: "get access token status",
		query: getAccessTokenStatusQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getAccessTokenStatus = stmt
		},
	},
	{
		label: "revoke access tokens by auth code",
		query: revokeAccessByCodeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeAccessByCode = stmt
		},
	},
	{
		label: "revoke refresh tokens by auth code",
		query: revokeRefreshByCodeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeRefreshByCode = stmt
		},
	},
	{
		label: "put refresh token",
		query: putRefreshTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putRefreshToken = stmt
		},
	},
	{
		label: "get refresh token",
		query: getRefreshTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getRefreshToken = stmt
		},
	},
	{
		label: "rotate refresh token",
		query: rotateRefreshTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.rotateRefreshToken = stmt
		},
	},
	{
		label: "revoke refresh token",
		query: revokeRefreshTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeRefreshToken = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db: db,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.getClient,
		a.stmts.listScopes,
		a.stmts.getUser,
		a.stmts.putAuthCode,
		a.stmts.consumeAuthCode,
		a.stmts.getAuthCode,
		a.stmts.putAccessToken,
		a.stmts.revokeAccessToken,
		a.stmts.getAccessTokenStatus,
		a.stmts.revokeAccessByCode,
		a.stmts.revokeRefreshByCode,
		a.stmts.putRefreshToken,
		a.stmts.getRefreshToken,
		a.stmts.rotateRefreshToken,
		a.stmts.revokeRefreshToken,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(prepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range prepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.getClient == nil || a.stmts.listScopes == nil || a.stmts.getUser == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putAuthCode == nil || a.stmts.consumeAuthCode == nil || a.stmts.getAuthCode == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putAccessToken == nil || a.stmts.revokeAccessToken == nil || a.stmts.getAccessTokenStatus == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.revokeAccessByCode == nil || a.stmts.revokeRefreshByCode == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putRefreshToken == nil || a.stmts.getRefreshToken == nil || a.stmts.rotateRefreshToken == nil || a.stmts.revokeRefreshToken == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error

	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
