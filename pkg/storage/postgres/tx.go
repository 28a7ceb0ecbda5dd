package postgres

import (
	"context"
	"database/sql"
	"errors"
)

var errNilTxCallback = errors.New("postgres adapter: transaction callback is nil")

func (a *Adapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if fn == nil {
		return errNilTxCallback
	}

	db, err := a.requireDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	return nil
}
