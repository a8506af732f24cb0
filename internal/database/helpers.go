package database

import (
	"database/sql"
	"errors"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// execRequireRows validates that an ExecContext result affected at least one
// row, returning missing otherwise.
func execRequireRows(result sql.Result, err, missing error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return missing
	}
	return nil
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
