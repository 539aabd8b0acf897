package repository

import (
	"database/sql"
	"errors"
)

// optionalRow maps sql.ErrNoRows to a nil row. An INSERT ... ON CONFLICT DO
// NOTHING RETURNING yields no row for a duplicate event id.
func optionalRow[T any](row *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
