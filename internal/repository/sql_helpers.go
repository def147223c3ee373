package repository

import (
	"errors"

	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolation = "23505"

// translateError maps driver errors onto the service error taxonomy.
func translateError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bookdesk_errors.NotFound(what)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return bookdesk_errors.Wrap(bookdesk_errors.CodeConflict, bookdesk_errors.ErrAlreadyExists, what+" already exists")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return bookdesk_errors.Wrap(bookdesk_errors.CodeConflict, bookdesk_errors.ErrAlreadyExists, what+" already exists")
	}
	return err
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
