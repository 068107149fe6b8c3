package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/vocagent/vocagent/api/domain"
)

// WrapError wraps an error with an operation context.
func WrapError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// WrapNotFound wraps an error, converting sql.ErrNoRows to domain.ErrNotFound.
func WrapNotFound(operation string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return WrapError(operation, err)
}
