package store

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrPersistence wraps failures reported by the database.
	ErrPersistence = errors.New("persistence failure")
	// ErrCategoryConflict is returned when concurrent resolutions of a
	// category collided. The operation can be retried.
	ErrCategoryConflict = errors.New("category allocation conflict")
	// ErrEmptyCategory is returned when resolving an empty category name.
	ErrEmptyCategory = errors.New("category name required")
	// ErrItemNotFound is returned when no item has the requested id.
	ErrItemNotFound = errors.New("item not found")
)

// dbError wraps err as a persistence failure while keeping the original
// driver error reachable through errors.As.
func dbError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrPersistence, err)
}

// isRetryable reports whether err is a lock or uniqueness failure caused by
// another writer.
func isRetryable(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsConflict reports whether err is ErrCategoryConflict or a SQLite lock or
// uniqueness failure raised outside category resolution, such as a BEGIN or
// COMMIT that lost to another writer. Either way the operation can be retried.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCategoryConflict) || isRetryable(err)
}
