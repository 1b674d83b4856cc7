package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/vbonduro/itemshelf/internal/db"
	"github.com/vbonduro/itemshelf/internal/domain"
)

// MatchMode selects how Resolve compares a name against stored categories.
type MatchMode int

const (
	// MatchExact compares names byte for byte.
	MatchExact MatchMode = iota
	// MatchPattern treats the name as a LIKE pattern, so "toy%" finds "toys".
	MatchPattern
)

// ParseMatchMode maps "exact" and "pattern" to a MatchMode.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "exact":
		return MatchExact, nil
	case "pattern":
		return MatchPattern, nil
	default:
		return MatchExact, fmt.Errorf("unknown category match mode %q", s)
	}
}

const maxResolveAttempts = 3

type CategoryStore struct {
	db    *sql.DB
	match MatchMode
	// mu serializes resolution within this process; the unique index on
	// category.name covers other processes.
	mu sync.Mutex
}

func NewCategoryStore(db *sql.DB, match MatchMode) *CategoryStore {
	return &CategoryStore{db: db, match: match}
}

// Resolve returns the id of the category called name, creating it with the
// next sequential id (0 for the first category) when it does not exist.
//
// When ctx carries a transaction Resolve joins it and a conflict is returned
// to the caller as ErrCategoryConflict; otherwise Resolve retries conflicts
// itself.
func (s *CategoryStore) Resolve(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, ErrEmptyCategory
	}

	attempts := maxResolveAttempts
	if db.InTransaction(ctx) {
		attempts = 1
	}

	var (
		id  int64
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		id, err = s.resolveOnce(ctx, name)
		if !errors.Is(err, ErrCategoryConflict) {
			return id, err
		}
		if ctx.Err() != nil {
			return 0, err
		}
	}
	return 0, err
}

func (s *CategoryStore) resolveOnce(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		// Taken after the transaction has its connection so that a holder of
		// mu never waits for the connection pool.
		s.mu.Lock()
		defer s.mu.Unlock()

		exec := db.GetExecutor(txCtx, s.db)

		found, err := s.lookup(txCtx, exec, name)
		if err != nil {
			return err
		}
		if found != nil {
			id = *found
			return nil
		}

		_, err = exec.ExecContext(txCtx, `
			INSERT INTO category (id, name)
			SELECT COALESCE(MAX(id) + 1, 0), ? FROM category WHERE true
			ON CONFLICT(name) DO NOTHING
		`, name)
		if err != nil {
			if isRetryable(err) {
				return fmt.Errorf("%w: %q: %w", ErrCategoryConflict, name, err)
			}
			return dbError("create category", err)
		}

		err = exec.QueryRowContext(txCtx, `
			SELECT id FROM category WHERE name = ?
		`, name).Scan(&id)
		if err != nil {
			return dbError("read created category", err)
		}
		return nil
	})
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, ErrCategoryConflict), errors.Is(err, ErrPersistence):
		return 0, err
	case isRetryable(err):
		return 0, fmt.Errorf("%w: %q: %w", ErrCategoryConflict, name, err)
	default:
		return 0, dbError("resolve category", err)
	}
}

func (s *CategoryStore) lookup(ctx context.Context, exec db.Executor, name string) (*int64, error) {
	query := `SELECT id FROM category WHERE name = ? ORDER BY id LIMIT 1`
	if s.match == MatchPattern {
		query = `SELECT id FROM category WHERE name LIKE ? ORDER BY id LIMIT 1`
	}

	var id int64
	err := exec.QueryRowContext(ctx, query, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if isRetryable(err) {
			return nil, fmt.Errorf("%w: %q: %w", ErrCategoryConflict, name, err)
		}
		return nil, dbError("look up category", err)
	}
	return &id, nil
}

func (s *CategoryStore) GetByID(ctx context.Context, id int64) (*domain.Category, error) {
	c := &domain.Category{}
	err := db.GetExecutor(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name FROM category WHERE id = ?
	`, id).Scan(&c.ID, &c.Name)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get category", err)
	}
	return c, nil
}

// GetByName finds a category by exact name. It never creates one.
func (s *CategoryStore) GetByName(ctx context.Context, name string) (*domain.Category, error) {
	c := &domain.Category{}
	err := db.GetExecutor(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name FROM category WHERE name = ?
	`, name).Scan(&c.ID, &c.Name)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get category", err)
	}
	return c, nil
}

func (s *CategoryStore) List(ctx context.Context) ([]*domain.Category, error) {
	rows, err := db.GetExecutor(ctx, s.db).QueryContext(ctx, `
		SELECT id, name FROM category ORDER BY id ASC
	`)
	if err != nil {
		return nil, dbError("list categories", err)
	}
	defer rows.Close()

	var categories []*domain.Category
	for rows.Next() {
		c := &domain.Category{}
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, dbError("scan category", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("iterate categories", err)
	}
	return categories, nil
}
