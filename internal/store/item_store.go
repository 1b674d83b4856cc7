package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/vbonduro/itemshelf/internal/db"
	"github.com/vbonduro/itemshelf/internal/domain"
)

const selectItems = `
	SELECT i.id, i.name, i.category_id, COALESCE(c.name, ''), i.image_name
	FROM items i
	LEFT JOIN category c ON c.id = i.category_id
`

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

// Create inserts an item. It joins the transaction carried by ctx, if any.
func (s *ItemStore) Create(ctx context.Context, name string, categoryID int64, imageName string) (*domain.Item, error) {
	result, err := db.GetExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO items (name, category_id, image_name) VALUES (?, ?, ?)
	`, name, categoryID, imageName)
	if err != nil {
		return nil, dbError("create item", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, dbError("get last insert id", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns ErrItemNotFound when no item has the given id.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	item := &domain.Item{}
	err := db.GetExecutor(ctx, s.db).QueryRowContext(ctx, selectItems+`WHERE i.id = ?`, id).
		Scan(&item.ID, &item.Name, &item.CategoryID, &item.Category, &item.ImageName)

	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, dbError("get item", err)
	}

	return item, nil
}

func (s *ItemStore) List(ctx context.Context) ([]*domain.Item, error) {
	return s.query(ctx, "list items", selectItems+`ORDER BY i.id ASC`)
}

// likeEscaper makes LIKE metacharacters in a keyword match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search returns items whose name contains keyword, ignoring case. The
// keyword is matched literally.
func (s *ItemStore) Search(ctx context.Context, keyword string) ([]*domain.Item, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(keyword)) + "%"
	return s.query(ctx, "search items",
		selectItems+`WHERE LOWER(i.name) LIKE ? ESCAPE '\' ORDER BY i.id ASC`, pattern)
}

// CountByImage returns how many items reference imageName.
func (s *ItemStore) CountByImage(ctx context.Context, imageName string) (int, error) {
	var n int
	err := db.GetExecutor(ctx, s.db).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items WHERE image_name = ?
	`, imageName).Scan(&n)
	if err != nil {
		return 0, dbError("count items by image", err)
	}
	return n, nil
}

func (s *ItemStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Item, error) {
	rows, err := db.GetExecutor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(op, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	items := make([]*domain.Item, 0)
	for rows.Next() {
		item := &domain.Item{}
		if err := rows.Scan(&item.ID, &item.Name, &item.CategoryID, &item.Category, &item.ImageName); err != nil {
			return nil, dbError("scan item", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("iterate items", err)
	}

	return items, nil
}
