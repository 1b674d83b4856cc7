package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vbonduro/itemshelf/internal/db"
	"github.com/vbonduro/itemshelf/internal/domain"
	"github.com/vbonduro/itemshelf/internal/imagestore"
	"github.com/vbonduro/itemshelf/internal/store"
)

// categoryRepository is the subset of store.CategoryStore that ItemService requires.
type categoryRepository interface {
	Resolve(ctx context.Context, name string) (int64, error)
	List(ctx context.Context) ([]*domain.Category, error)
}

// itemRepository is the subset of store.ItemStore that ItemService requires.
type itemRepository interface {
	Create(ctx context.Context, name string, categoryID int64, imageName string) (*domain.Item, error)
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	List(ctx context.Context) ([]*domain.Item, error)
	Search(ctx context.Context, keyword string) ([]*domain.Item, error)
	CountByImage(ctx context.Context, imageName string) (int, error)
}

const maxCreateAttempts = 3

type ItemService struct {
	db         *sql.DB
	categories categoryRepository
	items      itemRepository
	images     imagestore.ImageStore
	logger     *slog.Logger
}

func NewItemService(
	database *sql.DB,
	categories categoryRepository,
	items itemRepository,
	images imagestore.ImageStore,
	logger *slog.Logger,
) *ItemService {
	return &ItemService{
		db:         database,
		categories: categories,
		items:      items,
		images:     images,
		logger:     logger,
	}
}

// CreateItem stores the image, resolves the category and inserts the item.
// Category resolution and the insert commit together; a conflicting
// concurrent resolution is retried.
func (s *ItemService) CreateItem(ctx context.Context, name, category string, image []byte) (*domain.Item, error) {
	s.logger.Info("create item started", "name", name, "category", category, "bytes", len(image))

	imageName, err := s.images.Put(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
	s.logger.Debug("image stored", "image_name", imageName)

	var item *domain.Item
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		err = db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
			categoryID, err := s.categories.Resolve(txCtx, category)
			if err != nil {
				return fmt.Errorf("failed to resolve category: %w", err)
			}
			item, err = s.items.Create(txCtx, name, categoryID, imageName)
			return err
		})
		if !store.IsConflict(err) || ctx.Err() != nil || attempt == maxCreateAttempts {
			break
		}
		s.logger.Warn("write conflict, retrying", "category", category, "attempt", attempt, "error", err)
	}
	if err != nil {
		if store.IsConflict(err) && !errors.Is(err, store.ErrCategoryConflict) {
			return nil, fmt.Errorf("%w: %w", store.ErrCategoryConflict, err)
		}
		return nil, err
	}

	s.logger.Info("create item complete", "item_id", item.ID, "category_id", item.CategoryID, "image_name", imageName)
	return item, nil
}

func (s *ItemService) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	return s.items.GetByID(ctx, id)
}

func (s *ItemService) ListItems(ctx context.Context) ([]*domain.Item, error) {
	return s.items.List(ctx)
}

func (s *ItemService) SearchItems(ctx context.Context, keyword string) ([]*domain.Item, error) {
	s.logger.Info("search items", "keyword", keyword)
	return s.items.Search(ctx, keyword)
}

func (s *ItemService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	return s.categories.List(ctx)
}

// GetImage returns the image stored at address or the placeholder. A
// placeholder served for an address that an item references points at lost
// data and is logged as a warning.
func (s *ItemService) GetImage(ctx context.Context, address string) (*imagestore.Image, error) {
	img, err := s.images.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if !img.Placeholder {
		return img, nil
	}

	refs, err := s.items.CountByImage(ctx, address)
	if err != nil {
		s.logger.Error("failed to check image references", "image_name", address, "error", err)
		return img, nil
	}
	if refs > 0 {
		s.logger.Warn("image missing for referenced item, serving placeholder", "image_name", address, "items", refs)
	} else {
		s.logger.Debug("image not found, serving placeholder", "image_name", address)
	}
	return img, nil
}
