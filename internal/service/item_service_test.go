package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/itemshelf/internal/db"
	"github.com/vbonduro/itemshelf/internal/imagestore"
	"github.com/vbonduro/itemshelf/internal/imagestore/local"
	"github.com/vbonduro/itemshelf/internal/store"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	svc    *ItemService
	fs     afero.Fs
	logs   *syncBuffer
	images *local.LocalImageStore
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	fsys := afero.NewMemMapFs()
	images, err := local.New(fsys, local.DefaultPlaceholder)
	require.NoError(t, err)

	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	svc := NewItemService(
		d,
		store.NewCategoryStore(d, store.MatchExact),
		store.NewItemStore(d),
		images,
		logger,
	)
	return &testEnv{svc: svc, fs: fsys, logs: logs, images: images}
}

func TestCreateItem(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	item, err := env.svc.CreateItem(ctx, "jacket", "fashion", []byte("abc"))
	require.NoError(t, err)
	assert.NotZero(t, item.ID)
	assert.Equal(t, "jacket", item.Name)
	assert.Equal(t, int64(0), item.CategoryID)
	assert.Equal(t, "fashion", item.Category)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad.jpg", item.ImageName)

	ok, err := afero.Exists(env.fs, "/"+item.ImageName)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateItem_SharesCategoryAndImage(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	first, err := env.svc.CreateItem(ctx, "jacket", "fashion", []byte("same photo"))
	require.NoError(t, err)
	second, err := env.svc.CreateItem(ctx, "coat", "fashion", []byte("same photo"))
	require.NoError(t, err)
	third, err := env.svc.CreateItem(ctx, "ball", "toys", []byte("other photo"))
	require.NoError(t, err)

	assert.Equal(t, first.CategoryID, second.CategoryID)
	assert.Equal(t, first.ImageName, second.ImageName)
	assert.Equal(t, int64(1), third.CategoryID)
	assert.NotEqual(t, first.ImageName, third.ImageName)

	categories, err := env.svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 2)

	items, err := env.svc.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCreateItem_EmptyImage(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateItem(ctx, "jacket", "fashion", nil)
	assert.ErrorIs(t, err, imagestore.ErrEmptyImage)

	categories, err := env.svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories, "no category is created when the image is rejected")
}

func TestCreateItem_EmptyCategory(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreateItem(ctx, "jacket", "", []byte("abc"))
	assert.ErrorIs(t, err, store.ErrEmptyCategory)

	items, err := env.svc.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateItem_Concurrent(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateItem(ctx, "jacket", "fashion", []byte("photo"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	categories, err := env.svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, int64(0), categories[0].ID)
}

func TestGetItem(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.CreateItem(ctx, "jacket", "fashion", []byte("abc"))
	require.NoError(t, err)

	got, err := env.svc.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = env.svc.GetItem(ctx, created.ID+1)
	assert.True(t, errors.Is(err, store.ErrItemNotFound))
}

func TestSearchItems(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"jacket", "Jacket Blue", "boots"} {
		_, err := env.svc.CreateItem(ctx, name, "fashion", []byte(name))
		require.NoError(t, err)
	}

	results, err := env.svc.SearchItems(ctx, "jacket")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestGetImage_Stored(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	item, err := env.svc.CreateItem(ctx, "jacket", "fashion", []byte("photo bytes"))
	require.NoError(t, err)

	img, err := env.svc.GetImage(ctx, item.ImageName)
	require.NoError(t, err)
	assert.False(t, img.Placeholder)
	assert.Equal(t, []byte("photo bytes"), img.Data)
}

func TestGetImage_ExpectedMiss(t *testing.T) {
	env := newTestService(t)

	img, err := env.svc.GetImage(context.Background(), imagestore.Address([]byte("never uploaded")))
	require.NoError(t, err)
	assert.True(t, img.Placeholder)
	assert.Equal(t, env.images.Placeholder(), img.Data)

	assert.Contains(t, env.logs.String(), "image not found, serving placeholder")
	assert.NotContains(t, env.logs.String(), `"level":"WARN"`)
}

func TestGetImage_UnexpectedMiss(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	item, err := env.svc.CreateItem(ctx, "jacket", "fashion", []byte("photo bytes"))
	require.NoError(t, err)
	require.NoError(t, env.fs.Remove("/"+item.ImageName))

	img, err := env.svc.GetImage(ctx, item.ImageName)
	require.NoError(t, err)
	assert.True(t, img.Placeholder)

	logs := env.logs.String()
	assert.Contains(t, logs, "image missing for referenced item")
	assert.Contains(t, logs, `"level":"WARN"`)
}

func TestGetImage_Malformed(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.GetImage(context.Background(), "photo.png")
	assert.ErrorIs(t, err, imagestore.ErrMalformedAddress)
}

func TestCreateItem_BusyDatabaseIsConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "busy.sqlite3")

	holder, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })
	tx, err := holder.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO category (id, name) VALUES (100, 'holder')`)
	require.NoError(t, err)

	// No busy timeout: BEGIN fails immediately while tx holds the write lock.
	contender, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate&_pragma=busy_timeout(0)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = contender.Close() })

	images, err := local.New(afero.NewMemMapFs(), local.DefaultPlaceholder)
	require.NoError(t, err)
	logs := &syncBuffer{}
	svc := NewItemService(
		contender,
		store.NewCategoryStore(contender, store.MatchExact),
		store.NewItemStore(contender),
		images,
		slog.New(slog.NewJSONHandler(logs, nil)),
	)

	_, err = svc.CreateItem(ctx, "jacket", "fashion", []byte("abc"))
	assert.ErrorIs(t, err, store.ErrCategoryConflict)
	assert.Equal(t, maxCreateAttempts-1, strings.Count(logs.String(), "write conflict, retrying"))

	require.NoError(t, tx.Rollback())

	item, err := svc.CreateItem(ctx, "jacket", "fashion", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.CategoryID)
}
