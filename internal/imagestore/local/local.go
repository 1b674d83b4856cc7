package local

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/vbonduro/itemshelf/internal/imagestore"
)

// DefaultPlaceholder is the file name looked up in the image directory for
// the fallback image.
const DefaultPlaceholder = "default.jpg"

//go:embed placeholder.jpg
var embeddedPlaceholder []byte

// LocalImageStore keeps images as flat files in one directory.
type LocalImageStore struct {
	fs          afero.Fs
	placeholder []byte
}

var _ imagestore.ImageStore = (*LocalImageStore)(nil)

// NewLocalImageStore creates dir if needed and serves images from it.
// placeholder names the fallback file inside dir; when that file is absent a
// built-in image is used.
func NewLocalImageStore(dir, placeholder string) (*LocalImageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), placeholder)
}

// New serves images from the root of fsys.
func New(fsys afero.Fs, placeholder string) (*LocalImageStore, error) {
	s := &LocalImageStore{fs: fsys}
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}

	data, err := afero.ReadFile(fsys, s.path(placeholder))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("placeholder image not found, using built-in image", "placeholder", placeholder)
		s.placeholder = embeddedPlaceholder
	case err != nil:
		return nil, fmt.Errorf("failed to read placeholder image: %w", err)
	default:
		s.placeholder = data
	}
	return s, nil
}

// Put writes data under its content address unless a file is already there.
// The bytes go to a temporary file first and are renamed into place, so a
// reader never observes a partially written image.
func (s *LocalImageStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", imagestore.ErrEmptyImage
	}

	address := imagestore.Address(data)
	target := s.path(address)

	exists, err := afero.Exists(s.fs, target)
	if err != nil {
		return "", fmt.Errorf("%w: failed to stat %s: %w", imagestore.ErrStorage, address, err)
	}
	if exists {
		slog.Debug("image already stored", "image_name", address)
		return address, nil
	}

	f, err := afero.TempFile(s.fs, string(filepath.Separator), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create file: %w", imagestore.ErrStorage, err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		s.removeTemp(tmp)
		return "", fmt.Errorf("%w: failed to write file: %w", imagestore.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		s.removeTemp(tmp)
		return "", fmt.Errorf("%w: failed to close file: %w", imagestore.ErrStorage, err)
	}
	if err := s.fs.Chmod(tmp, 0644); err != nil {
		s.removeTemp(tmp)
		return "", fmt.Errorf("%w: failed to chmod file: %w", imagestore.ErrStorage, err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		s.removeTemp(tmp)
		return "", fmt.Errorf("%w: failed to rename file: %w", imagestore.ErrStorage, err)
	}

	slog.Info("image saved", "image_name", address, "bytes", len(data))
	return address, nil
}

// Get returns the image at address or the placeholder if there is none.
func (s *LocalImageStore) Get(ctx context.Context, address string) (*imagestore.Image, error) {
	if err := imagestore.ValidateAddress(address); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path(address))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &imagestore.Image{Address: address, Data: s.placeholder, Placeholder: true}, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %w", imagestore.ErrStorage, address, err)
	}
	return &imagestore.Image{Address: address, Data: data}, nil
}

func (s *LocalImageStore) Has(ctx context.Context, address string) (bool, error) {
	if err := imagestore.ValidateAddress(address); err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, s.path(address))
	if err != nil {
		return false, fmt.Errorf("%w: failed to stat %s: %w", imagestore.ErrStorage, address, err)
	}
	return ok, nil
}

// Placeholder returns the fallback image bytes.
func (s *LocalImageStore) Placeholder() []byte {
	return s.placeholder
}

func (s *LocalImageStore) path(name string) string {
	return filepath.Join(string(filepath.Separator), name)
}

func (s *LocalImageStore) removeTemp(name string) {
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to remove temp file", "file", name, "error", err)
	}
}
