// Package imagestore defines content-addressed storage for item images.
//
// An image is stored under the hex SHA-256 digest of its bytes followed by
// Ext, so identical uploads share one stored file.
package imagestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Ext is appended to every address regardless of the actual encoding.
const Ext = ".jpg"

var (
	// ErrMalformedAddress is returned for addresses that do not end in Ext
	// or are not a bare file name.
	ErrMalformedAddress = errors.New("malformed image address")
	// ErrEmptyImage is returned when asked to store zero bytes.
	ErrEmptyImage = errors.New("empty image")
	// ErrStorage wraps filesystem failures.
	ErrStorage = errors.New("image storage failure")
)

// Image is the result of a lookup. Placeholder is set when the address was
// not found and Data holds the fallback image instead.
type Image struct {
	Address     string
	Data        []byte
	Placeholder bool
}

type ImageStore interface {
	// Put stores data exactly once and returns its address.
	Put(ctx context.Context, data []byte) (address string, err error)
	// Get returns the stored image, or the placeholder when nothing is stored
	// at address. A miss is never an error.
	Get(ctx context.Context, address string) (*Image, error)
	// Has reports whether something is stored at address.
	Has(ctx context.Context, address string) (bool, error)
}

// Address returns the content address for data.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + Ext
}

// ValidateAddress rejects addresses that do not end in Ext and names that are
// not a single path element of the image directory.
func ValidateAddress(address string) error {
	if !strings.HasSuffix(address, Ext) {
		return fmt.Errorf("%w: %q does not end with %s", ErrMalformedAddress, address, Ext)
	}
	if strings.ContainsAny(address, `/\`) {
		return fmt.Errorf("%w: %q", ErrMalformedAddress, address)
	}
	return nil
}
