// Package blob stores document artifacts (uploaded PDFs, signature images,
// stamped outputs, certificates) under service-assigned keys. Keys are
// slash-separated and tenant-prefixed, e.g. "uploads/t-1/doc-1.pdf".
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Store is the contract all storage backends implement.
type Store interface {
	// Put persists data under key, overwriting any previous object.
	Put(ctx context.Context, key string, data []byte) error
	// Get retrieves the object at key. Missing objects map to
	// model.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the object at key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error
}

func notFound(key string) error {
	return fmt.Errorf("blob %s: %w", key, model.ErrNotFound)
}

// validateKey rejects anything that could escape the backend's namespace
// when mapped onto a filesystem.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty storage key", model.ErrValidation)
	}
	if strings.Contains(key, "\\") {
		return fmt.Errorf("%w: storage key %q contains backslash", model.ErrValidation, key)
	}
	if path.IsAbs(key) {
		return fmt.Errorf("%w: storage key %q is absolute", model.ErrValidation, key)
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: storage key %q is not canonical", model.ErrValidation, key)
	}
	return nil
}
