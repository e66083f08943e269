package blob

import (
	"context"
	"fmt"
)

// Backend selects a storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Options parameterizes New. The service config layer builds this from the
// BLOB_* environment variables; tests build it directly.
type Options struct {
	Backend Backend

	// Root is the base directory of the filesystem backend. Every storage
	// key resolves under it.
	Root string

	S3 S3Config

	GCSBucket string
	GCSPrefix string
}

// New constructs the configured blob store. The GCS backend needs a
// -tags gcp build; without it the gcs option reports an error instead of
// silently falling back.
func New(ctx context.Context, opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		root := opts.Root
		if root == "" {
			root = "uploads"
		}
		return NewFileStore(root)
	case BackendS3:
		if opts.S3.Bucket == "" {
			return nil, fmt.Errorf("blob: s3 backend requires a bucket")
		}
		if opts.S3.Region == "" {
			opts.S3.Region = "us-east-1"
		}
		return NewS3Store(ctx, opts.S3)
	case BackendGCS:
		if opts.GCSBucket == "" {
			return nil, fmt.Errorf("blob: gcs backend requires a bucket")
		}
		return newGCSStore(ctx, opts.GCSBucket, opts.GCSPrefix)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", backend)
	}
}
