//go:build gcp

package blob

import "context"

func newGCSStore(ctx context.Context, bucket, prefix string) (Store, error) {
	return NewGCSStore(ctx, GCSConfig{Bucket: bucket, Prefix: prefix})
}
