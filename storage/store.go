// Package storage persists training artifacts (checkpoints, sample grids)
// either on the local filesystem or in an S3 compatible object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

type Store interface {
	Put(ctx context.Context, key string, data io.Reader) error

	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the keys below prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open returns a Store for uri. s3://bucket/prefix selects an S3Store using
// cfg, everything else is treated as a local directory.
func Open(uri string, cfg S3Config) (Store, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return NewLocalStore(uri)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid storage uri %s: %w", uri, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid storage uri %s: bucket is required", uri)
	}

	cfg.Bucket = u.Host
	cfg.Prefix = strings.Trim(u.Path, "/")
	return NewS3Store(cfg)
}

func joinKey(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
