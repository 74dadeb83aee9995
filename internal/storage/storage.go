// Package storage keeps uploaded voucher files and rendered QR codes in an
// object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/hugh/salesdesk/pkg/config"
	"github.com/hugh/salesdesk/pkg/util"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is implemented by the local, S3 and GCS backends.
type Store interface {
	// Put writes body under key and returns a URL for the object.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// New builds the store selected by cfg.Driver, wrapped with retries.
func New(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Driver {
	case "", "local":
		store, err = NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		store, err = NewS3Store(ctx, cfg)
	case "gcs":
		store, err = NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("object storage ready", "driver", cfg.Driver, "bucket", cfg.Bucket)
	return WithRetry(WithPrefix(store, cfg.Prefix), util.DefaultRetryPolicy), nil
}

type prefixed struct {
	Store
	prefix string
}

// WithPrefix namespaces every key under prefix.
func WithPrefix(s Store, prefix string) Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix}
}

func (p *prefixed) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	return p.Store.Put(ctx, path.Join(p.prefix, key), contentType, body)
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, path.Join(p.prefix, key))
}

type retrying struct {
	Store
	policy util.RetryPolicy
}

// WithRetry retries Put with exponential backoff. Get is not retried.
func WithRetry(s Store, policy util.RetryPolicy) Store {
	return &retrying{Store: s, policy: policy}
}

func (r *retrying) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	var url string
	err := util.Retry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		url, err = r.Store.Put(ctx, key, contentType, body)
		return err
	})
	return url, err
}

func publicURL(base, key, fallback string) string {
	if base != "" {
		return base + "/" + strings.TrimLeft(key, "/")
	}
	return fallback
}
