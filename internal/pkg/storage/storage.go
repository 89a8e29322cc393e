package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Storage is an object store for generated images.
type Storage interface {
	// Put stores size bytes from reader under key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetURL returns the public URL for key.
	GetURL(key string) string
}

var ErrUnknownBackend = errors.New("unknown storage backend")

// Config selects and configures a backend
type Config struct {
	Backend string // "r2", "s3" or "local"

	R2 R2Config

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string

	LocalPath string
	LocalURL  string
}

// New builds the configured backend
func New(cfg Config) (Storage, error) {
	var (
		st  Storage
		err error
	)
	switch cfg.Backend {
	case "r2":
		st, err = NewR2Storage(cfg.R2)
	case "s3":
		st, err = NewS3Storage(cfg)
	case "local":
		st, err = NewLocalStorage(cfg.LocalPath, cfg.LocalURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
