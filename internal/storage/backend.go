// Package storage holds the object stores that exports are written to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned for a key with no object behind it.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for keys that are empty, absolute, or not in
	// clean slash-separated form.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Backend is an export destination. Keys are slash-separated and relative,
// e.g. "exports/2026/05/10/20260510T030000Z-<uuid>.ndjson.zst".
type Backend interface {
	// Put streams r to key. size is -1 when unknown. A failed Put leaves
	// no object behind.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get copies the object at key into w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Stat returns the object's metadata or ErrNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object at key or returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	Close() error

	// Type returns "local", "s3" or "azure".
	Type() string
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	LocalPath string
	S3        S3Config
	Azure     AzureBlobConfig
}

// New creates the backend named by cfg.Backend.
func New(cfg Config, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBackend(cfg.LocalPath, logger)
	case "s3", "minio":
		return NewS3Backend(&cfg.S3, logger)
	case "azure", "azblob":
		return NewAzureBlobBackend(&cfg.Azure, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// CheckKey rejects keys that could address something outside the store's
// namespace.
func CheckKey(key string) error {
	switch {
	case key == "",
		strings.HasPrefix(key, "/"),
		strings.ContainsRune(key, 0),
		strings.Contains(key, "\\"),
		path.Clean(key) != key:
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// checkPrefix is CheckKey for list prefixes, which may be empty or end in
// a slash.
func checkPrefix(prefix string) error {
	p := strings.TrimSuffix(prefix, "/")
	if p == "" {
		return nil
	}
	return CheckKey(p)
}

// contentType returns the MIME type stored with an export object.
func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case path.Ext(key) == ".ndjson":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

func sortByKey(objs []ObjectInfo) []ObjectInfo {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs
}
