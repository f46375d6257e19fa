package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLocalPath is used when no export directory is configured.
const DefaultLocalPath = "./exports"

// tempPattern names in-progress uploads. List skips dot files so they are
// never visible as objects.
const tempPattern = ".xclogger-*.tmp"

// LocalBackend stores objects as files under a root directory. Dated key
// segments become directories; Delete prunes directories it empties.
type LocalBackend struct {
	root   string
	logger zerolog.Logger
}

func NewLocalBackend(root string, logger zerolog.Logger) (*LocalBackend, error) {
	if root == "" {
		root = DefaultLocalPath
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve export directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	return &LocalBackend{
		root:   abs,
		logger: logger.With().Str("component", "local-storage").Str("root", abs).Logger(),
	}, nil
}

func (b *LocalBackend) file(key string) (string, error) {
	if err := CheckKey(key); err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

// Put writes to a temp file next to the target and renames it into place,
// so readers never observe a partial object.
func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	target, err := b.file(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()

	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("write %s: %w", key, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close %s: %w", key, closeErr)
	case ctx.Err() != nil:
		err = ctx.Err()
	case size >= 0 && written != size:
		err = fmt.Errorf("write %s: got %d bytes, expected %d", key, written, size)
	}
	if err == nil {
		err = os.Rename(tmpPath, target)
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	b.logger.Debug().Str("key", key).Int64("size", written).Msg("Stored object")
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, key string, w io.Writer) error {
	p, err := b.file(key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

func (b *LocalBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	p, err := b.file(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if fi.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return ObjectInfo{Key: key, Size: fi.Size(), ModifiedAt: fi.ModTime().UTC()}, nil
}

// List walks the directory that prefix names. A prefix is matched by path
// segment, so "exports" lists "exports/..." but not "exports-old/...".
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	start := filepath.Join(b.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))

	objs := []ObjectInfo{}
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			// removed while walking
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		objs = append(objs, ObjectInfo{
			Key:        filepath.ToSlash(rel),
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return sortByKey(objs), nil
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	p, err := b.file(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	b.pruneEmptyDirs(filepath.Dir(p))

	b.logger.Debug().Str("key", key).Msg("Deleted object")
	return nil
}

// pruneEmptyDirs removes dir and its parents up to the root while they are
// empty. os.Remove refuses non-empty directories, which ends the walk.
func (b *LocalBackend) pruneEmptyDirs(dir string) {
	for dir != b.root && strings.HasPrefix(dir, b.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (b *LocalBackend) Close() error { return nil }

func (b *LocalBackend) Type() string { return "local" }
