// Package local implements the object store on the plain filesystem.
// It is the default backend for single-node deployments where running
// an S3 service next to the API would be overkill.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tabletalk/tabletalk/internal/storage"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Put writes through a temp file and renames, so a crash mid-write
// never leaves a truncated object behind.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}
	normalized, err := normalizeKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	target := filepath.Join(s.root, filepath.FromSlash(normalized))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create object dir for %q: %w", normalized, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create temp object for %q: %w", normalized, err)
	}
	written, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return storage.ObjectInfo{}, fmt.Errorf("write object %q: %w", normalized, err)
	}
	if size >= 0 && written != size {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return storage.ObjectInfo{}, fmt.Errorf("write object %q: wrote %d bytes, expected %d", normalized, written, size)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return storage.ObjectInfo{}, fmt.Errorf("close temp object for %q: %w", normalized, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return storage.ObjectInfo{}, fmt.Errorf("publish object %q: %w", normalized, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	return storage.ObjectInfo{Key: normalized, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.root, filepath.FromSlash(normalized)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return file, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}
	normalized, err := normalizeKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(normalized)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	return storage.ObjectInfo{Key: normalized, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(normalized))); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", normalized, err)
	}
	return nil
}

// Ping reports whether the object root is still a usable directory.
// Readiness probes call it; the root can vanish when the data dir
// lives on ephemeral storage.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("object root %q: %w", s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("object root %q is not a directory", s.root)
	}
	return nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}
