// Package artifact archives what a run leaves behind: synthesized audio
// files and the report itself. A Store is either a directory tree or an
// S3-compatible bucket; Sync mirrors a run's output folder into one.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Store is file-oriented storage for run artifacts. Paths are forward-slash
// separated and relative to the store root. Implementations are safe for
// concurrent use.
type Store interface {
	// Read opens the named artifact. Missing artifacts yield an error
	// wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named artifact for writing, truncating any previous
	// content. The caller must close the writer to flush.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named artifact. Deleting a missing artifact is a
	// no-op.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named artifact exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Dir implements Store on a local directory tree.
type Dir struct {
	root string
}

// NewDir creates a Dir store rooted at dir, creating it if needed.
func NewDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) resolve(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

func (d *Dir) Read(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(d.resolve(path))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dir) Write(_ context.Context, path string) (io.WriteCloser, error) {
	full := d.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.Create(full)
}

func (d *Dir) Delete(_ context.Context, path string) error {
	err := os.Remove(d.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (d *Dir) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(d.resolve(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Store = (*Dir)(nil)

// Sync mirrors every regular file under dir into the store, keyed
// {prefix}/{path relative to dir}. It returns how many files it uploaded.
func Sync(ctx context.Context, store Store, prefix, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" {
			key = prefix + "/" + key
		}
		if err := copyFile(ctx, store, key, path); err != nil {
			return fmt.Errorf("artifact: sync %s: %w", rel, err)
		}
		uploaded++
		return nil
	})
	return uploaded, err
}

func copyFile(ctx context.Context, store Store, key, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := store.Write(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
