// Package file implements a wikicounts.Store on the local filesystem.
package file

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// tmpPrefix marks objects which are still being written. They are never
// listed.
const tmpPrefix = ".wikicounts-"

// Store keeps objects as files below a root directory. Keys are slash
// separated paths relative to the root.
type Store struct {
	root string
}

// NewStore gets a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving '%s'", dir)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating '%s'", abs)
	}
	return &Store{root: abs}, nil
}

// Root returns the directory the store writes below.
func (s *Store) Root() string { return s.root }

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes r to a temporary file next to key and renames it into place,
// so readers never see a partially written object.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (err error) {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "creating parent directory")
	}
	tmp, err := ioutil.TempFile(filepath.Dir(dst), tmpPrefix+filepath.Base(dst)+"-")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		return errors.Wrap(err, "writing temp file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "syncing temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrap(err, "setting permissions")
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrap(err, "renaming into place")
	}
	return nil
}

// Get opens the object at key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, errors.Wrap(err, "opening object")
	}
	return f, nil
}

// List walks the directory tree below the root and returns the keys which
// begin with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walking store")
	}
	sort.Strings(keys)
	return keys, nil
}

// URI returns a file:// URI for key.
func (s *Store) URI(key string) string {
	return "file://" + filepath.ToSlash(s.path(key))
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
