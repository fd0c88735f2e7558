package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FSStore keeps blobs on an afero filesystem. With a root directory it maps
// onto the OS filesystem and can hand out local paths.
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewLocalStore stores blobs under root on disk. The directory is created if
// it does not exist.
func NewLocalStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", abs, err)
	}
	return &FSStore{fs: afero.NewBasePathFs(afero.NewOsFs(), abs), root: abs}, nil
}

// NewMemoryStore keeps blobs in memory. It has no local paths.
func NewMemoryStore() *FSStore {
	return &FSStore{fs: afero.NewMemMapFs()}
}

func (s *FSStore) Put(ctx context.Context, p string, r io.Reader) error {
	name, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path.Dir(name), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}

	// temp file -> write -> sync -> rename, so readers never see a partial blob
	tmp := name + ".tmp-" + uuid.NewString()[:8]
	f, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}

	if _, err := io.Copy(f, contextReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	name, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, &TransientError{Op: "get", Err: err}
	}

	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return f, nil
}

func (s *FSStore) Exists(ctx context.Context, p string) (bool, error) {
	name, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &TransientError{Op: "exists", Err: err}
	}
	return !info.IsDir(), nil
}

func (s *FSStore) Delete(ctx context.Context, p string) error {
	name, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.fs.Remove(name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (s *FSStore) Copy(ctx context.Context, srcPath, dstPath string) error {
	src, err := s.Get(ctx, srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	return s.Put(ctx, dstPath, src)
}

func (s *FSStore) LocalPath(p string) (string, error) {
	if s.root == "" {
		return "", ErrUnsupported
	}
	name, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

// cleanPath normalizes a logical path and refuses anything that escapes the
// store root.
func cleanPath(p string) (string, error) {
	if p == "" || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	return name, nil
}

// contextReader stops a long copy once the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
