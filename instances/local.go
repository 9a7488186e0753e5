package instances

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrMkdir is returned when the target cannot be prepared
	ErrMkdir = errors.New("cannot prepare target")

	// ErrCreate is returned when a single create fails
	ErrCreate = errors.New("create failed")
)

// LocalDir creates empty files in a directory of a mounted file system
type LocalDir struct {
	dir string
}

// NewLocalDir returns a target rooted at dir
func NewLocalDir(dir string) *LocalDir {
	return &LocalDir{dir: filepath.Clean(dir)}
}

// Prepare creates the directory and any missing parents
func (ld *LocalDir) Prepare(ctx context.Context) error {
	st, err := os.Stat(ld.dir)
	if err == nil {
		if !st.IsDir() {
			return fmt.Errorf("%w: %q exists but is not a directory", ErrMkdir, ld.dir)
		}
		return nil
	}
	if err := os.MkdirAll(ld.dir, 0777); err != nil {
		return fmt.Errorf("%w: %v", ErrMkdir, err)
	}
	return nil
}

// Create makes one zero-byte file. An existing file with the same name is
// an error
func (ld *LocalDir) Create(ctx context.Context, name string) error {
	f, err := os.OpenFile(filepath.Join(ld.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrCreate, name, err)
	}
	return nil
}

// Remove deletes a file created by Create
func (ld *LocalDir) Remove(ctx context.Context, name string) error {
	return os.Remove(filepath.Join(ld.dir, name))
}

func (ld *LocalDir) String() string {
	return ld.dir
}
