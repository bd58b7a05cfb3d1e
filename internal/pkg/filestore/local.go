package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
)

// Local keeps files on a local disk directory
type Local struct {
	dir string
}

// NewLocal inits local file storage, creates the directory if missing
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("no dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("can't create dir %s: %w", dir, err)
	}
	goapp.Log.Info().Str("dir", dir).Msg("file storage")
	return &Local{dir: dir}, nil
}

// SaveFile saves reader content to a file
func (fs *Local) SaveFile(ctx context.Context, name string, r io.Reader) error {
	fn := filepath.Join(fs.dir, name)
	goapp.Log.Info().Str("file", fn).Msg("saving")
	f, err := os.Create(fn)
	if err != nil {
		return fmt.Errorf("can't create %s: %w", fn, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("can't write %s: %w", fn, err)
	}
	return nil
}

// LoadFile opens the stored file for reading, ErrNotFound if missing
func (fs *Local) LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	fn := filepath.Join(fs.dir, name)
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("can't open %s: %w", fn, err)
	}
	return f, nil
}

// Delete removes the file, no error if it does not exist
func (fs *Local) Delete(ctx context.Context, name string) error {
	fn := filepath.Join(fs.dir, name)
	err := os.Remove(fn)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("can't delete %s: %w", fn, err)
	}
	return nil
}

// Clean drops all files with the ID prefix
func (fs *Local) Clean(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("no ID")
	}
	files, err := filepath.Glob(filepath.Join(fs.dir, id+"_*"))
	if err != nil {
		return fmt.Errorf("can't list files: %w", err)
	}
	for _, f := range files {
		goapp.Log.Info().Str("file", f).Msg("deleting")
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("can't delete %s: %w", f, err)
		}
	}
	return nil
}
