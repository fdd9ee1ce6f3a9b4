package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that LocalSaver implements Saver.
var _ Saver = (*LocalSaver)(nil)

// LocalSaver writes outputs into one directory on local disk.
type LocalSaver struct {
	dir string
}

// NewLocalSaver creates a LocalSaver rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalSaver(dir string) (*LocalSaver, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "highlight-reel", "out")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &LocalSaver{dir: dir}, nil
}

// Dir returns the output directory.
func (s *LocalSaver) Dir() string {
	return s.dir
}

// Save writes data to dir/name and returns the file path. The file appears
// under its final name only once it is completely written.
func (s *LocalSaver) Save(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	f, err := os.CreateTemp(s.dir, "."+name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write output: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close output: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename output: %w", err)
	}

	return path, nil
}

// Open returns a reader for a saved output.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalSaver) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	f, err := os.Open(filepath.Join(s.dir, name)) // #nosec G304 - name is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open output: %w", err)
	}

	return f, nil
}

// Remove deletes saved outputs. It continues even if some files fail to
// delete, returning the first error encountered.
func (s *LocalSaver) Remove(ctx context.Context, names []string) error {
	var firstErr error
	for _, name := range names {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}
		if !validName(name) {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %q", ErrInvalidName, name)
			}
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove output %s: %w", name, err)
			}
		}
	}
	return firstErr
}
