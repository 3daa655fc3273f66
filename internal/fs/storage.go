package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pavel-fokin/files-registry/internal/files"
)

// Storage implements files.FileStorage using the filesystem
type Storage struct {
	dataDir string
}

// NewStorage creates a new filesystem storage
func NewStorage(dataDir string) *Storage {
	return &Storage{
		dataDir: dataDir,
	}
}

// Save stores content under name in the data directory
func (s *Storage) Save(ctx context.Context, name string, mimeType string, content io.Reader) (*files.Blob, error) {
	filePath, err := s.path(name)
	if err != nil {
		return nil, err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, &contextReader{ctx: ctx, r: content})
	if err != nil {
		// Clean up file if copy fails
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}

	if err := file.Sync(); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}

	return &files.Blob{Ref: name, Size: size}, nil
}

// GetContent returns a reader for the file content
func (s *Storage) GetContent(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s", files.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes a file; a missing file is not an error
func (s *Storage) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.path(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil // File already deleted
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// path resolves a blob name inside the data directory, rejecting anything
// that would escape it
func (s *Storage) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid blob name %q", files.ErrInvalidParameter, name)
	}
	return filepath.Join(s.dataDir, name), nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
