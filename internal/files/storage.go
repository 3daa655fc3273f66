package files

import (
	"context"
	"io"
)

// Blob describes bytes written to a FileStorage
type Blob struct {
	Ref  string
	Size int64
}

// FileStorage defines the interface for the physical file storage
type FileStorage interface {
	// Save stores content under name and returns a reference to it
	Save(ctx context.Context, name string, mimeType string, content io.Reader) (*Blob, error)

	// GetContent returns a reader for the stored content, ErrNotFound if missing
	GetContent(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes stored content; deleting a missing blob is not an error
	Delete(ctx context.Context, ref string) error
}

// Registry is the authoritative collection of file records.
//
// Implementations serialize structural changes and hand out copies, so a
// caller never holds a reference into the registry's own state.
type Registry interface {
	// Insert adds a record, ErrDuplicateID if its id was ever used before
	Insert(ctx context.Context, rec *FileRecord) error

	// Get returns a record by id
	Get(ctx context.Context, id string) (*FileRecord, error)

	// Remove deletes a record and returns it
	Remove(ctx context.Context, id string) (*FileRecord, error)

	// List returns a point-in-time snapshot in insertion order
	List(ctx context.Context) ([]*FileRecord, error)

	// Count returns the number of records
	Count(ctx context.Context) (int, error)

	// Update atomically applies fn to a record, see ApplyUpdate
	Update(ctx context.Context, id string, fn func(*FileRecord) error) (*FileRecord, error)
}
