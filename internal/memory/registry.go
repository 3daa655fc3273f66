package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pavel-fokin/files-registry/internal/files"
)

// Registry implements files.Registry in process memory.
// Records are kept in insertion order; ids of removed records stay retired.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*files.FileRecord
	order   []string
	retired map[string]struct{}
}

// NewRegistry creates an empty in-memory registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*files.FileRecord),
		retired: make(map[string]struct{}),
	}
}

// Insert stores a copy of rec
func (r *Registry) Insert(_ context.Context, rec *files.FileRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id is required", files.ErrInvalidParameter)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", files.ErrDuplicateID, rec.ID)
	}
	if _, ok := r.retired[rec.ID]; ok {
		return fmt.Errorf("%w: %s was used by a deleted file", files.ErrDuplicateID, rec.ID)
	}

	r.records[rec.ID] = rec.Clone()
	r.order = append(r.order, rec.ID)
	return nil
}

// Get returns a copy of the record with the given id
func (r *Registry) Get(_ context.Context, id string) (*files.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", files.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Remove deletes the record and retires its id
func (r *Registry) Remove(_ context.Context, id string) (*files.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", files.ErrNotFound, id)
	}

	delete(r.records, id)
	r.retired[id] = struct{}{}
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return rec, nil
}

// List returns copies of all records in insertion order
func (r *Registry) List(_ context.Context) ([]*files.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*files.FileRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].Clone())
	}
	return out, nil
}

// Count returns the number of records
func (r *Registry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records), nil
}

// Update applies fn to a copy of the record and stores the result
func (r *Registry) Update(_ context.Context, id string, fn func(*files.FileRecord) error) (*files.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", files.ErrNotFound, id)
	}

	updated, err := files.ApplyUpdate(rec, fn)
	if err != nil {
		return nil, err
	}
	r.records[id] = updated
	return updated.Clone(), nil
}
