package files_test

import (
	"context"
	"errors"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/pavel-fokin/files-registry/internal/files"
)

// MockStorage is a testify double of files.FileStorage. Save drains the
// content so that sizes are real.
type MockStorage struct {
	mock.Mock
}

func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

func (m *MockStorage) Save(ctx context.Context, name string, mimeType string, content io.Reader) (*files.Blob, error) {
	n, _ := io.Copy(io.Discard, content)
	args := m.Called(ctx, name, mimeType)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if blob, ok := args.Get(0).(*files.Blob); ok && blob != nil {
		return blob, nil
	}
	return &files.Blob{Ref: name, Size: n}, nil
}

func (m *MockStorage) GetContent(ctx context.Context, ref string) (io.ReadCloser, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

// failingRegistry wraps a registry and fails every insert
type failingRegistry struct {
	files.Registry
}

func (f *failingRegistry) Insert(context.Context, *files.FileRecord) error {
	return errors.New("registry unavailable")
}
