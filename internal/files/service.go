package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxFileSize int64 = 100 << 20
	DefaultMaxFiles          = 10
	DefaultBlobTimeout       = 30 * time.Second
)

// ServiceConfig holds the upload limits and blob store settings of a Service
type ServiceConfig struct {
	MaxFileSize int64
	MaxFiles    int
	BlobTimeout time.Duration
	// BaseURL prefixes the download and thumbnail URLs of new records
	BaseURL string
}

// Service provides application-level file operations
type Service struct {
	storage  FileStorage
	registry Registry
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService creates a new file service
func NewService(storage FileStorage, registry Registry, cfg ServiceConfig) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = DefaultBlobTimeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Service{
		storage:  storage,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// UploadRequest represents one file of an upload call
type UploadRequest struct {
	Name     string
	MimeType string
	// Size is the size declared by the client, checked again after the write
	Size    int64
	Content io.Reader
}

// UploadAttributes carries the optional JSON form fields applied to every
// file of an upload call. Empty strings mean the field was not sent.
type UploadAttributes struct {
	Tags        string
	Metadata    string
	Permissions string
}

// MetadataPatch lists the mutable parts of a record. Nil fields are left unchanged.
type MetadataPatch struct {
	Tags        *[]string      `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	Permissions *Permissions   `json:"permissions"`
}

// Upload validates every file, stores their bytes and registers the records.
//
// Nothing is written unless all files pass validation. If a later file fails
// to store or register, the records and blobs created earlier in the same call
// are removed again.
func (s *Service) Upload(ctx context.Context, reqs []*UploadRequest, attrs UploadAttributes) ([]*FileRecord, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no file provided", ErrInvalidParameter)
	}
	if len(reqs) > s.cfg.MaxFiles {
		uploadsRejectedTotal.Inc()
		return nil, fmt.Errorf("%w: at most %d files per upload, got %d", ErrInvalidParameter, s.cfg.MaxFiles, len(reqs))
	}
	for _, req := range reqs {
		if err := s.validate(req); err != nil {
			uploadsRejectedTotal.Inc()
			return nil, err
		}
	}

	tags, err := parseTags(attrs.Tags)
	if err != nil {
		return nil, err
	}
	metadata, err := parseMetadata(attrs.Metadata)
	if err != nil {
		return nil, err
	}
	permissions, err := parsePermissions(attrs.Permissions)
	if err != nil {
		return nil, err
	}

	created := make([]*FileRecord, 0, len(reqs))
	for _, req := range reqs {
		rec := &FileRecord{
			Tags:        slices.Clone(tags),
			Metadata:    cloneMap(metadata),
			Permissions: permissions,
		}
		rec.Permissions.AllowedUsers = slices.Clone(permissions.AllowedUsers)

		if err := s.store(ctx, req, rec); err != nil {
			s.rollback(ctx, created)
			return nil, err
		}
		created = append(created, rec.Clone())
	}

	uploadsTotal.Add(float64(len(created)))
	s.updateRecordCount(ctx)
	return created, nil
}

// Get returns the record of a file
func (s *Service) Get(ctx context.Context, id string) (*FileRecord, error) {
	return s.registry.Get(ctx, id)
}

// Open returns the record of a file and a reader for its content.
// The caller must close the reader.
func (s *Service) Open(ctx context.Context, id string) (*FileRecord, io.ReadCloser, error) {
	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	// The blob timeout bounds opening only; the stream follows ctx until Close.
	blobCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(s.cfg.BlobTimeout, func() { cancel(context.DeadlineExceeded) })
	content, err := s.storage.GetContent(blobCtx, rec.StoredName)
	if !timer.Stop() && err == nil {
		content.Close()
		err = context.Cause(blobCtx)
	}
	if err != nil {
		cancel(nil)
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to open %s: %w", id, err)
		}
		return nil, nil, fmt.Errorf("%w: failed to open %s: %w", ErrStorage, id, err)
	}

	return rec, &cancelOnClose{ReadCloser: content, cancel: func() { cancel(nil) }}, nil
}

// Delete removes a file record and, best effort, its blob
func (s *Service) Delete(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := s.registry.Remove(ctx, id)
	if err != nil {
		return nil, err
	}

	s.discardBlob(ctx, rec.StoredName)
	deletesTotal.Inc()
	s.updateRecordCount(ctx)
	return rec, nil
}

// List returns a page of all records in insertion order
func (s *Service) List(ctx context.Context, page, limit int) ([]*FileRecord, Pagination, error) {
	records, err := s.registry.List(ctx)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("failed to list files: %w", err)
	}
	return Paginate(records, page, limit)
}

// Search runs a query over a snapshot of the registry
func (s *Service) Search(ctx context.Context, params SearchParams) ([]*FileRecord, Pagination, error) {
	start := time.Now()
	searchesTotal.Inc()

	records, err := s.registry.List(ctx)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("failed to list files: %w", err)
	}

	page, info, err := Search(records, params)
	if err != nil {
		return nil, Pagination{}, err
	}

	searchDuration.Observe(time.Since(start).Seconds())
	slog.Debug("Search completed", "total", info.Total, "returned", len(page))
	return page, info, nil
}

// UpdateMetadata changes the tags, metadata or permissions of a record
func (s *Service) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) (*FileRecord, error) {
	return s.registry.Update(ctx, id, func(rec *FileRecord) error {
		if patch.Tags != nil {
			rec.Tags = append([]string{}, (*patch.Tags)...)
		}
		if patch.Metadata != nil {
			rec.Metadata = cloneMap(patch.Metadata)
		}
		if patch.Permissions != nil {
			rec.Permissions = *patch.Permissions
			if rec.Permissions.AllowedUsers == nil {
				rec.Permissions.AllowedUsers = []string{}
			}
		}
		return nil
	})
}

func (s *Service) validate(req *UploadRequest) error {
	if req == nil || req.Content == nil {
		return fmt.Errorf("%w: no file provided", ErrInvalidParameter)
	}
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidParameter)
	}
	if !IsAllowedMimeType(req.MimeType) {
		return fmt.Errorf("%w: file type %q is not allowed", ErrInvalidParameter, req.MimeType)
	}
	if req.Size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: %s exceeds the maximum size of %d bytes", ErrInvalidParameter, req.Name, s.cfg.MaxFileSize)
	}
	return nil
}

// store writes the blob of req and registers rec. The blob is removed again
// when registration fails or the request goes away in between.
func (s *Service) store(ctx context.Context, req *UploadRequest, rec *FileRecord) error {
	id := uuid.NewString()
	storedName := id + strings.ToLower(filepath.Ext(req.Name))
	mimeType := normalizeMimeType(req.MimeType)

	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	// One byte over the limit is enough to detect an oversized stream.
	blob, err := s.storage.Save(blobCtx, storedName, mimeType, io.LimitReader(req.Content, s.cfg.MaxFileSize+1))
	cancel()
	if err != nil {
		return fmt.Errorf("%w: failed to save %s: %w", ErrStorage, req.Name, err)
	}

	if blob.Size > s.cfg.MaxFileSize {
		s.discardBlob(ctx, blob.Ref)
		return fmt.Errorf("%w: %s exceeds the maximum size of %d bytes", ErrInvalidParameter, req.Name, s.cfg.MaxFileSize)
	}
	if err := ctx.Err(); err != nil {
		s.discardBlob(ctx, blob.Ref)
		return fmt.Errorf("upload of %s aborted: %w", req.Name, err)
	}

	category := CategoryOf(mimeType)
	rec.ID = id
	rec.StoredName = blob.Ref
	rec.OriginalName = req.Name
	rec.MimeType = mimeType
	rec.Size = blob.Size
	rec.UploadedAt = s.now().UTC()
	rec.Category = category
	rec.DownloadURL = s.cfg.BaseURL + "/files/" + id
	if category == CategoryImage {
		rec.ThumbnailURL = s.cfg.BaseURL + "/files/" + id + "/thumbnail"
	}

	if err := s.registry.Insert(ctx, rec.Clone()); err != nil {
		s.discardBlob(ctx, blob.Ref)
		return fmt.Errorf("failed to register %s: %w", req.Name, err)
	}

	uploadBytesTotal.Add(float64(blob.Size))
	return nil
}

func (s *Service) rollback(ctx context.Context, created []*FileRecord) {
	for _, rec := range created {
		if _, err := s.registry.Remove(context.WithoutCancel(ctx), rec.ID); err != nil {
			slog.Warn("Failed to roll back file record", "file_id", rec.ID, "error", err)
		}
		s.discardBlob(ctx, rec.StoredName)
	}
}

// discardBlob deletes a blob on a best-effort basis. It runs detached from
// ctx cancellation so that an aborted request still cleans up.
func (s *Service) discardBlob(ctx context.Context, ref string) {
	blobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BlobTimeout)
	defer cancel()

	if err := s.storage.Delete(blobCtx, ref); err != nil {
		blobCleanupFailuresTotal.Inc()
		slog.Warn("Failed to delete blob", "stored_name", ref, "error", err)
	}
}

func (s *Service) updateRecordCount(ctx context.Context) {
	n, err := s.registry.Count(ctx)
	if err != nil {
		slog.Warn("Failed to count file records", "error", err)
		return
	}
	recordsGauge.Set(float64(n))
}

func parseTags(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("%w: tags must be a JSON array of strings: %v", ErrMalformedPayload, err)
	}
	return dedupeTags(tags), nil
}

func parseMetadata(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON object: %v", ErrMalformedPayload, err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

func parsePermissions(raw string) (Permissions, error) {
	permissions := Permissions{AllowedUsers: []string{}}
	if strings.TrimSpace(raw) == "" {
		return permissions, nil
	}
	if err := json.Unmarshal([]byte(raw), &permissions); err != nil {
		return Permissions{}, fmt.Errorf("%w: permissions must be a JSON object: %v", ErrMalformedPayload, err)
	}
	if permissions.AllowedUsers == nil {
		permissions.AllowedUsers = []string{}
	}
	return permissions, nil
}

// cancelOnClose releases the blob timeout once the caller is done streaming
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
