package files

import (
	"slices"
	"time"
)

// Category is a coarse classification derived from the MIME type
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryDocument Category = "document"
	CategoryOther    Category = "other"
)

// Permissions are stored with a record but not enforced
type Permissions struct {
	IsPublic     bool       `json:"isPublic"`
	AllowedUsers []string   `json:"allowedUsers"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// FileRecord represents the metadata of one uploaded file
type FileRecord struct {
	ID           string         `json:"id"`
	StoredName   string         `json:"storedName"`
	OriginalName string         `json:"originalName"`
	MimeType     string         `json:"mimeType"`
	Size         int64          `json:"size"`
	UploadedAt   time.Time      `json:"uploadedAt"`
	Category     Category       `json:"category"`
	Tags         []string       `json:"tags"`
	Metadata     map[string]any `json:"metadata"`
	Permissions  Permissions    `json:"permissions"`
	DownloadURL  string         `json:"downloadUrl"`
	ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
}

// Clone returns a deep copy of the record.
func (f *FileRecord) Clone() *FileRecord {
	if f == nil {
		return nil
	}
	c := *f
	c.Tags = slices.Clone(f.Tags)
	if f.Metadata != nil {
		c.Metadata = cloneMap(f.Metadata)
	}
	c.Permissions.AllowedUsers = slices.Clone(f.Permissions.AllowedUsers)
	if f.Permissions.ExpiresAt != nil {
		t := *f.Permissions.ExpiresAt
		c.Permissions.ExpiresAt = &t
	}
	return &c
}

// ApplyUpdate runs fn against a copy of rec and returns the copy. Fields fixed
// at creation are restored afterwards, so fn can only change tags, metadata
// and permissions.
func ApplyUpdate(rec *FileRecord, fn func(*FileRecord) error) (*FileRecord, error) {
	updated := rec.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = rec.ID
	updated.StoredName = rec.StoredName
	updated.OriginalName = rec.OriginalName
	updated.MimeType = rec.MimeType
	updated.Size = rec.Size
	updated.UploadedAt = rec.UploadedAt
	updated.Category = rec.Category
	updated.DownloadURL = rec.DownloadURL
	updated.ThumbnailURL = rec.ThumbnailURL
	updated.Tags = dedupeTags(updated.Tags)
	return updated, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// dedupeTags drops repeated tags, keeping the first occurrence
func dedupeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
