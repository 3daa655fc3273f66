package files

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// SortField is a record field that search results can be ordered by
type SortField string

const (
	SortByUploadedAt   SortField = "uploadedAt"
	SortByOriginalName SortField = "originalName"
	SortByStoredName   SortField = "storedName"
	SortByMimeType     SortField = "mimeType"
	SortByCategory     SortField = "category"
	SortBySize         SortField = "size"
	SortByID           SortField = "id"
)

// SortOrder is the direction of a sort
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

var comparators = map[SortField]func(a, b *FileRecord) int{
	SortByUploadedAt: func(a, b *FileRecord) int { return a.UploadedAt.Compare(b.UploadedAt) },
	SortByOriginalName: func(a, b *FileRecord) int {
		return strings.Compare(a.OriginalName, b.OriginalName)
	},
	SortByStoredName: func(a, b *FileRecord) int { return strings.Compare(a.StoredName, b.StoredName) },
	SortByMimeType:   func(a, b *FileRecord) int { return strings.Compare(a.MimeType, b.MimeType) },
	SortByCategory: func(a, b *FileRecord) int {
		return strings.Compare(string(a.Category), string(b.Category))
	},
	SortBySize: func(a, b *FileRecord) int { return cmp.Compare(a.Size, b.Size) },
	SortByID:   func(a, b *FileRecord) int { return strings.Compare(a.ID, b.ID) },
}

// ParseSortField maps a query value to a SortField; empty means uploadedAt.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return SortByUploadedAt, nil
	}
	f := SortField(s)
	if _, ok := comparators[f]; !ok {
		return "", fmt.Errorf("%w: unknown sort field %q", ErrInvalidParameter, s)
	}
	return f, nil
}

// ParseSortOrder maps a query value to a SortOrder; empty means desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "":
		return SortDesc, nil
	case string(SortAsc):
		return SortAsc, nil
	case string(SortDesc):
		return SortDesc, nil
	}
	return "", fmt.Errorf("%w: unknown sort order %q", ErrInvalidParameter, s)
}

// SearchParams holds the recognized search options. Empty filters are not applied.
type SearchParams struct {
	Query     string
	FileTypes []string
	Category  string
	SortBy    SortField
	SortOrder SortOrder
	Page      int
	Limit     int
}

// Pagination describes the page returned by Search and Paginate
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Search filters, sorts and paginates records. The input slice is not modified.
//
// Filters are conjunctive. Within Query, a record matches on its original name
// or on any of its tags. The sort is stable in both directions.
func Search(records []*FileRecord, params SearchParams) ([]*FileRecord, Pagination, error) {
	sortBy := params.SortBy
	if sortBy == "" {
		sortBy = SortByUploadedAt
	}
	compare, ok := comparators[sortBy]
	if !ok {
		return nil, Pagination{}, fmt.Errorf("%w: unknown sort field %q", ErrInvalidParameter, sortBy)
	}
	order := params.SortOrder
	if order == "" {
		order = SortDesc
	}
	if order != SortAsc && order != SortDesc {
		return nil, Pagination{}, fmt.Errorf("%w: unknown sort order %q", ErrInvalidParameter, order)
	}
	if err := validatePage(params.Page, params.Limit); err != nil {
		return nil, Pagination{}, err
	}

	query := strings.ToLower(params.Query)
	fileTypes := nonEmpty(params.FileTypes)

	matched := make([]*FileRecord, 0, len(records))
	for _, rec := range records {
		if query != "" && !matchesQuery(rec, query) {
			continue
		}
		if len(fileTypes) > 0 && !matchesFileTypes(rec, fileTypes) {
			continue
		}
		if params.Category != "" && string(rec.Category) != params.Category {
			continue
		}
		matched = append(matched, rec)
	}

	slices.SortStableFunc(matched, func(a, b *FileRecord) int {
		if order == SortDesc {
			return compare(b, a)
		}
		return compare(a, b)
	})

	return Paginate(matched, params.Page, params.Limit)
}

// Paginate slices records into the requested 1-indexed page. Pages past the
// end are empty.
func Paginate(records []*FileRecord, page, limit int) ([]*FileRecord, Pagination, error) {
	if err := validatePage(page, limit); err != nil {
		return nil, Pagination{}, err
	}

	total := len(records)
	info := Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: total / limit,
	}
	if total%limit != 0 {
		info.TotalPages++
	}

	// Compared in pages so that large page or limit values cannot overflow.
	if page > info.TotalPages {
		return []*FileRecord{}, info, nil
	}
	start := (page - 1) * limit
	end := start + min(limit, total-start)

	out := make([]*FileRecord, end-start)
	copy(out, records[start:end])
	return out, info, nil
}

func validatePage(page, limit int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be a positive integer", ErrInvalidParameter)
	}
	if limit < 1 {
		return fmt.Errorf("%w: limit must be a positive integer", ErrInvalidParameter)
	}
	return nil
}

func matchesQuery(rec *FileRecord, query string) bool {
	if strings.Contains(strings.ToLower(rec.OriginalName), query) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func matchesFileTypes(rec *FileRecord, fileTypes []string) bool {
	for _, t := range fileTypes {
		if strings.Contains(rec.MimeType, t) {
			return true
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
