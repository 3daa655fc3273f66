package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavel-fokin/files-registry/internal/files"
	_ "modernc.org/sqlite"
)

const fileColumns = `id, stored_name, original_name, mime_type, size, uploaded_at, category,
	tags, metadata, is_public, allowed_users, expires_at, download_url, thumbnail_url`

// Registry implements files.Registry using SQLite
type Registry struct {
	db *sql.DB
}

// NewRegistry opens the database at dbPath and prepares the schema
func NewRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps transactions simple.
	db.SetMaxOpenConns(1)

	reg := &Registry{db: db}

	if err := reg.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return reg, nil
}

// Close closes the database connection
func (r *Registry) Close() error {
	return r.db.Close()
}

// initSchema creates the necessary database tables
func (r *Registry) initSchema() error {
	createTablesQuery := `
	CREATE TABLE IF NOT EXISTS files (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		stored_name TEXT NOT NULL,
		original_name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		uploaded_at DATETIME NOT NULL,
		category TEXT NOT NULL,
		tags TEXT NOT NULL,
		metadata TEXT NOT NULL,
		is_public INTEGER NOT NULL DEFAULT 0,
		allowed_users TEXT NOT NULL,
		expires_at DATETIME,
		download_url TEXT NOT NULL,
		thumbnail_url TEXT
	);
	CREATE TABLE IF NOT EXISTS retired_ids (
		id TEXT PRIMARY KEY
	);`
	if _, err := r.db.Exec(createTablesQuery); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Insert stores file metadata
func (r *Registry) Insert(ctx context.Context, rec *files.FileRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id is required", files.ErrInvalidParameter)
	}

	tags, metadata, allowedUsers, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var used bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE id = ?) OR EXISTS(SELECT 1 FROM retired_ids WHERE id = ?)`,
		rec.ID, rec.ID,
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("failed to check file id: %w", err)
	}
	if used {
		return fmt.Errorf("%w: %s", files.ErrDuplicateID, rec.ID)
	}

	query := fmt.Sprintf(`INSERT INTO files (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, fileColumns)
	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		rec.StoredName,
		rec.OriginalName,
		rec.MimeType,
		rec.Size,
		rec.UploadedAt,
		string(rec.Category),
		tags,
		metadata,
		rec.Permissions.IsPublic,
		allowedUsers,
		nullTime(rec.Permissions.ExpiresAt),
		rec.DownloadURL,
		nullString(rec.ThumbnailURL),
	)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file record: %w", err)
	}
	return nil
}

// Get retrieves file metadata by ID
func (r *Registry) Get(ctx context.Context, id string) (*files.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: file %s", files.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return rec, nil
}

// Remove deletes file metadata by ID and retires the ID
func (r *Registry) Remove(ctx context.Context, id string) (*files.FileRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns)
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: file %s", files.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete file record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO retired_ids (id) VALUES (?)`, id); err != nil {
		return nil, fmt.Errorf("failed to retire file id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit file removal: %w", err)
	}
	return rec, nil
}

// List retrieves all file metadata in insertion order
func (r *Registry) List(ctx context.Context) ([]*files.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files ORDER BY seq ASC`, fileColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	fileList := []*files.FileRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		fileList = append(fileList, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file rows: %w", err)
	}

	return fileList, nil
}

// Count returns the number of stored records
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// Update applies fn to the record and writes back its mutable columns
func (r *Registry) Update(ctx context.Context, id string, fn func(*files.FileRecord) error) (*files.FileRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns)
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: file %s", files.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}

	updated, err := files.ApplyUpdate(rec, fn)
	if err != nil {
		return nil, err
	}

	tags, metadata, allowedUsers, err := encodeJSONColumns(updated)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE files
	SET tags = ?, metadata = ?, is_public = ?, allowed_users = ?, expires_at = ?
	WHERE id = ?`,
		tags,
		metadata,
		updated.Permissions.IsPublic,
		allowedUsers,
		nullTime(updated.Permissions.ExpiresAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit file update: %w", err)
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*files.FileRecord, error) {
	var (
		rec          files.FileRecord
		category     string
		tags         string
		metadata     string
		allowedUsers string
		expiresAt    sql.NullTime
		thumbnailURL sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.StoredName,
		&rec.OriginalName,
		&rec.MimeType,
		&rec.Size,
		&rec.UploadedAt,
		&category,
		&tags,
		&metadata,
		&rec.Permissions.IsPublic,
		&allowedUsers,
		&expiresAt,
		&rec.DownloadURL,
		&thumbnailURL,
	)
	if err != nil {
		return nil, err
	}

	rec.Category = files.Category(category)
	if thumbnailURL.Valid {
		rec.ThumbnailURL = thumbnailURL.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.Permissions.ExpiresAt = &t
	}
	rec.UploadedAt = rec.UploadedAt.UTC()

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(allowedUsers), &rec.Permissions.AllowedUsers); err != nil {
		return nil, fmt.Errorf("failed to decode allowed users of %s: %w", rec.ID, err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	if rec.Permissions.AllowedUsers == nil {
		rec.Permissions.AllowedUsers = []string{}
	}

	return &rec, nil
}

func encodeJSONColumns(rec *files.FileRecord) (tags, metadata, allowedUsers string, err error) {
	t := rec.Tags
	if t == nil {
		t = []string{}
	}
	m := rec.Metadata
	if m == nil {
		m = map[string]any{}
	}
	u := rec.Permissions.AllowedUsers
	if u == nil {
		u = []string{}
	}

	tagsJSON, err := json.Marshal(t)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode tags: %w", err)
	}
	metadataJSON, err := json.Marshal(m)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: metadata is not JSON encodable: %v", files.ErrMalformedPayload, err)
	}
	usersJSON, err := json.Marshal(u)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode allowed users: %w", err)
	}
	return string(tagsJSON), string(metadataJSON), string(usersJSON), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
