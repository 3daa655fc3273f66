package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavel-fokin/files-registry/internal/files"
)

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files
const multipartMemory = 32 << 20

type listResponse struct {
	Files      []*files.FileRecord `json:"files"`
	Pagination files.Pagination    `json:"pagination"`
}

type deleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func uploadFile(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := parseMultipart(r)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}
		defer form.RemoveAll()

		headers := form.File["file"]
		if len(headers) == 0 {
			writeError(w, r, cfg, fmt.Errorf("%w: no file provided", files.ErrInvalidParameter))
			return
		}

		if len(headers) > 1 {
			writeError(w, r, cfg, fmt.Errorf("%w: expected one file, got %d; use /files/batch", files.ErrInvalidParameter, len(headers)))
			return
		}

		records, err := upload(r, fileService, headers)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		slog.Info("File uploaded", "file_id", records[0].ID, "filename", records[0].OriginalName, "size", records[0].Size)
		writeJSON(w, http.StatusCreated, records[0])
	}
}

func uploadFiles(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := parseMultipart(r)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}
		defer form.RemoveAll()

		var headers []*multipart.FileHeader
		headers = append(headers, form.File["files[]"]...)
		headers = append(headers, form.File["files"]...)

		records, err := upload(r, fileService, headers)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		slog.Info("Files uploaded", "count", len(records))
		writeJSON(w, http.StatusCreated, records)
	}
}

func listFiles(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, err := intParam(q, "page", files.DefaultPage)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}
		limit, err := intParam(q, "limit", files.DefaultLimit)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		records, pagination, err := fileService.List(r.Context(), page, limit)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		writeJSON(w, http.StatusOK, listResponse{Files: records, Pagination: pagination})
	}
}

func searchFiles(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parseSearchParams(r.URL.Query())
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		records, pagination, err := fileService.Search(r.Context(), params)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		writeJSON(w, http.StatusOK, listResponse{Files: records, Pagination: pagination})
	}
}

func fileInfo(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := fileService.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

func downloadFile(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		slog.Info("Downloading file", "file_id", id)

		rec, content, err := fileService.Open(r.Context(), id)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}
		defer content.Close()

		serveContent(w, rec, content, "attachment")
	}
}

func thumbnail(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := fileService.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}
		if rec.Category != files.CategoryImage {
			writeError(w, r, cfg, fmt.Errorf("%w: file %s has no thumbnail", files.ErrNotFound, id))
			return
		}

		rec, content, err := fileService.Open(r.Context(), id)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}
		defer content.Close()

		serveContent(w, rec, content, "inline")
	}
}

func updateFile(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var patch files.MetadataPatch
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, r, cfg, err)
				return
			}
			writeError(w, r, cfg, fmt.Errorf("%w: %v", files.ErrMalformedPayload, err))
			return
		}

		rec, err := fileService.UpdateMetadata(r.Context(), id, patch)
		if err != nil {
			writeError(w, r, cfg, err)
			return
		}

		slog.Info("File metadata updated", "file_id", id)
		writeJSON(w, http.StatusOK, rec)
	}
}

func deleteFile(cfg *Config, fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		slog.Info("Deleting file", "file_id", id)

		if _, err := fileService.Delete(r.Context(), id); err != nil {
			writeError(w, r, cfg, err)
			return
		}

		writeJSON(w, http.StatusOK, deleteResponse{Message: "File deleted successfully", ID: id})
	}
}

func parseMultipart(r *http.Request) (*multipart.Form, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to parse multipart form: %v", files.ErrInvalidParameter, err)
	}
	return r.MultipartForm, nil
}

// upload opens the form files and hands them to the service. The opened
// parts are closed once the service is done with them.
func upload(r *http.Request, fileService *files.Service, headers []*multipart.FileHeader) ([]*files.FileRecord, error) {
	reqs := make([]*files.UploadRequest, 0, len(headers))
	defer func() {
		for _, req := range reqs {
			if c, ok := req.Content.(io.Closer); ok {
				c.Close()
			}
		}
	}()

	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", files.ErrInvalidParameter, header.Filename, err)
		}
		reqs = append(reqs, &files.UploadRequest{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Size:     header.Size,
			Content:  file,
		})
	}

	attrs := files.UploadAttributes{
		Tags:        r.FormValue("tags"),
		Metadata:    r.FormValue("metadata"),
		Permissions: r.FormValue("permissions"),
	}
	return fileService.Upload(r.Context(), reqs, attrs)
}

func serveContent(w http.ResponseWriter, rec *files.FileRecord, content io.Reader, disposition string) {
	contentDisposition := mime.FormatMediaType(disposition, map[string]string{"filename": rec.OriginalName})
	if contentDisposition == "" {
		contentDisposition = disposition
	}

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", contentDisposition)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content); err != nil {
		slog.Warn("Failed to stream file", "file_id", rec.ID, "error", err)
	}
}

func parseSearchParams(q url.Values) (files.SearchParams, error) {
	page, err := intParam(q, "page", files.DefaultPage)
	if err != nil {
		return files.SearchParams{}, err
	}
	limit, err := intParam(q, "limit", files.DefaultLimit)
	if err != nil {
		return files.SearchParams{}, err
	}
	sortBy, err := files.ParseSortField(q.Get("sortBy"))
	if err != nil {
		return files.SearchParams{}, err
	}
	sortOrder, err := files.ParseSortOrder(q.Get("sortOrder"))
	if err != nil {
		return files.SearchParams{}, err
	}

	var fileTypes []string
	for _, key := range []string{"fileTypes", "fileTypes[]"} {
		for _, v := range q[key] {
			fileTypes = append(fileTypes, strings.Split(v, ",")...)
		}
	}

	return files.SearchParams{
		Query:     q.Get("query"),
		FileTypes: fileTypes,
		Category:  q.Get("category"),
		SortBy:    sortBy,
		SortOrder: sortOrder,
		Page:      page,
		Limit:     limit,
	}, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", files.ErrInvalidParameter, key)
	}
	return n, nil
}
