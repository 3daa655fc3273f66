package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/files-registry/internal/files"
)

const maxTestFileSize = 1024

type testFile struct {
	name     string
	mimeType string
	content  string
}

func setupTestServer(t *testing.T, registryBackend string) *httptest.Server {
	t.Helper()
	dataDir := t.TempDir()

	cfg := &Config{
		Env:             "development",
		DataDir:         filepath.Join(dataDir, "blobs"),
		BlobBackend:     "fs",
		BlobTimeout:     5 * time.Second,
		RegistryBackend: registryBackend,
		DBPath:          filepath.Join(dataDir, "db", "registry.db"),
		CacheSize:       16,
		CacheTTL:        time.Minute,
		MaxFileSize:     maxTestFileSize,
		MaxFiles:        10,
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func multipartBody(t *testing.T, field string, parts []testFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, p.name))
		h.Set("Content-Type", p.mimeType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(part, p.content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func do(t *testing.T, method, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestIntegration(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			testFileLifecycle(t, setupTestServer(t, backend))
		})
	}
}

func testFileLifecycle(t *testing.T, ts *httptest.Server) {
	// 1. Upload an image with tags and metadata
	var image files.FileRecord
	t.Run("Upload", func(t *testing.T) {
		body, contentType := multipartBody(t, "file",
			[]testFile{{"cat.png", "image/png", "png bytes"}},
			map[string]string{
				"tags":     `["pets", "cats", "pets"]`,
				"metadata": `{"camera": "x100"}`,
			},
		)
		resp := do(t, "POST", ts.URL+"/files", contentType, body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		image = decode[files.FileRecord](t, resp)
		require.NotEmpty(t, image.ID)
		assert.Equal(t, "cat.png", image.OriginalName)
		assert.Equal(t, int64(len("png bytes")), image.Size)
		assert.Equal(t, files.CategoryImage, image.Category)
		assert.Equal(t, []string{"pets", "cats"}, image.Tags)
		assert.Equal(t, "x100", image.Metadata["camera"])
		assert.Equal(t, "/files/"+image.ID, image.DownloadURL)
		assert.Equal(t, "/files/"+image.ID+"/thumbnail", image.ThumbnailURL)
	})

	// 2. Upload a text file and a batch of documents
	var notes files.FileRecord
	t.Run("Upload text", func(t *testing.T) {
		body, contentType := multipartBody(t, "file",
			[]testFile{{"notes.txt", "text/plain", "some notes"}},
			map[string]string{"tags": `["work"]`},
		)
		resp := do(t, "POST", ts.URL+"/files", contentType, body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		notes = decode[files.FileRecord](t, resp)
		assert.Equal(t, files.CategoryDocument, notes.Category)
		assert.Empty(t, notes.ThumbnailURL)
	})

	t.Run("Upload batch", func(t *testing.T) {
		body, contentType := multipartBody(t, "files[]",
			[]testFile{
				{"b.pdf", "application/pdf", "%PDF-b"},
				{"a.pdf", "application/pdf", "%PDF-a"},
			},
			map[string]string{"permissions": `{"isPublic": true}`},
		)
		resp := do(t, "POST", ts.URL+"/files/batch", contentType, body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		records := decode[[]files.FileRecord](t, resp)
		require.Len(t, records, 2)
		assert.Equal(t, "b.pdf", records[0].OriginalName)
		assert.Equal(t, "a.pdf", records[1].OriginalName)
		assert.True(t, records[0].Permissions.IsPublic)
		assert.NotEqual(t, records[0].ID, records[1].ID)
	})

	// 3. Rejected uploads leave the registry untouched
	t.Run("Upload rejected", func(t *testing.T) {
		tests := []struct {
			name         string
			path         string
			field        string
			parts        []testFile
			fields       map[string]string
			expectedCode int
		}{
			{
				name:         "disallowed type",
				path:         "/files",
				field:        "file",
				parts:        []testFile{{"archive.zip", "application/zip", "PK"}},
				expectedCode: http.StatusBadRequest,
			},
			{
				name:         "missing file",
				path:         "/files",
				field:        "other",
				parts:        []testFile{{"a.txt", "text/plain", "x"}},
				expectedCode: http.StatusBadRequest,
			},
			{
				name:         "file too large",
				path:         "/files",
				field:        "file",
				parts:        []testFile{{"big.txt", "text/plain", strings.Repeat("x", maxTestFileSize+1)}},
				expectedCode: http.StatusBadRequest,
			},
			{
				name:  "two files on single upload",
				path:  "/files",
				field: "file",
				parts: []testFile{
					{"a.txt", "text/plain", "a"},
					{"b.txt", "text/plain", "b"},
				},
				expectedCode: http.StatusBadRequest,
			},
			{
				name:         "malformed metadata",
				path:         "/files",
				field:        "file",
				parts:        []testFile{{"a.txt", "text/plain", "x"}},
				fields:       map[string]string{"metadata": "{not json"},
				expectedCode: http.StatusBadRequest,
			},
			{
				name:         "body too large",
				path:         "/files",
				field:        "file",
				parts:        []testFile{{"huge.txt", "text/plain", strings.Repeat("x", multipartOverhead+2*maxTestFileSize)}},
				expectedCode: http.StatusRequestEntityTooLarge,
			},
			{
				name:  "too many files",
				path:  "/files/batch",
				field: "files",
				parts: func() []testFile {
					parts := make([]testFile, 11)
					for i := range parts {
						parts[i] = testFile{fmt.Sprintf("f%d.txt", i), "text/plain", "x"}
					}
					return parts
				}(),
				expectedCode: http.StatusBadRequest,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				body, contentType := multipartBody(t, tt.field, tt.parts, tt.fields)
				resp := do(t, "POST", ts.URL+tt.path, contentType, body)
				assert.Equal(t, tt.expectedCode, resp.StatusCode)

				errBody := decode[errorResponse](t, resp)
				assert.NotEmpty(t, errBody.Error)
			})
		}

		resp := do(t, "GET", ts.URL+"/files", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[listResponse](t, resp)
		assert.Equal(t, 4, list.Pagination.Total)
	})

	// 4. Info and download
	t.Run("Info", func(t *testing.T) {
		resp := do(t, "GET", ts.URL+"/files/"+image.ID+"/info", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		info := decode[files.FileRecord](t, resp)
		assert.Equal(t, image.ID, info.ID)
		assert.Equal(t, image.Tags, info.Tags)
		assert.True(t, image.UploadedAt.Equal(info.UploadedAt))
	})

	t.Run("Download", func(t *testing.T) {
		resp := do(t, "GET", ts.URL+image.DownloadURL, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, `attachment; filename=cat.png`, resp.Header.Get("Content-Disposition"))

		content, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "png bytes", string(content))
	})

	t.Run("Thumbnail", func(t *testing.T) {
		resp := do(t, "GET", ts.URL+image.ThumbnailURL, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "inline"))

		resp = do(t, "GET", ts.URL+"/files/"+notes.ID+"/thumbnail", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	// 5. Search and list
	t.Run("Search", func(t *testing.T) {
		tests := []struct {
			query    string
			expected []string
		}{
			{"query=PETS", []string{"cat.png"}},
			{"fileTypes=pdf", []string{"a.pdf", "b.pdf"}},
			{"category=document&sortBy=originalName&sortOrder=asc", []string{"a.pdf", "b.pdf", "notes.txt"}},
			{"category=document&sortBy=originalName&sortOrder=desc&limit=1&page=2", []string{"b.pdf"}},
			{"query=work&category=image", nil},
			{"query=cat&limit=200", []string{"cat.png"}},
		}

		for _, tt := range tests {
			t.Run(tt.query, func(t *testing.T) {
				resp := do(t, "GET", ts.URL+"/files/search?"+tt.query, "", nil)
				require.Equal(t, http.StatusOK, resp.StatusCode)

				result := decode[listResponse](t, resp)
				var names []string
				for _, rec := range result.Files {
					names = append(names, rec.OriginalName)
				}
				if tt.query == "fileTypes=pdf" {
					assert.ElementsMatch(t, tt.expected, names)
				} else {
					assert.Equal(t, tt.expected, names)
				}
			})
		}

		for _, query := range []string{"limit=-1", "limit=0", "page=0", "page=abc", "sortBy=bogus"} {
			t.Run(query, func(t *testing.T) {
				resp := do(t, "GET", ts.URL+"/files/search?"+query, "", nil)
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			})
		}
	})

	t.Run("List", func(t *testing.T) {
		resp := do(t, "GET", ts.URL+"/files?page=1&limit=2", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decode[listResponse](t, resp)
		assert.Equal(t, files.Pagination{Page: 1, Limit: 2, Total: 4, TotalPages: 2}, result.Pagination)
		require.Len(t, result.Files, 2)
		assert.Equal(t, image.ID, result.Files[0].ID)
		assert.Equal(t, notes.ID, result.Files[1].ID)

		resp = do(t, "GET", ts.URL+"/files?page=3&limit=2", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result = decode[listResponse](t, resp)
		assert.Empty(t, result.Files)
	})

	// 6. Update metadata
	t.Run("Update", func(t *testing.T) {
		resp := do(t, "PATCH", ts.URL+"/files/"+notes.ID, "application/json",
			strings.NewReader(`{"tags": ["work", "archive"], "permissions": {"isPublic": true, "allowedUsers": ["u1"]}}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		updated := decode[files.FileRecord](t, resp)
		assert.Equal(t, []string{"work", "archive"}, updated.Tags)
		assert.True(t, updated.Permissions.IsPublic)
		assert.Equal(t, []string{"u1"}, updated.Permissions.AllowedUsers)
		assert.Equal(t, notes.OriginalName, updated.OriginalName)

		resp = do(t, "GET", ts.URL+"/files/search?query=archive", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, decode[listResponse](t, resp).Pagination.Total)

		resp = do(t, "PATCH", ts.URL+"/files/"+notes.ID, "application/json", strings.NewReader(`{"size": 1}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = do(t, "PATCH", ts.URL+"/files/missing", "application/json", strings.NewReader(`{}`))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	// 7. Delete the image
	t.Run("Delete", func(t *testing.T) {
		resp := do(t, "DELETE", ts.URL+"/files/"+image.ID, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decode[deleteResponse](t, resp)
		assert.Equal(t, "File deleted successfully", result.Message)
		assert.Equal(t, image.ID, result.ID)
	})

	t.Run("After delete", func(t *testing.T) {
		for _, path := range []string{image.DownloadURL, image.DownloadURL + "/info", image.ThumbnailURL} {
			resp := do(t, "GET", ts.URL+path, "", nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}

		resp := do(t, "DELETE", ts.URL+"/files/"+image.ID, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = do(t, "GET", ts.URL+"/files/search?query=pets", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Zero(t, decode[listResponse](t, resp).Pagination.Total)
	})

	t.Run("Healthz and metrics", func(t *testing.T) {
		resp := do(t, "GET", ts.URL+"/healthz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(t, "GET", ts.URL+"/metrics", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "files_registry_uploads_total")
	})
}
