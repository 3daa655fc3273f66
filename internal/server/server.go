package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavel-fokin/files-registry/internal/cache"
	"github.com/pavel-fokin/files-registry/internal/files"
	"github.com/pavel-fokin/files-registry/internal/fs"
	"github.com/pavel-fokin/files-registry/internal/memory"
	"github.com/pavel-fokin/files-registry/internal/minio"
	"github.com/pavel-fokin/files-registry/internal/sqlite"
)

const envProduction = "production"

type Config struct {
	Addr            string        `env:"FILES_REGISTRY_ADDR" envDefault:":8080"`
	Env             string        `env:"FILES_REGISTRY_ENV" envDefault:"development"`
	LogLevel        slog.Level    `env:"FILES_REGISTRY_LOG_LEVEL" envDefault:"info"`
	DataDir         string        `env:"FILES_REGISTRY_DATA_DIR" envDefault:"./data"`
	BlobBackend     string        `env:"FILES_REGISTRY_BLOB_BACKEND" envDefault:"fs"`
	BlobTimeout     time.Duration `env:"FILES_REGISTRY_BLOB_TIMEOUT" envDefault:"30s"`
	RegistryBackend string        `env:"FILES_REGISTRY_REGISTRY_BACKEND" envDefault:"memory"`
	DBPath          string        `env:"FILES_REGISTRY_DB_PATH" envDefault:"./data/registry.db"`
	CacheSize       int           `env:"FILES_REGISTRY_CACHE_SIZE" envDefault:"1024"`
	CacheTTL        time.Duration `env:"FILES_REGISTRY_CACHE_TTL" envDefault:"5m"`
	MaxFileSize     int64         `env:"FILES_REGISTRY_MAX_FILE_SIZE" envDefault:"104857600"`
	MaxFiles        int           `env:"FILES_REGISTRY_MAX_FILES" envDefault:"10"`
	BaseURL         string        `env:"FILES_REGISTRY_BASE_URL"`
	CORSOrigins     []string      `env:"FILES_REGISTRY_CORS_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"FILES_REGISTRY_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MinIO           minio.Config  `envPrefix:"FILES_REGISTRY_MINIO_"`
}

// Server is the HTTP server together with the resources it owns
type Server struct {
	httpServer *http.Server
	closers    []func() error
}

func New(cfg *Config) (*Server, error) {
	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	srv := &Server{}

	// Initialize storage and registry
	storage, err := newStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	registry, err := srv.newRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	fileService := files.NewService(storage, registry, files.ServiceConfig{
		MaxFileSize: cfg.MaxFileSize,
		MaxFiles:    cfg.MaxFiles,
		BlobTimeout: cfg.BlobTimeout,
		BaseURL:     cfg.BaseURL,
	})

	srv.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewHandler(cfg, fileService),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return srv, nil
}

// NewHandler builds the router for the file service
func NewHandler(cfg *Config, fileService *files.Service) http.Handler {
	maxFileSize := cfg.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = files.DefaultMaxFileSize
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = files.DefaultMaxFiles
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/files", func(r chi.Router) {
		r.With(limitBody(maxFileSize+multipartOverhead)).Post("/", uploadFile(cfg, fileService))
		r.With(limitBody(int64(maxFiles+1)*maxFileSize+multipartOverhead)).Post("/batch", uploadFiles(cfg, fileService))
		r.Get("/", listFiles(cfg, fileService))
		r.Get("/search", searchFiles(cfg, fileService))
		r.Get("/{id}", downloadFile(cfg, fileService))
		r.Get("/{id}/info", fileInfo(cfg, fileService))
		r.Get("/{id}/thumbnail", thumbnail(cfg, fileService))
		r.With(limitBody(maxJSONBody)).Patch("/{id}", updateFile(cfg, fileService))
		r.Delete("/{id}", deleteFile(cfg, fileService))
	})

	return r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe serves until Shutdown is called
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the registry and storage resources
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.Close())
}

// Close releases resources without waiting for requests
func (s *Server) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newStorage(cfg *Config) (files.FileStorage, error) {
	switch cfg.BlobBackend {
	case "", "fs":
		return fs.NewStorage(cfg.DataDir), nil
	case "minio":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.BlobTimeout)
		defer cancel()
		return minio.NewStorage(ctx, cfg.MinIO)
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

func (s *Server) newRegistry(cfg *Config) (files.Registry, error) {
	var registry files.Registry
	switch cfg.RegistryBackend {
	case "", "memory":
		// Records already live in memory, a cache would only add copies.
		return memory.NewRegistry(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		repo, err := sqlite.NewRegistry(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, repo.Close)
		registry = repo
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}

	if cfg.CacheSize > 0 {
		registry = cache.NewRegistry(registry, cfg.CacheSize, cfg.CacheTTL)
	}
	return registry, nil
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
