package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netmon/internal/logging"
	"netmon/internal/models"
)

// Store is the read side the API serves from. The API never writes.
type Store interface {
	models.Reader
	HeatmapData(ctx context.Context, days int) ([]models.HeatmapPoint, error)
	Count(ctx context.Context) (probes, throughput int64, err error)
}

// Options configure the web server
type Options struct {
	Port      int
	StaticDir string
	Datasets  []models.Dataset
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server handles web requests
type Server struct {
	store     Store
	opts      Options
	logger    *slog.Logger
	server    *http.Server
	now       func() time.Time
	startedAt time.Time
}

// New creates a new web server
func New(store Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:     store,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		startedAt: time.Now(),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// API endpoints
	r.Get("/api/recent", s.handleRecent)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/outages", s.handleOutages)
	r.Get("/api/heatmap", s.handleHeatmap)
	r.Get("/api/snapshot", s.handleSnapshot)
	r.Get("/health", s.handleHealth)

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// Static dashboard files
	if s.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.StaticDir)))
	}

	return r
}

// Start starts the web server in the background
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("web server starting", "port", s.opts.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server error", logging.Err(err))
		}
	}()

	return nil
}

// Stop shuts the server down, waiting for open requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
