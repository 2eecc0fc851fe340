// Package httpapi exposes the reconciliation engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/trycompai/embedsync/internal/reconcile"
)

// Engine is the reconciliation surface the server exposes.
type Engine interface {
	SyncOrganization(ctx context.Context, orgID string) (*reconcile.Report, error)
	SyncSingleRecord(ctx context.Context, orgID string, kind reconcile.SourceType, sourceID string) (string, error)
	DeleteSourceEmbeddings(ctx context.Context, orgID string, kind reconcile.SourceType, sourceID string) (int, error)
	FindSimilar(ctx context.Context, orgID, query string, topK int, minScore float32) ([]reconcile.RankedResult, error)
	FindSimilarBatch(ctx context.Context, orgID string, queries []string, topK int, minScore float32) ([][]reconcile.RankedResult, error)
}

// Pinger reports backing-store connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server serves the embedding sync API.
type Server struct {
	echo   *echo.Echo
	engine Engine
	store  Pinger
	logger *zap.Logger
	config Config
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(engine Engine, store Pinger, logger *zap.Logger, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: engine,
		store:  store,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	orgs := v1.Group("/organizations/:orgId")
	orgs.POST("/sync", s.handleSyncOrganization)
	orgs.POST("/sources/:sourceType/:sourceId/sync", s.handleSyncSingleRecord)
	orgs.DELETE("/sources/:sourceType/:sourceId/embeddings", s.handleDeleteEmbeddings)
	orgs.POST("/search", s.handleSearch)
	orgs.POST("/search/batch", s.handleSearchBatch)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.store != nil {
		if err := s.store.Ping(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.Database = "ok"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSyncOrganization(c echo.Context) error {
	orgID := c.Param("orgId")

	report, err := s.engine.SyncOrganization(c.Request().Context(), orgID)
	if err != nil {
		s.logger.Error("organization sync failed",
			zap.String("organization_id", orgID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sync failed")
	}
	return c.JSON(http.StatusOK, report)
}

// SyncRecordResponse is the response body for single-record sync.
type SyncRecordResponse struct {
	EmbeddingID string `json:"embedding_id"`
}

func (s *Server) handleSyncSingleRecord(c echo.Context) error {
	orgID := c.Param("orgId")
	kind := reconcile.SourceType(c.Param("sourceType"))
	sourceID := c.Param("sourceId")

	embeddingID, err := s.engine.SyncSingleRecord(c.Request().Context(), orgID, kind, sourceID)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrUnknownSourceType):
			return echo.NewHTTPError(http.StatusBadRequest, "unknown source type")
		case errors.Is(err, reconcile.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "source record not found")
		case errors.Is(err, reconcile.ErrIndexNotConfigured):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "vector index not configured")
		}
		s.logger.Error("record sync failed",
			zap.String("organization_id", orgID),
			zap.String("source_type", string(kind)),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sync failed")
	}
	return c.JSON(http.StatusOK, SyncRecordResponse{EmbeddingID: embeddingID})
}

// DeleteEmbeddingsResponse is the response body for embedding deletion.
type DeleteEmbeddingsResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleDeleteEmbeddings(c echo.Context) error {
	orgID := c.Param("orgId")
	kind := reconcile.SourceType(c.Param("sourceType"))
	sourceID := c.Param("sourceId")

	removed, err := s.engine.DeleteSourceEmbeddings(c.Request().Context(), orgID, kind, sourceID)
	if err != nil {
		if errors.Is(err, reconcile.ErrUnknownSourceType) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown source type")
		}
		s.logger.Error("embedding deletion failed",
			zap.String("organization_id", orgID),
			zap.String("source_type", string(kind)),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "deletion failed")
	}
	return c.JSON(http.StatusOK, DeleteEmbeddingsResponse{Removed: removed})
}

// SearchRequest is the request body for POST search.
type SearchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore float32 `json:"min_score"`
}

// SearchResponse is the response body for POST search.
type SearchResponse struct {
	Results []reconcile.RankedResult `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	orgID := c.Param("orgId")

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	results, err := s.engine.FindSimilar(c.Request().Context(), orgID, req.Query, req.TopK, req.MinScore)
	if err != nil {
		s.logger.Error("search failed",
			zap.String("organization_id", orgID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if results == nil {
		results = []reconcile.RankedResult{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// BatchSearchRequest is the request body for POST search/batch.
type BatchSearchRequest struct {
	Queries  []string `json:"queries"`
	TopK     int      `json:"top_k"`
	MinScore float32  `json:"min_score"`
}

// BatchSearchResponse is the response body for POST search/batch.
type BatchSearchResponse struct {
	Results [][]reconcile.RankedResult `json:"results"`
}

func (s *Server) handleSearchBatch(c echo.Context) error {
	orgID := c.Param("orgId")

	var req BatchSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Queries) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one query is required")
	}

	results, err := s.engine.FindSimilarBatch(c.Request().Context(), orgID, req.Queries, req.TopK, req.MinScore)
	if err != nil {
		s.logger.Error("batch search failed",
			zap.String("organization_id", orgID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	for i := range results {
		if results[i] == nil {
			results[i] = []reconcile.RankedResult{}
		}
	}
	return c.JSON(http.StatusOK, BatchSearchResponse{Results: results})
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
