// Package api exposes the worker's intra-cluster HTTP surface: liveness
// and readiness probes, a per-vectorizer status endpoint mirroring spec
// §6's status view, and the Prometheus metrics handler. Grounded on
// rag-loader's cmd/loader/main.go startAPIServer/startHealthServer split,
// but with no JWT-authenticated surface: this worker has no inbound
// tenant-facing API, only a cluster-internal status/health port.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/observability"
	"github.com/vectorpipe/embedworker/internal/queue"
)

// VectorizerStatus is the JSON shape returned by GET /vectorizers/:id/status.
type VectorizerStatus struct {
	ID            int64  `json:"id"`
	Disabled      bool   `json:"disabled"`
	SourceTable   string `json:"source_table"`
	TargetTable   string `json:"target_table"`
	PendingCount  int64  `json:"pending_count"`
	EmbeddingImpl string `json:"embedding_implementation"`
}

// Server wraps the gin router serving the status surface plus /healthz,
// /ready, and /metrics.
type Server struct {
	db     *sqlx.DB
	cat    *catalog.Catalog
	logger observability.Logger
}

// NewServer constructs an api.Server bound to the catalog and connection
// pool it reports on.
func NewServer(db *sqlx.DB, cat *catalog.Catalog, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	return &Server{db: db, cat: cat, logger: logger.WithPrefix("api")}
}

// Router builds the gin engine. Exposed separately from Listen so tests can
// drive it with httptest without binding a port.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/ready", s.handleReady)
	r.GET("/vectorizers/:id/status", s.handleVectorizerStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Listen starts an http.Server on addr and returns it so the caller can
// Shutdown it during graceful shutdown, the way rag-loader's main does.
func (s *Server) Listen(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		s.logger.Info("starting status server", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	return srv
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleReady(c *gin.Context) {
	s.handleHealthz(c)
}

func (s *Server) handleVectorizerStatus(c *gin.Context) {
	idStr := c.Param("id")
	var id int64
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vectorizer id"})
		return
	}

	v, err := s.cat.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	q := queue.New(s.db, v)
	pending, err := q.PendingCount(c.Request.Context(), true)
	if err != nil {
		s.logger.Warn("pending count failed", map[string]interface{}{"vectorizer_id": id, "error": err.Error()})
	}

	c.JSON(http.StatusOK, VectorizerStatus{
		ID: v.ID, Disabled: v.Disabled,
		SourceTable: v.Source().String(), TargetTable: v.Target().String(),
		PendingCount: pending, EmbeddingImpl: v.Config.Embedding.Implementation,
	})
}
