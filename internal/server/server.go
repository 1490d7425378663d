// Package server exposes the task subsystem over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskforge/internal/dispatch"
	"taskforge/internal/jsonx"
	"taskforge/internal/logging"
	"taskforge/internal/orchestrator"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

const shutdownGrace = 5 * time.Second

// Server hosts the REST and websocket API.
type Server struct {
	service *orchestrator.Service
	logger  logging.Logger
	engine  *gin.Engine
	http    *http.Server
}

// New builds the server and its route table. gatherer may be nil to drop
// the /metrics endpoint.
func New(addr string, service *orchestrator.Service, gatherer prometheus.Gatherer, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))

	s := &Server{
		service: service,
		logger:  logging.OrNop(logger),
		engine:  engine,
		http: &http.Server{
			Addr:    addr,
			Handler: engine,
		},
	}

	api := engine.Group("/api")
	api.POST("/tasks", s.handleSubmit)
	api.GET("/tasks", s.handleList)
	api.GET("/tasks/:id", s.handleGet)
	api.POST("/tasks/:id/cancel", s.handleCancel)
	api.DELETE("/tasks/:id", s.handleDelete)
	api.GET("/events", s.handleEvents)
	api.GET("/health", s.handleHealth)

	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests with a bounded grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.http.Shutdown(ctx)
}

type submitRequest struct {
	Type string           `json:"type"`
	Data jsonx.RawMessage `json:"data"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, err := s.service.Submit(c.Request.Context(), req.Type, req.Data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleList(c *gin.Context) {
	tasks, err := s.service.Tasks(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGet(c *gin.Context) {
	t, err := s.service.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.service.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps domain sentinels onto HTTP status codes. Unknown errors
// stay opaque to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation), errors.Is(err, dispatch.ErrUnknownTaskType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrTerminalState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
