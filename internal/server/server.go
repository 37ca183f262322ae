// Package server is the thin HTTP adapter over the image pipeline. It
// translates requests into typed pipeline calls and taxonomy errors into
// status codes; no image logic lives here.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Muizzyranking/shopifyte-api/internal/models"
	"github.com/Muizzyranking/shopifyte-api/internal/pipeline"
)

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
	srv      *http.Server
}

func NewServer(cfg *models.Config, p *pipeline.Pipeline, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(log), gin.Recovery())

	s := &Server{cfg: cfg, router: r, pipeline: p, log: log}

	api := r.Group("/api/images")
	api.POST("/upload", s.handleUpload)
	api.GET("", s.handleList)
	api.GET("/:id", s.handleGetMetadata)
	api.PATCH("/:id", s.handleUpdateMetadata)
	api.DELETE("/:id", s.handleDelete)
	api.GET("/serve/:id", s.handleServe)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return s
}

func (s *Server) Start() error {
	s.srv = &http.Server{Addr: s.cfg.ServerAddr, Handler: s.router}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Stop() {
	if s.srv != nil {
		_ = s.srv.Close()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}

// statusFor maps the error taxonomy to HTTP status codes. MissingBlob is a
// server-side integrity failure, never the client's fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidImage), errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": publicMessage(err, status)})
}

func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	for _, sentinel := range []error{
		models.ErrPayloadTooLarge, models.ErrInvalidImage, models.ErrUnsupportedFormat,
		models.ErrNotFound, models.ErrForbidden,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
