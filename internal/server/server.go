// Package server is the HTTP surface: track streaming, host connection tests,
// library scans, pool control, metrics and health.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joe/seedstream/internal/catalog"
	pkgerrors "github.com/joe/seedstream/pkg/errors"
	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/stream"
)

//nolint:gochecknoglobals // Package logger, as loggo intends
var logger = loggo.GetLogger("seedstream.server")

const requestIDKey = "requestID"

// Options wires a Server to its collaborators.
type Options struct {
	Catalog *catalog.Catalog
	Pool    *filesystem.ConnectionPool
	Proxy   *stream.Proxy

	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer

	// ConnectOptions is used for connection tests, which bypass the pool.
	ConnectOptions filesystem.ConnectOptions
}

// Server routes HTTP requests.
type Server struct {
	catalog     *catalog.Catalog
	pool        *filesystem.ConnectionPool
	proxy       *stream.Proxy
	connectOpts filesystem.ConnectOptions
	enricher    pkgerrors.Enricher
	engine      *gin.Engine
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	proxy := opts.Proxy
	if proxy == nil {
		proxy = stream.NewProxy(nil)
	}

	s := &Server{
		catalog:     opts.Catalog,
		pool:        opts.Pool,
		proxy:       proxy,
		connectOpts: opts.ConnectOptions,
		enricher:    pkgerrors.NewEnricher(),
		engine:      gin.New(),
	}

	s.engine.Use(requestID(), accessLog(), recovery())
	s.setupRoutes(gatherer)

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	api := s.engine.Group("/api")

	api.GET("/tracks/:id/stream", s.streamTrack)
	api.HEAD("/tracks/:id/stream", s.streamTrack)

	api.POST("/hosts/:id/test", s.testConnection)
	api.POST("/hosts/:id/scan", s.scanHost)
	api.DELETE("/hosts/:id/connection", s.evictConnection)
	api.DELETE("/hosts/:id/fingerprint", s.forgetFingerprint)

	api.POST("/library/scan", s.scanLocal)

	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/healthz", s.health)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.pool.Len()})
}

// requestID tags every request with an id, reusing one the client sent.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(stream.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			c.Request.Header.Set(stream.RequestIDHeader, id)
		}

		c.Set(requestIDKey, id)
		c.Header(stream.RequestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Infof("[%s] %s %s %d %dB %s",
			c.GetString(requestIDKey),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			max(c.Writer.Size(), 0),
			time.Since(start).Round(time.Microsecond),
		)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Errorf("[%s] panic serving %s: %v", c.GetString(requestIDKey), c.Request.URL.Path, recovered)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
