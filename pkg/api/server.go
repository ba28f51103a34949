package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"randooprun/pkg/api/middleware"
	"randooprun/pkg/logger"
	"randooprun/pkg/metrics"
	"randooprun/pkg/storage"
)

// Server is the read-mostly status API served in scheduler mode.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	history  *History
	logStore storage.LogStore
	trigger  Trigger
	baseCtx  context.Context
}

// Trigger starts generation rounds on demand. Launch must fail with
// scheduler.ErrRoundInProgress while a round is running.
type Trigger interface {
	Launch(ctx context.Context) (<-chan error, error)
	Running() bool
}

// Config holds API server configuration.
type Config struct {
	Addr        string
	ServiceName string
	History     *History

	// LogStore serves stored run output; nil disables the log endpoint.
	LogStore storage.LogStore

	// Trigger starts a generation round; nil disables manual triggers.
	Trigger Trigger

	// BaseContext is passed to Trigger. Defaults to context.Background.
	BaseContext context.Context
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	if cfg.History == nil {
		cfg.History = NewHistory(DefaultHistorySize)
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "randooprun"
	}

	log := logger.Get().With(zap.String("component", "api"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.BodySizeLimitMiddleware(1 << 16))

	s := &Server{
		router:   router,
		log:      log,
		history:  cfg.History,
		logStore: cfg.LogStore,
		trigger:  cfg.Trigger,
		baseCtx:  cfg.BaseContext,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("Starting status server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
			runs.GET("/:id/log", s.getRunLog)
		}

		limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		v1.POST("/trigger", limiter.Middleware(), s.triggerRound)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"runs":      s.history.Len(),
		"running":   s.trigger != nil && s.trigger.Running(),
		"timestamp": time.Now().UTC(),
		"dependencies": gin.H{
			"log_store": s.logStore != nil,
			"scheduler": s.trigger != nil,
		},
	}
	if last, ok := s.history.Last(); ok {
		body["last_run"] = toRunResponse(last)
	}
	c.JSON(http.StatusOK, body)
}
