package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"netsentry/internal/server/api"
	"netsentry/internal/server/storage"
)

type Config struct {
	ListenAddr string
}

type Deps struct {
	Store   storage.Store
	State   api.LiveState
	Info    api.SystemInfoProvider
	Chat    api.Responder
	Metrics http.Handler
	Log     *zap.Logger
}

// Server 只负责 HTTP 层；存储的生命周期由调用方管理。
type Server struct {
	httpServer *http.Server
}

func NewServer(cfg Config, d Deps) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":5000"
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewRouter(d, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func NewRouter(d Deps, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics))
	}

	h := api.NewHandlers(d.Store, d.State, d.Info, d.Chat, log)
	h.Register(router.Group("/api/v1"))
	return router
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.With(zap.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
