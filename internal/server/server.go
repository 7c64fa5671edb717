package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"taxoai/internal/config"
	"taxoai/internal/server/handlers"
)

// Dependencies 服务器依赖
type Dependencies struct {
	Handlers handlers.Dependencies
	// Gatherer /metrics 使用的指标来源，为 nil 时使用默认注册表
	Gatherer prometheus.Gatherer
}

// Server HTTP 服务器
type Server struct {
	config     *config.ServerConfig
	router     *gin.Engine
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer 创建新的 HTTP 服务器
func NewServer(cfg *config.ServerConfig, deps Dependencies) *Server {
	logger := deps.Handlers.Logger
	if logger == nil {
		logger = zap.NewNop()
		deps.Handlers.Logger = logger
	}

	// 设置 gin 模式
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(logger))
	router.Use(gin.Recovery())

	NewRouter(router, handlers.New(deps.Handlers), cfg.Auth, deps.Gatherer).SetupRoutes()

	return &Server{
		config: cfg,
		router: router,
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler 返回路由，供测试使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("HTTP server is disabled, skipping startup")
		return nil
	}

	s.logger.Info("starting HTTP server",
		zap.String("host", s.config.Host),
		zap.Int("port", s.config.Port),
		zap.String("mode", s.config.Mode),
		zap.Bool("auth", s.config.Auth.JWTSecret != ""),
	)

	// 在 goroutine 中启动服务器
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down HTTP server", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
