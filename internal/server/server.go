package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/config"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/redis"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *hub.Hub
	limits    *ConnectionLimits
	redis     *redis.Client
	startTime time.Time
}

func NewServer(cfg *config.Config, h *hub.Hub, redisClient *redis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	srv := &Server{
		echo:   e,
		config: cfg,
		hub:    h,
		limits: NewConnectionLimits(
			int64(cfg.MaxWebSocketConnections),
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionsPerSecond,
			cfg.ConnectionBurst,
		),
		redis:     redisClient,
		startTime: time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
