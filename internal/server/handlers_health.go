package server

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/version"
)

var errNotAcceptingConnections = errors.New("hub is not accepting connections")

// redisHealthChecker is the minimal surface for Redis health checks.
type redisHealthChecker interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
		"state":  s.hub.State().String(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"redis", s.checkRedis},
		{"hub", s.checkHub},
	}

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.name,
				"error":        err.Error(),
			})
		}
	}

	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) checkRedis(ctx context.Context) error {
	var checker redisHealthChecker = s.redis
	return checker.Ping(ctx)
}

func (s *Server) checkHub(context.Context) error {
	if s.hub.State() != hub.StateRunning {
		return errNotAcceptingConnections
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}
