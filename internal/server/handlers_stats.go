package server

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
)

// handleStats serves a point-in-time view of the registry and the admission
// limits, for dashboards and debugging.
func (s *Server) handleStats(c echo.Context) error {
	stats := s.hub.Stats()

	return c.JSON(200, map[string]any{
		"hub": stats,
		"connections": map[string]any{
			"current":    s.limits.Global().Current(),
			"capacity":   s.limits.Global().CapacityPct(),
			"unique_ips": s.limits.PerIP().UniqueIPs(),
		},
		"state": s.hub.State().String(),
	})
}

// handleClient serves one connection's snapshot: its metadata as captured at
// connect time plus its current subscriptions.
func (s *Server) handleClient(c echo.Context) error {
	client, err := s.hub.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, hub.ErrClientNotFound) {
			return c.JSON(404, map[string]string{"error": "client not found"})
		}
		return c.JSON(503, map[string]string{"error": err.Error()})
	}

	return c.JSON(200, map[string]any{
		"id":            client.ID(),
		"metadata":      client.Metadata(),
		"subscriptions": s.hub.Subscriptions(client.ID()),
	})
}
