package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard is served from multiple origins
	},
}

// handleWebSocket admits, upgrades and registers a dashboard connection,
// then runs the read pump until the client disconnects.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		slog.Warn("Connection rejected", "remote_ip", ip, "reason", reason)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "connection limit exceeded"})
	}
	defer s.limits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.Warn("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	meta := hub.Metadata{
		RemoteAddr:  ip,
		UserAgent:   c.Request().UserAgent(),
		ConnectedAt: time.Now(),
	}

	client, err := s.hub.Register(conn, meta)
	if err != nil {
		if errors.Is(err, hub.ErrShuttingDown) {
			metrics.WebSocketConnectionsRejected.WithLabelValues("shutting_down").Inc()
			// Already upgraded, so the refusal goes out as a close frame.
			rejectConn(conn, websocket.CloseTryAgainLater, "Server is shutting down")
		} else {
			slog.Error("Failed to register client", "remote_ip", ip, "error", err)
			rejectConn(conn, websocket.CloseInternalServerErr, "registration failed")
		}
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		return nil
	}

	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	start := time.Now()

	// Read pump. Every inbound frame is a control message for the hub;
	// transport errors end the connection.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.hub.HandleControl(client, raw)
	}

	s.hub.Unregister(client.ID())
	metrics.WebSocketConnectionDuration.Observe(time.Since(start).Seconds())
	return nil
}

func rejectConn(conn *websocket.Conn, closeCode int, reason string) {
	msg := websocket.FormatCloseMessage(closeCode, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
