package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/config"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/redis"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		RedisURL:                "redis://localhost:6379",
		HeartbeatInterval:       30 * time.Second,
		StalenessThreshold:      60 * time.Second,
		DrainTimeout:            2 * time.Second,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionsPerSecond:    1000,
		ConnectionBurst:         1000,
	}
}

// testServer builds a Server on an httptest listener. The Redis client
// points at a closed port; only the readiness probe dials it.
func testServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server, *hub.Hub) {
	t.Helper()

	h := hub.New(hub.Options{DrainTimeout: cfg.DrainTimeout})
	t.Cleanup(func() { h.Stop() })

	redisClient, err := redis.NewClient("redis://127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	srv := NewServer(cfg, h, redisClient)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	return srv, ts, h
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHandleLiveness(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	status, body := getJSON(t, ts.URL+"/health/live")
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "running", body["state"])
}

func TestHandleReadiness_RedisDown(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	status, body := getJSON(t, ts.URL+"/health/ready")
	assert.Equal(t, 503, status)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "redis", body["failed_check"])
}

func TestHandleVersion(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	status, body := getJSON(t, ts.URL+"/version")
	assert.Equal(t, 200, status)
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["go_version"])
}

func TestHandleStats(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	conn := dialWS(t, ts)
	readMessage(t, conn) // welcome

	status, body := getJSON(t, ts.URL+"/api/stats")
	assert.Equal(t, 200, status)
	assert.Equal(t, "running", body["state"])

	hubStats := body["hub"].(map[string]any)
	assert.Equal(t, 1.0, hubStats["total_clients"])

	conns := body["connections"].(map[string]any)
	assert.Equal(t, 1.0, conns["current"])
}

func TestHandleClient(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	conn := dialWS(t, ts)
	welcome := readMessage(t, conn)
	clientID := welcome["data"].(map[string]any)["clientId"].(string)

	sub, _ := json.Marshal(map[string]any{
		"type": "subscribe",
		"data": map[string]any{"channel": "market_news"},
	})
	require.NoError(t, conn.WriteMessage(ws.TextMessage, sub))
	readMessage(t, conn) // ack

	status, body := getJSON(t, ts.URL+"/api/clients/"+clientID)
	assert.Equal(t, 200, status)
	assert.Equal(t, clientID, body["id"])
	assert.Equal(t, []any{"market_news"}, body["subscriptions"])

	meta := body["metadata"].(map[string]any)
	assert.NotEmpty(t, meta["remote_addr"])
	assert.NotEmpty(t, meta["connected_at"])
}

func TestHandleClient_NotFound(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	status, body := getJSON(t, ts.URL+"/api/clients/nope")
	assert.Equal(t, 404, status)
	assert.Equal(t, "client not found", body["error"])
}

func TestHandleMetricsEndpoint(t *testing.T) {
	_, ts, _ := testServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHandleWebSocket_EndToEnd(t *testing.T) {
	_, ts, h := testServer(t, testConfig())

	conn := dialWS(t, ts)

	welcome := readMessage(t, conn)
	assert.Equal(t, "system_notification", welcome["type"])
	data := welcome["data"].(map[string]any)
	assert.Equal(t, "connected", data["message"])

	// Subscribe, then receive a broadcast through the full stack.
	sub, _ := json.Marshal(map[string]any{
		"type": "subscribe",
		"data": map[string]any{"channel": "stock_prices", "symbols": []string{"AAPL"}},
	})
	require.NoError(t, conn.WriteMessage(ws.TextMessage, sub))
	readMessage(t, conn) // ack

	count := h.Broadcast("stock_prices:AAPL", hub.Message{Type: hub.TypeStockUpdate, Data: map[string]any{"symbol": "AAPL"}})
	assert.Equal(t, 1, count)

	update := readMessage(t, conn)
	assert.Equal(t, "stock_update", update["type"])
}

func TestHandleWebSocket_DisconnectReleasesLimits(t *testing.T) {
	srv, ts, h := testServer(t, testConfig())

	conn := dialWS(t, ts)
	readMessage(t, conn)
	require.Equal(t, int64(1), srv.limits.Global().Current())

	conn.Close()
	require.Eventually(t, func() bool {
		return srv.limits.Global().Current() == 0 && h.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHandleWebSocket_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionsPerSecond = 1
	cfg.ConnectionBurst = 1
	_, ts, _ := testServer(t, cfg)

	conn := dialWS(t, ts)
	readMessage(t, conn)

	// Second dial from the same source within the burst window is refused
	// before the upgrade with 429.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHandleWebSocket_RejectedDuringDrain(t *testing.T) {
	_, ts, h := testServer(t, testConfig())

	h.Stop()

	// The upgrade succeeds, then the refusal arrives as a 1013 close frame.
	conn := dialWS(t, ts)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseTryAgainLater, closeErr.Code)
}
