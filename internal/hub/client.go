package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// readWait bounds how long a connection may stay silent before the transport
// read fails. It backs up the heartbeat sweep, so it is deliberately longer
// than the staleness threshold.
const readWait = 90 * time.Second

// Metadata is the immutable connection snapshot captured at connect time.
type Metadata struct {
	RemoteAddr  string    `json:"remote_addr"`
	UserAgent   string    `json:"user_agent"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Client is one active connection. The id is assigned at connect time and
// never reused. The subscriptions set is owned by the hub goroutine; the
// liveness timestamp is shared between the read loop, the pong handler and
// the heartbeat sweep, guarded by its own mutex.
type Client struct {
	id   string
	conn *websocket.Conn
	// writer is attached by the hub goroutine once registration is
	// accepted; a rejected registration never starts one.
	writer *clientWriter
	meta   Metadata
	clock  clockwork.Clock

	livenessMu   sync.Mutex
	lastLiveness time.Time

	subscriptions map[string]struct{}
}

func newClient(conn *websocket.Conn, meta Metadata, clock clockwork.Clock) *Client {
	c := &Client{
		id:            uuid.NewString(),
		conn:          conn,
		meta:          meta,
		clock:         clock,
		lastLiveness:  clock.Now(),
		subscriptions: make(map[string]struct{}),
	}
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		c.Touch()
		return nil
	})
	return c
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.id
}

// Metadata returns the connection snapshot captured at connect time.
func (c *Client) Metadata() Metadata {
	return c.meta
}

// Touch records liveness and extends the transport read deadline. Called on
// every received control message and on every pong.
func (c *Client) Touch() {
	c.livenessMu.Lock()
	c.lastLiveness = c.clock.Now()
	c.livenessMu.Unlock()
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
}

func (c *Client) lastSeen() time.Time {
	c.livenessMu.Lock()
	defer c.livenessMu.Unlock()
	return c.lastLiveness
}
