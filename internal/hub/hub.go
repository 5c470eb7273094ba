package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/metrics"
)

const (
	defaultHeartbeatInterval  = 30 * time.Second
	defaultStalenessThreshold = 60 * time.Second
	defaultDrainTimeout       = 5 * time.Second

	commandBufferSize = 256
	commandTimeout    = 5 * time.Second
)

var (
	// ErrShuttingDown is returned by Register once the hub is draining.
	ErrShuttingDown = errors.New("hub: shutting down")
	// ErrClientNotFound is returned by Get for unknown client ids.
	ErrClientNotFound = errors.New("hub: client not found")
)

// State is the hub lifecycle: Running -> Draining -> Stopped.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	client       *Client
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	clientID string
}

type subscribeCmd struct {
	baseHubCmd
	clientID  string
	channels  []string
	requested string
}

type unsubscribeCmd struct {
	baseHubCmd
	clientID  string
	channels  []string
	requested string
}

type subscriptionsCmd struct {
	baseHubCmd
	clientID     string
	replyChannel chan []string
}

type getClientCmd struct {
	baseHubCmd
	clientID     string
	replyChannel chan *Client
}

type sendCmd struct {
	baseHubCmd
	clientID     string
	message      Message
	replyChannel chan bool
}

type broadcastCmd struct {
	baseHubCmd
	channel      string
	message      Message
	replyChannel chan int
}

type snapshotCmd struct {
	baseHubCmd
	replyChannel chan []string
}

type statsCmd struct {
	baseHubCmd
	replyChannel chan Stats
}

type stopCmd struct {
	baseHubCmd
}

// Stats is a point-in-time view of the registry, served at /api/stats.
type Stats struct {
	TotalClients          int            `json:"total_clients"`
	ClientsBySubscription map[string]int `json:"clients_by_subscription"`
	AverageConnectionAge  float64        `json:"average_connection_age_seconds"`
}

// Options configures hub timing. Zero values fall back to the defaults
// (30s heartbeat, 60s staleness window, 5s drain deadline, real clock).
type Options struct {
	HeartbeatInterval  time.Duration
	StalenessThreshold time.Duration
	DrainTimeout       time.Duration
	Clock              clockwork.Clock
}

// Hub manages all client connections: registration, channel subscriptions,
// fan-out delivery, liveness sweeps and bounded drain on shutdown.
type Hub struct {
	cmdCh chan hubCmd
	clock clockwork.Clock
	done  chan struct{}
	state atomic.Int32

	heartbeatInterval  time.Duration
	stalenessThreshold time.Duration
	drainTimeout       time.Duration

	// Owned by the run goroutine.
	clients map[string]*Client
	index   map[string]map[string]struct{}

	// Writers still flushing during drain, published by the run goroutine
	// so Stop can force-close them when the deadline expires.
	drainMu  sync.Mutex
	draining []*clientWriter
}

// New creates and starts a hub.
func New(opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.StalenessThreshold <= 0 {
		opts.StalenessThreshold = defaultStalenessThreshold
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	h := &Hub{
		cmdCh:              make(chan hubCmd, commandBufferSize),
		clock:              opts.Clock,
		done:               make(chan struct{}),
		heartbeatInterval:  opts.HeartbeatInterval,
		stalenessThreshold: opts.StalenessThreshold,
		drainTimeout:       opts.DrainTimeout,
		clients:            make(map[string]*Client),
		index:              make(map[string]map[string]struct{}),
	}
	go h.run()
	return h
}

// State returns the current lifecycle state.
func (h *Hub) State() State {
	return State(h.state.Load())
}

// --- Public API (command round-trips) ---

// Register creates a Client for the connection and adds it to the registry.
// It fails with ErrShuttingDown once draining has begun; the caller must then
// close the connection itself.
func (h *Hub) Register(conn *websocket.Conn, meta Metadata) (*Client, error) {
	if h.State() != StateRunning {
		return nil, ErrShuttingDown
	}

	client := newClient(conn, meta, h.clock)
	errCh := make(chan error, 1)
	h.cmdCh <- registerCmd{client: client, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
		return client, nil
	case <-timer.Chan():
		return nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a client. Removing an absent id is a no-op.
func (h *Hub) Unregister(clientID string) {
	select {
	case h.cmdCh <- unregisterCmd{clientID: clientID}:
	case <-h.done:
	}
}

// Get returns the client for the given id, or ErrClientNotFound.
func (h *Hub) Get(clientID string) (*Client, error) {
	select {
	case <-h.done:
		return nil, ErrClientNotFound
	default:
	}

	replyCh := make(chan *Client, 1)
	h.cmdCh <- getClientCmd{clientID: clientID, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case c := <-replyCh:
		if c == nil {
			return nil, ErrClientNotFound
		}
		return c, nil
	case <-timer.Chan():
		return nil, fmt.Errorf("get command timed out after %v", commandTimeout)
	}
}

// SendTo attempts direct delivery to one client. A transport failure removes
// the client and returns false, as does an unknown id.
func (h *Hub) SendTo(clientID string, msg Message) bool {
	replyCh := make(chan bool, 1)
	select {
	case h.cmdCh <- sendCmd{clientID: clientID, message: msg, replyChannel: replyCh}:
	case <-h.done:
		return false
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case ok := <-replyCh:
		return ok
	case <-timer.Chan():
		slog.Warn("SendTo timed out", "client_id", clientID, "timeout", commandTimeout)
		return false
	}
}

// Broadcast delivers a message to every subscriber of the channel, best
// effort and independent per client, and returns the number of successful
// deliveries.
func (h *Hub) Broadcast(channel string, msg Message) int {
	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- broadcastCmd{channel: channel, message: msg, replyChannel: replyCh}:
	case <-h.done:
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("Broadcast timed out", "channel", channel, "timeout", commandTimeout)
		return 0
	}
}

// Subscriptions returns the client's current membership set, sorted.
func (h *Hub) Subscriptions(clientID string) []string {
	select {
	case <-h.done:
		return []string{}
	default:
	}

	replyCh := make(chan []string, 1)
	h.cmdCh <- subscriptionsCmd{clientID: clientID, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case subs := <-replyCh:
		return subs
	case <-timer.Chan():
		return nil
	}
}

// Snapshot returns a point-in-time copy of all registered client ids. Once
// the hub is stopped the registry is empty, so no round-trip is needed.
func (h *Hub) Snapshot() []string {
	select {
	case <-h.done:
		return []string{}
	default:
	}

	replyCh := make(chan []string, 1)
	h.cmdCh <- snapshotCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case ids := <-replyCh:
		return ids
	case <-timer.Chan():
		return nil
	}
}

// ClientCount returns the current registry size. Returns -1 on timeout.
func (h *Hub) ClientCount() int {
	ids := h.Snapshot()
	if ids == nil {
		return -1
	}
	return len(ids)
}

// Stats returns a point-in-time view of the registry.
func (h *Hub) Stats() Stats {
	select {
	case <-h.done:
		return Stats{ClientsBySubscription: map[string]int{}}
	default:
	}

	replyCh := make(chan Stats, 1)
	h.cmdCh <- statsCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case s := <-replyCh:
		return s
	case <-timer.Chan():
		return Stats{}
	}
}

// HandleControl validates and applies one inbound control message on behalf
// of the client's read loop. Malformed input is reported back to the
// originating client only; the connection stays open.
func (h *Hub) HandleControl(c *Client, raw []byte) {
	c.Touch()

	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.HubProtocolErrorsTotal.Inc()
		h.SendTo(c.ID(), ErrorNotification("Invalid message format"))
		return
	}

	switch msg.Type {
	case "subscribe":
		channels, err := expandChannels(msg.Data.Channel, msg.Data.Symbols)
		if err != nil {
			metrics.HubProtocolErrorsTotal.Inc()
			h.SendTo(c.ID(), ErrorNotification("subscribe requires a channel"))
			return
		}
		h.cmdCh <- subscribeCmd{clientID: c.ID(), channels: channels, requested: msg.Data.Channel}

	case "unsubscribe":
		channels, err := expandChannels(msg.Data.Channel, msg.Data.Symbols)
		if err != nil {
			metrics.HubProtocolErrorsTotal.Inc()
			h.SendTo(c.ID(), ErrorNotification("unsubscribe requires a channel"))
			return
		}
		h.cmdCh <- unsubscribeCmd{clientID: c.ID(), channels: channels, requested: msg.Data.Channel}

	case "ping":
		h.SendTo(c.ID(), SystemNotification(map[string]any{"message": "pong"}))

	case "get_subscriptions":
		h.SendTo(c.ID(), SystemNotification(map[string]any{
			"subscriptions": h.Subscriptions(c.ID()),
			"clientId":      c.ID(),
		}))

	default:
		metrics.HubProtocolErrorsTotal.Inc()
		h.SendTo(c.ID(), ErrorNotification(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

// Stop drains the hub: rejects new registrations, notifies every client,
// closes all connections with a going-away status, and waits for the
// registry to empty. Whatever is still flushing when the drain deadline
// expires is force-closed, so Stop always leaves the hub STOPPED with an
// empty registry. Idempotent.
func (h *Hub) Stop() {
	if h.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		h.cmdCh <- stopCmd{}
	}

	timer := h.clock.NewTimer(h.drainTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub drain deadline exceeded, force-closing remaining connections", "timeout", h.drainTimeout)
		metrics.HubDrainTimeoutsTotal.Inc()
		h.abortDraining()
		<-h.done
	}
}

// abortDraining force-closes every connection still flushing. Closing the
// connection fails the writer's in-flight write, so each pending
// stopGraceful returns promptly and the drain completes.
func (h *Hub) abortDraining() {
	h.drainMu.Lock()
	writers := h.draining
	h.drainMu.Unlock()

	for _, w := range writers {
		w.abort()
	}
}

// --- Actor loop ---

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()
			h.closeAllClients()
			h.state.Store(int32(StateStopped))
		}
	}()

	heartbeat := h.clock.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	depthTicker := h.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > commandBufferSize*4/5 {
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case unregisterCmd:
				h.removeClient(c.clientID)
			case subscribeCmd:
				h.handleSubscribe(c)
			case unsubscribeCmd:
				h.handleUnsubscribe(c)
			case subscriptionsCmd:
				c.replyChannel <- h.subscriptionsOf(c.clientID)
			case getClientCmd:
				c.replyChannel <- h.clients[c.clientID]
			case sendCmd:
				c.replyChannel <- h.deliver(c.clientID, c.message)
			case broadcastCmd:
				c.replyChannel <- h.handleBroadcast(c.channel, c.message)
			case snapshotCmd:
				c.replyChannel <- h.snapshotIDs()
			case statsCmd:
				c.replyChannel <- h.handleStats()
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case <-heartbeat.Chan():
			h.handleHeartbeat()
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if h.State() != StateRunning {
		c.errorChannel <- ErrShuttingDown
		return
	}

	client := c.client
	client.writer = newClientWriter(client.conn)
	h.clients[client.ID()] = client
	metrics.HubConnectedClients.Set(float64(len(h.clients)))

	// Welcome notification with the assigned id and server time.
	h.deliver(client.ID(), SystemNotification(map[string]any{
		"message":    "connected",
		"clientId":   client.ID(),
		"serverTime": h.clock.Now().UTC().Format(time.RFC3339Nano),
	}))

	slog.Debug("Client registered", "client_id", client.ID(), "remote_addr", client.meta.RemoteAddr, "total_clients", len(h.clients))
	c.errorChannel <- nil
}

// removeClient removes the client and all its index memberships atomically
// with respect to other hub operations. Idempotent.
func (h *Hub) removeClient(clientID string) {
	client, exists := h.clients[clientID]
	if !exists {
		return
	}

	client.writer.stop()
	delete(h.clients, clientID)
	for channel := range client.subscriptions {
		h.dropMembership(channel, clientID)
	}

	metrics.HubConnectedClients.Set(float64(len(h.clients)))
	metrics.HubActiveChannels.Set(float64(len(h.index)))
	slog.Debug("Client removed", "client_id", clientID, "total_clients", len(h.clients))
}

func (h *Hub) dropMembership(channel, clientID string) {
	members, exists := h.index[channel]
	if !exists {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.index, channel)
	}
}

func (h *Hub) handleSubscribe(c subscribeCmd) {
	client, exists := h.clients[c.clientID]
	if !exists {
		return
	}

	for _, channel := range c.channels {
		client.subscriptions[channel] = struct{}{}
		members, ok := h.index[channel]
		if !ok {
			members = make(map[string]struct{})
			h.index[channel] = members
		}
		members[c.clientID] = struct{}{}
	}
	metrics.HubActiveChannels.Set(float64(len(h.index)))

	h.deliver(c.clientID, SystemNotification(map[string]any{
		"message":       fmt.Sprintf("subscribed: %s", c.requested),
		"subscriptions": h.subscriptionsOf(c.clientID),
	}))
	slog.Debug("Client subscribed", "client_id", c.clientID, "channels", c.channels)
}

func (h *Hub) handleUnsubscribe(c unsubscribeCmd) {
	client, exists := h.clients[c.clientID]
	if !exists {
		return
	}

	for _, channel := range c.channels {
		delete(client.subscriptions, channel)
		h.dropMembership(channel, c.clientID)
	}
	metrics.HubActiveChannels.Set(float64(len(h.index)))

	h.deliver(c.clientID, SystemNotification(map[string]any{
		"message":       fmt.Sprintf("unsubscribed: %s", c.requested),
		"subscriptions": h.subscriptionsOf(c.clientID),
	}))
	slog.Debug("Client unsubscribed", "client_id", c.clientID, "channels", c.channels)
}

func (h *Hub) subscriptionsOf(clientID string) []string {
	client, exists := h.clients[clientID]
	if !exists {
		return []string{}
	}
	subs := make([]string, 0, len(client.subscriptions))
	for channel := range client.subscriptions {
		subs = append(subs, channel)
	}
	sort.Strings(subs)
	return subs
}

// deliver encodes the message with a fresh timestamp and enqueues it to one
// client. A failed enqueue means the client is slow or gone; it is removed,
// matching disconnect semantics.
func (h *Hub) deliver(clientID string, msg Message) bool {
	client, exists := h.clients[clientID]
	if !exists {
		return false
	}

	data, err := h.encode(msg)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "error", err)
		return false
	}

	if !client.writer.enqueue(data) {
		metrics.HubSendFailuresTotal.Inc()
		slog.Warn("Send failed, removing client", "client_id", clientID)
		h.removeClient(clientID)
		return false
	}
	metrics.HubMessagesSentTotal.Inc()
	return true
}

func (h *Hub) handleBroadcast(channel string, msg Message) int {
	metrics.HubBroadcastsTotal.WithLabelValues(msg.Type).Inc()

	members, exists := h.index[channel]
	if !exists {
		return 0
	}

	data, err := h.encode(msg)
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "error", err)
		return 0
	}

	var failed []string
	count := 0
	for clientID := range members {
		client, ok := h.clients[clientID]
		if !ok {
			continue
		}
		if client.writer.enqueue(data) {
			metrics.HubMessagesSentTotal.Inc()
			count++
		} else {
			metrics.HubSendFailuresTotal.Inc()
			failed = append(failed, clientID)
		}
	}

	for _, clientID := range failed {
		slog.Warn("Broadcast send failed, removing client", "client_id", clientID, "channel", channel)
		h.removeClient(clientID)
	}

	return count
}

func (h *Hub) encode(msg Message) ([]byte, error) {
	msg.Timestamp = h.clock.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}

func (h *Hub) snapshotIDs() []string {
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) handleStats() Stats {
	byChannel := make(map[string]int, len(h.index))
	for channel, members := range h.index {
		byChannel[channel] = len(members)
	}

	var totalAge time.Duration
	now := h.clock.Now()
	for _, client := range h.clients {
		totalAge += now.Sub(client.meta.ConnectedAt)
	}
	avgAge := 0.0
	if len(h.clients) > 0 {
		avgAge = totalAge.Seconds() / float64(len(h.clients))
	}

	return Stats{
		TotalClients:          len(h.clients),
		ClientsBySubscription: byChannel,
		AverageConnectionAge:  avgAge,
	}
}

// handleHeartbeat evicts clients past the staleness window, then probes the
// rest. An unresponsive client gets no farewell; it cannot receive one.
func (h *Hub) handleHeartbeat() {
	var stale []string
	for clientID, client := range h.clients {
		if h.clock.Since(client.lastSeen()) > h.stalenessThreshold {
			stale = append(stale, clientID)
		}
	}
	for _, clientID := range stale {
		slog.Info("Evicting stale client", "client_id", clientID)
		metrics.HubStaleClientsEvicted.Inc()
		h.removeClient(clientID)
	}

	var unreachable []string
	for clientID, client := range h.clients {
		if err := client.writer.ping(); err != nil {
			metrics.HubPingFailuresTotal.Inc()
			unreachable = append(unreachable, clientID)
		}
	}
	for _, clientID := range unreachable {
		slog.Info("Ping failed, removing client", "client_id", clientID)
		h.removeClient(clientID)
	}
}

func (h *Hub) handleStop() {
	h.state.Store(int32(StateDraining))
	slog.Info("Hub draining", "total_clients", len(h.clients))

	// Best-effort shutdown notice to every client before closing.
	notice, err := h.encode(SystemNotification(map[string]any{"message": "Server is shutting down"}))
	if err == nil {
		for _, client := range h.clients {
			_ = client.writer.enqueue(notice)
		}
	}

	// Publish the flushing writers so Stop can force-close them if this
	// goroutine is still draining at the deadline.
	h.drainMu.Lock()
	h.draining = make([]*clientWriter, 0, len(h.clients))
	for _, client := range h.clients {
		h.draining = append(h.draining, client.writer)
	}
	h.drainMu.Unlock()

	h.closeAllClients()
	h.state.Store(int32(StateStopped))
	slog.Info("Hub stopped")
}

// closeAllClients closes every connection concurrently so no single slow
// client delays the others, then clears the registry and the index.
func (h *Hub) closeAllClients() {
	var wg sync.WaitGroup
	for _, client := range h.clients {
		wg.Add(1)
		go func(cw *clientWriter) {
			defer wg.Done()
			cw.stopGraceful(websocket.CloseGoingAway, "Server shutdown")
		}(client.writer)
	}
	wg.Wait()

	h.clients = make(map[string]*Client)
	h.index = make(map[string]map[string]struct{})
	metrics.HubConnectedClients.Set(0)
	metrics.HubActiveChannels.Set(0)
}
