package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/metrics"
)

// feedChannelPrefix is the Redis Pub/Sub namespace producers publish into.
// The remainder of the Redis channel names the broadcast channel, e.g.
// "feed:stock_prices:AAPL" or "feed:market_news".
const feedChannelPrefix = "feed:"

// Publisher is the feed surface the ingest bridge forwards into.
type Publisher interface {
	Publish(channel string, payload any) int
}

// ProducerIngest bridges upstream producer events from Redis Pub/Sub into
// the broadcast layer, so data producers on other processes never touch a
// WebSocket directly.
type ProducerIngest struct {
	rdb  *goredis.Client
	feed Publisher
}

// NewProducerIngest creates the ingest bridge.
func NewProducerIngest(client *Client, feed Publisher) *ProducerIngest {
	return &ProducerIngest{rdb: client.rdb, feed: feed}
}

// Run subscribes to the producer namespace and forwards each event until the
// context is canceled. Undecodable payloads are dropped and counted, never
// forwarded.
func (p *ProducerIngest) Run(ctx context.Context) {
	sub := p.rdb.PSubscribe(ctx, feedChannelPrefix+"*")
	defer func() { _ = sub.Close() }()

	slog.Info("Producer ingest started", "pattern", feedChannelPrefix+"*")
	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Producer ingest stopped")
			return
		case msg, ok := <-msgCh:
			if !ok {
				slog.Warn("Producer ingest channel closed")
				return
			}
			p.dispatch(msg)
		}
	}
}

func (p *ProducerIngest) dispatch(msg *goredis.Message) {
	channel := strings.TrimPrefix(msg.Channel, feedChannelPrefix)
	if channel == "" || channel == msg.Channel {
		metrics.IngestDroppedTotal.Inc()
		slog.Warn("Dropping producer message with bad channel", "redis_channel", msg.Channel)
		return
	}

	var payload any
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		metrics.IngestDroppedTotal.Inc()
		slog.Warn("Dropping undecodable producer message", "channel", channel, "error", err)
		return
	}

	metrics.IngestMessagesTotal.WithLabelValues(channel).Inc()
	p.feed.Publish(channel, payload)
}
