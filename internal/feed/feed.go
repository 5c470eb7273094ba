package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/metrics"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/correlation"
)

// Quote is one stock price observation as published to subscribers.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	PreviousClose float64 `json:"previous_close"`
	Volume        int64   `json:"volume"`
	LastUpdated   string  `json:"last_updated"`
}

// QuoteSource provides the latest known quotes, typically backed by Redis.
type QuoteSource interface {
	LatestQuotes(ctx context.Context) ([]Quote, error)
}

// Broadcaster is the hub surface the feed needs.
type Broadcaster interface {
	Broadcast(channel string, msg hub.Message) int
}

// Feed adapts upstream market data into hub broadcasts. Channel routing and
// message typing live here so producers stay oblivious to delivery.
type Feed struct {
	hub     Broadcaster
	source  QuoteSource
	breaker *gobreaker.CircuitBreaker
	clock   clockwork.Clock
	logger  *slog.Logger

	pollInterval time.Duration
}

// Options configures the quote poll loop. Source may be nil when polling is
// disabled; Clock defaults to the real clock.
type Options struct {
	Source       QuoteSource
	PollInterval time.Duration
	Clock        clockwork.Clock
}

func New(b Broadcaster, opts Options) *Feed {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	settings := gobreaker.Settings{
		Name:        "quote-source",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Quote source circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.FeedBreakerState.Set(float64(to))
		},
	}

	return &Feed{
		hub:          b,
		source:       opts.Source,
		breaker:      gobreaker.NewCircuitBreaker(settings),
		clock:        opts.Clock,
		logger:       slog.Default(),
		pollInterval: opts.PollInterval,
	}
}

// Publish routes one upstream event to its channel's subscribers and returns
// the delivery count. The message type is derived from the channel family;
// unrecognized channels fall back to system_notification.
func (f *Feed) Publish(channel string, payload any) int {
	msgType := typeForChannel(channel)
	metrics.FeedPublishTotal.WithLabelValues(msgType).Inc()
	return f.hub.Broadcast(channel, hub.Message{Type: msgType, Data: payload})
}

func typeForChannel(channel string) string {
	switch {
	case channel == hub.ChannelStockPrices, strings.HasPrefix(channel, hub.ChannelStockPrices+":"):
		return hub.TypeStockUpdate
	case channel == hub.ChannelPortfolioUpdates:
		return hub.TypePortfolioUpdate
	case channel == hub.ChannelMarketNews:
		return hub.TypeMarketNews
	default:
		return hub.TypeSystemNotification
	}
}

// PublishQuotes fans a batch of quotes out twice: each quote to its
// per-symbol channel, and the whole batch to the bare stock_prices channel
// for clients watching everything.
func (f *Feed) PublishQuotes(quotes []Quote) {
	for _, q := range quotes {
		f.Publish(hub.QuoteChannel(q.Symbol), q)
	}
	if len(quotes) > 0 {
		f.Publish(hub.ChannelStockPrices, quotes)
	}
}

// PublishPortfolioUpdate broadcasts a portfolio change to its channel.
func (f *Feed) PublishPortfolioUpdate(payload any) int {
	return f.Publish(hub.ChannelPortfolioUpdates, payload)
}

// PublishMarketNews broadcasts a news item to its channel.
func (f *Feed) PublishMarketNews(payload any) int {
	return f.Publish(hub.ChannelMarketNews, payload)
}

// Run polls the quote source at the configured interval and publishes each
// batch, until the context is canceled. Upstream failures are contained by
// the circuit breaker; the loop never stops on error.
func (f *Feed) Run(ctx context.Context) {
	if f.source == nil {
		f.logger.Info("Quote polling disabled, no source configured")
		return
	}

	ticker := f.clock.NewTicker(f.pollInterval)
	defer ticker.Stop()

	f.logger.Info("Quote poll loop started", "interval", f.pollInterval)
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Quote poll loop stopped")
			return
		case <-ticker.Chan():
			f.pollOnce(ctx)
		}
	}
}

func (f *Feed) pollOnce(ctx context.Context) {
	ctx = correlation.WithID(ctx, correlation.NewID())
	start := f.clock.Now()

	result, err := f.breaker.Execute(func() (any, error) {
		return f.source.LatestQuotes(ctx)
	})
	metrics.FeedPollDuration.Observe(f.clock.Since(start).Seconds())
	if err != nil {
		metrics.FeedPollErrorsTotal.Inc()
		f.logger.WarnContext(ctx, "Quote poll failed", "error", err)
		return
	}

	quotes := result.([]Quote)
	if len(quotes) == 0 {
		return
	}
	f.PublishQuotes(quotes)
	f.logger.DebugContext(ctx, "Quotes published", "count", len(quotes))
}
