package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
)

// mockBroadcaster records every broadcast.
type mockBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

type broadcastCall struct {
	channel string
	msg     hub.Message
}

func (m *mockBroadcaster) Broadcast(channel string, msg hub.Message) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, broadcastCall{channel: channel, msg: msg})
	return 1
}

func (m *mockBroadcaster) recorded() []broadcastCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]broadcastCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// mockSource serves a fixed batch or a fixed error.
type mockSource struct {
	mu     sync.Mutex
	quotes []Quote
	err    error
	polls  int
}

func (m *mockSource) LatestQuotes(context.Context) ([]Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	return m.quotes, m.err
}

func (m *mockSource) pollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

func TestFeed_PublishTypesByChannel(t *testing.T) {
	tests := []struct {
		channel  string
		wantType string
	}{
		{"stock_prices", hub.TypeStockUpdate},
		{"stock_prices:AAPL", hub.TypeStockUpdate},
		{"portfolio_updates", hub.TypePortfolioUpdate},
		{"market_news", hub.TypeMarketNews},
		{"something_else", hub.TypeSystemNotification},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			b := &mockBroadcaster{}
			f := New(b, Options{})

			count := f.Publish(tt.channel, "payload")
			assert.Equal(t, 1, count)

			calls := b.recorded()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.channel, calls[0].channel)
			assert.Equal(t, tt.wantType, calls[0].msg.Type)
		})
	}
}

func TestFeed_PublishQuotesFansOutPerSymbolAndAggregate(t *testing.T) {
	b := &mockBroadcaster{}
	f := New(b, Options{})

	quotes := []Quote{
		{Symbol: "AAPL", Price: 180.5},
		{Symbol: "GOOGL", Price: 140.2},
	}
	f.PublishQuotes(quotes)

	calls := b.recorded()
	require.Len(t, calls, 3)

	assert.Equal(t, "stock_prices:AAPL", calls[0].channel)
	assert.Equal(t, "stock_prices:GOOGL", calls[1].channel)
	assert.Equal(t, "stock_prices", calls[2].channel)
	assert.Equal(t, quotes, calls[2].msg.Data)
}

func TestFeed_PublishQuotesEmptyBatch(t *testing.T) {
	b := &mockBroadcaster{}
	f := New(b, Options{})

	f.PublishQuotes(nil)
	assert.Empty(t, b.recorded())
}

func TestFeed_TypedHelpers(t *testing.T) {
	b := &mockBroadcaster{}
	f := New(b, Options{})

	f.PublishPortfolioUpdate(map[string]any{"total": 1000})
	f.PublishMarketNews(map[string]any{"headline": "x"})

	calls := b.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, hub.TypePortfolioUpdate, calls[0].msg.Type)
	assert.Equal(t, hub.TypeMarketNews, calls[1].msg.Type)
}

func TestFeed_RunPublishesPolledQuotes(t *testing.T) {
	b := &mockBroadcaster{}
	source := &mockSource{quotes: []Quote{{Symbol: "AAPL", Price: 180.5}}}
	fc := clockwork.NewFakeClock()

	f := New(b, Options{Source: source, PollInterval: 5 * time.Second, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		f.Run(ctx)
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let the ticker register with the fake clock

	fc.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(b.recorded()) >= 2 // per-symbol plus aggregate
	}, time.Second, 5*time.Millisecond)

	calls := b.recorded()
	assert.Equal(t, "stock_prices:AAPL", calls[0].channel)
	assert.Equal(t, "stock_prices", calls[1].channel)
}

func TestFeed_RunSurvivesSourceErrors(t *testing.T) {
	b := &mockBroadcaster{}
	source := &mockSource{err: errors.New("redis down")}
	fc := clockwork.NewFakeClock()

	f := New(b, Options{Source: source, PollInterval: time.Second, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	for range 3 {
		fc.Advance(time.Second)
		time.Sleep(10 * time.Millisecond)
	}

	// The loop kept polling despite errors and published nothing.
	assert.GreaterOrEqual(t, source.pollCount(), 2)
	assert.Empty(t, b.recorded())
}

func TestFeed_RunWithoutSourceReturns(t *testing.T) {
	f := New(&mockBroadcaster{}, Options{})

	done := make(chan struct{})
	go func() {
		f.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately without a source")
	}
}
