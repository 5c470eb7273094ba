package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/feed"
)

const quotesKey = "quotes:latest"

// QuoteStore reads the latest stock quotes written by upstream producers.
// The store is a single hash keyed by symbol, each field holding one
// JSON-encoded quote, so a poll is one HGETALL.
type QuoteStore struct {
	rdb *goredis.Client
}

// NewQuoteStore creates a quote store on the shared client.
func NewQuoteStore(client *Client) *QuoteStore {
	return &QuoteStore{rdb: client.rdb}
}

var _ feed.QuoteSource = (*QuoteStore)(nil)

// LatestQuotes returns all current quotes, sorted by symbol. Fields that
// fail to decode are skipped with a warning; one bad producer write must not
// poison the whole batch.
func (s *QuoteStore) LatestQuotes(ctx context.Context) ([]feed.Quote, error) {
	fields, err := s.rdb.HGetAll(ctx, quotesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest quotes: %w", err)
	}

	quotes := make([]feed.Quote, 0, len(fields))
	for symbol, raw := range fields {
		var q feed.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			slog.WarnContext(ctx, "Skipping undecodable quote", "symbol", symbol, "error", err)
			continue
		}
		if q.Symbol == "" {
			q.Symbol = symbol
		}
		quotes = append(quotes, q)
	}

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes, nil
}

// UpsertQuote writes one quote into the hash, used by tests and local tooling.
func (s *QuoteStore) UpsertQuote(ctx context.Context, q feed.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	return s.rdb.HSet(ctx, quotesKey, q.Symbol, data).Err()
}
