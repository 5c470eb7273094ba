package hub

import (
	"fmt"
	"strings"
)

// Outbound message types.
const (
	TypeStockUpdate        = "stock_update"
	TypePortfolioUpdate    = "portfolio_update"
	TypeMarketNews         = "market_news"
	TypeSystemNotification = "system_notification"
)

// Well-known channels.
const (
	ChannelStockPrices      = "stock_prices"
	ChannelPortfolioUpdates = "portfolio_updates"
	ChannelMarketNews       = "market_news"
)

// Message is the outbound envelope sent to clients. Timestamp is set at send
// time by the hub, so fanned-out copies of one logical event may carry
// distinct timestamps.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// SystemNotification builds a system_notification message with the given data.
func SystemNotification(data any) Message {
	return Message{Type: TypeSystemNotification, Data: data}
}

// ErrorNotification builds a system_notification carrying an error field,
// used to report protocol errors back to the originating client only.
func ErrorNotification(reason string) Message {
	return SystemNotification(map[string]any{"error": reason})
}

// QuoteChannel returns the parameterized channel for a single symbol,
// e.g. "stock_prices:AAPL".
func QuoteChannel(symbol string) string {
	return ChannelStockPrices + ":" + strings.ToUpper(symbol)
}

// controlMessage is the inbound JSON shape read from clients.
type controlMessage struct {
	Type string      `json:"type"`
	Data controlData `json:"data"`
}

type controlData struct {
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// expandChannels resolves a subscribe/unsubscribe request into concrete
// channel memberships: with symbols present, one "channel:SYMBOL" entry per
// symbol (uppercased); otherwise the bare channel.
func expandChannels(channel string, symbols []string) ([]string, error) {
	if channel == "" {
		return nil, fmt.Errorf("subscription requires a channel")
	}
	if len(symbols) == 0 {
		return []string{channel}, nil
	}
	channels := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		channels = append(channels, channel+":"+strings.ToUpper(symbol))
	}
	return channels, nil
}
