// Package market provides tiered market data access for Indian equities,
// commodities, and currency derivatives: cache, public chart API, exchange
// scrape, broker API, and a deterministic simulator.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrNoData indicates a tier returned nothing usable for the request
var ErrNoData = errors.New("no market data")

// Quote is a point-in-time price snapshot
type Quote struct {
	Symbol        string    `json:"symbol"`
	Exchange      string    `json:"exchange"`
	LTP           float64   `json:"ltp"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PrevClose     float64   `json:"prevClose"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

// Valid reports whether the quote carries a usable last-traded price.
// Invalid quotes are never cached.
func (q *Quote) Valid() bool {
	return q != nil && q.LTP > 0
}

// Candle is one OHLCV bar
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndexQuote is a snapshot of one market index
type IndexQuote struct {
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// VIXQuote is the India VIX snapshot
type VIXQuote struct {
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// Movers holds the ranked top gainers and losers
type Movers struct {
	Gainers []Quote `json:"gainers"`
	Losers  []Quote `json:"losers"`
}

// SearchResult is one catalogue match
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// OptionLeg is one side (CE or PE) of a strike row
type OptionLeg struct {
	OI     int64   `json:"oi"`
	Volume int64   `json:"volume"`
	IV     float64 `json:"iv"`
	LTP    float64 `json:"ltp"`
}

// StrikeRow pairs call and put data at one strike
type StrikeRow struct {
	Strike float64   `json:"strike"`
	CE     OptionLeg `json:"ce"`
	PE     OptionLeg `json:"pe"`
}

// OptionsChain is a full chain snapshot with derived aggregates
type OptionsChain struct {
	Symbol      string      `json:"symbol"`
	Expiry      string      `json:"expiry"`
	Spot        float64     `json:"spot"`
	Strikes     []StrikeRow `json:"strikes"`
	PCR         float64     `json:"pcr"`
	MaxPain     float64     `json:"maxPain"`
	TotalCallOI int64       `json:"totalCallOI"`
	TotalPutOI  int64       `json:"totalPutOI"`
}

// quoteProvider is one tier capable of serving quotes
type quoteProvider interface {
	Name() string
	Quote(ctx context.Context, symbol, exchange string) (*Quote, error)
}

// historyProvider is one tier capable of serving bars
type historyProvider interface {
	Name() string
	History(ctx context.Context, symbol, interval string, from, to time.Time, exchange string) ([]Candle, error)
}
