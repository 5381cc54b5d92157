package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeveda/tradeveda/internal/market"
)

func TestQuoteEndpoint(t *testing.T) {
	f := newFixture(t)
	f.market.quote = &market.Quote{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		LTP:      2985.4,
		Source:   "chart",
	}

	rec := f.do(t, http.MethodGet, "/api/v1/market/quote?symbol=RELIANCE", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var quote market.Quote
	decode(t, rec, &quote)
	assert.Equal(t, "RELIANCE", quote.Symbol)
	assert.Equal(t, 2985.4, quote.LTP)
}

func TestQuoteRequiresSymbol(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/market/quote", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(-time.Hour).Truncate(time.Minute)
	f.market.candles = []market.Candle{
		{Timestamp: base, Open: 100, High: 102, Low: 99, Close: 101, Volume: 1000},
		{Timestamp: base.Add(5 * time.Minute), Open: 101, High: 103, Low: 100, Close: 102, Volume: 900},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/market/history?symbol=TCS&interval=5m", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Symbol   string          `json:"symbol"`
		Interval string          `json:"interval"`
		Candles  []market.Candle `json:"candles"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "TCS", body.Symbol)
	assert.Equal(t, "5m", body.Interval)
	assert.Len(t, body.Candles, 2)
}

func TestHistoryTimeRange(t *testing.T) {
	f := newFixture(t)

	from := time.Now().Add(-2 * time.Hour).Unix()
	to := time.Now().Unix()

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unix range", fmt.Sprintf("/api/v1/market/history?symbol=TCS&from=%d&to=%d", from, to), http.StatusOK},
		{"bad from", "/api/v1/market/history?symbol=TCS&from=yesterday", http.StatusBadRequest},
		{"inverted range", fmt.Sprintf("/api/v1/market/history?symbol=TCS&from=%d&to=%d", to, from), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHistoryTimeoutReturns504(t *testing.T) {
	f := newFixture(t)
	f.market.historyErr = fmt.Errorf("chart fetch: %w", context.DeadlineExceeded)

	rec := f.do(t, http.MethodGet, "/api/v1/market/history?symbol=TCS", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHistoryEmptyIsNotAnError(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/market/history?symbol=TCS", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Candles []market.Candle `json:"candles"`
	}
	decode(t, rec, &body)
	assert.NotNil(t, body.Candles)
	assert.Empty(t, body.Candles)
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	f.market.results = []market.SearchResult{
		{Symbol: "RELIANCE", Name: "Reliance Industries", Exchange: "NSE"},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/market/search?q=reli", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []market.SearchResult `json:"results"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "RELIANCE", body.Results[0].Symbol)
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/market/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndicesVIXMovers(t *testing.T) {
	f := newFixture(t)
	f.market.indices = []market.IndexQuote{{Name: "NIFTY 50", Value: 24850.5}}
	f.market.vix = &market.VIXQuote{Value: 13.2}
	f.market.movers = &market.Movers{
		Gainers: []market.Quote{{Symbol: "TATAMOTORS", ChangePercent: 4.1}},
		Losers:  []market.Quote{{Symbol: "INFY", ChangePercent: -2.3}},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/market/indices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var indices struct {
		Indices []market.IndexQuote `json:"indices"`
	}
	decode(t, rec, &indices)
	require.Len(t, indices.Indices, 1)
	assert.Equal(t, "NIFTY 50", indices.Indices[0].Name)

	rec = f.do(t, http.MethodGet, "/api/v1/market/vix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vix market.VIXQuote
	decode(t, rec, &vix)
	assert.Equal(t, 13.2, vix.Value)

	rec = f.do(t, http.MethodGet, "/api/v1/market/movers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var movers market.Movers
	decode(t, rec, &movers)
	require.Len(t, movers.Gainers, 1)
	assert.Equal(t, "TATAMOTORS", movers.Gainers[0].Symbol)
}

func TestOptionsChainEndpoint(t *testing.T) {
	f := newFixture(t)
	f.market.chain = &market.OptionsChain{
		Symbol: "NIFTY",
		Spot:   24850.5,
		PCR:    1.12,
		Strikes: []market.StrikeRow{
			{Strike: 24800, CE: market.OptionLeg{OI: 100}, PE: market.OptionLeg{OI: 140}},
		},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/market/options/NIFTY", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chain market.OptionsChain
	decode(t, rec, &chain)
	assert.Equal(t, "NIFTY", chain.Symbol)
	assert.Len(t, chain.Strikes, 1)
}

func TestOptionsChainNoDataReturns404(t *testing.T) {
	f := newFixture(t)
	f.market.chainErr = market.ErrNoData

	rec := f.do(t, http.MethodGet, "/api/v1/market/options/OBSCURE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
