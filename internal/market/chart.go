package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const defaultChartBaseURL = "https://query1.finance.yahoo.com"

// indexAliases maps display names onto the chart provider's index tickers
var indexAliases = map[string]string{
	"NIFTY 50":  "^NSEI",
	"NIFTY":     "^NSEI",
	"BANKNIFTY": "^NSEBANK",
	"SENSEX":    "^BSESN",
	"INDIA VIX": "^INDIAVIX",
}

// chartIntervals converts canonical intervals to the provider vocabulary
var chartIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "60m", "1d": "1d", "1wk": "1wk", "1mo": "1mo",
}

// ChartProvider reads quotes and bars from a public chart JSON endpoint
type ChartProvider struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewChartProvider creates the public chart tier. baseURL is overridable
// for tests; empty selects the default endpoint.
func NewChartProvider(baseURL string, timeout time.Duration) *ChartProvider {
	if baseURL == "" {
		baseURL = defaultChartBaseURL
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chart-provider",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Chart provider circuit state changed")
		},
	})

	return &ChartProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Name identifies this tier in quote sources and logs
func (p *ChartProvider) Name() string { return "chart" }

// ChartSymbol converts a catalogue symbol to the provider's ticker:
// index aliases first, then the exchange suffix, with & escaped.
func ChartSymbol(symbol, exchange string) string {
	up := strings.ToUpper(strings.TrimSpace(symbol))
	if alias, ok := indexAliases[up]; ok {
		return alias
	}

	suffix := ".NS"
	if strings.EqualFold(exchange, ExchangeBSE) {
		suffix = ".BO"
	}

	return strings.ReplaceAll(up, "&", "%26") + suffix
}

// chartResponse mirrors the provider's chart JSON envelope
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// fetchChart calls the chart endpoint through the circuit breaker
func (p *ChartProvider) fetchChart(ctx context.Context, ticker string, params url.Values) (*chartResponse, error) {
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(ticker), params.Encode())

	result, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("chart request failed: %w", err)
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("Failed to close response body")
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("chart API returned status %d", resp.StatusCode)
		}

		var parsed chartResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("failed to decode chart response: %w", err)
		}

		if parsed.Chart.Error != nil {
			return nil, fmt.Errorf("chart API error: %s", parsed.Chart.Error.Description)
		}
		if len(parsed.Chart.Result) == 0 {
			return nil, ErrNoData
		}

		return &parsed, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*chartResponse), nil
}

// Quote fetches a snapshot from the chart meta plus today's bar
func (p *ChartProvider) Quote(ctx context.Context, symbol, exchange string) (*Quote, error) {
	ticker := ChartSymbol(symbol, exchange)

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	parsed, err := p.fetchChart(ctx, ticker, params)
	if err != nil {
		return nil, err
	}

	res := parsed.Chart.Result[0]
	meta := res.Meta
	if meta.RegularMarketPrice == 0 {
		return nil, ErrNoData
	}

	q := &Quote{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange:  exchange,
		LTP:       meta.RegularMarketPrice,
		PrevClose: meta.PreviousClose,
		Timestamp: time.Unix(meta.RegularMarketTime, 0),
		Source:    p.Name(),
	}
	if q.Timestamp.Unix() <= 0 {
		q.Timestamp = time.Now()
	}

	if len(res.Indicators.Quote) > 0 {
		bar := res.Indicators.Quote[0]
		if n := len(bar.Open); n > 0 {
			q.Open = bar.Open[0]
		}
		for _, h := range bar.High {
			if h > q.High {
				q.High = h
			}
		}
		for _, l := range bar.Low {
			if l > 0 && (q.Low == 0 || l < q.Low) {
				q.Low = l
			}
		}
		for _, v := range bar.Volume {
			q.Volume += int64(v)
		}
	}

	if q.PrevClose > 0 {
		q.Change = q.LTP - q.PrevClose
		q.ChangePercent = q.Change / q.PrevClose * 100
	}

	return q, nil
}

// History fetches bars for the window. Rows with a zero close are skipped
// (the provider emits nulls for halted periods).
func (p *ChartProvider) History(ctx context.Context, symbol, interval string, from, to time.Time, exchange string) ([]Candle, error) {
	ticker := ChartSymbol(symbol, exchange)

	chartInterval, ok := chartIntervals[MapInterval(interval)]
	if !ok {
		chartInterval = "1d"
	}

	params := url.Values{}
	params.Set("interval", chartInterval)
	params.Set("period1", fmt.Sprintf("%d", from.Unix()))
	params.Set("period2", fmt.Sprintf("%d", to.Unix()))

	parsed, err := p.fetchChart(ctx, ticker, params)
	if err != nil {
		return nil, err
	}

	res := parsed.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, ErrNoData
	}
	bar := res.Indicators.Quote[0]

	candles := make([]Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(bar.Close) || bar.Close[i] == 0 {
			continue
		}
		c := Candle{
			Timestamp: time.Unix(ts, 0),
			Close:     bar.Close[i],
		}
		if i < len(bar.Open) {
			c.Open = bar.Open[i]
		}
		if i < len(bar.High) {
			c.High = bar.High[i]
		}
		if i < len(bar.Low) {
			c.Low = bar.Low[i]
		}
		if i < len(bar.Volume) {
			c.Volume = bar.Volume[i]
		}
		candles = append(candles, c)
	}

	return candles, nil
}

// keyIndices are the four snapshot indices served by GetIndices
var keyIndices = []struct {
	Name   string
	Symbol string
}{
	{"NIFTY 50", "NIFTY 50"},
	{"BANKNIFTY", "BANKNIFTY"},
	{"SENSEX", "SENSEX"},
	{"INDIA VIX", "INDIA VIX"},
}

// Indices fetches the four key index snapshots. Unreachable indices are
// returned with zero values rather than failing the whole set.
func (p *ChartProvider) Indices(ctx context.Context) ([]IndexQuote, error) {
	out := make([]IndexQuote, 0, len(keyIndices))
	var hits int

	for _, idx := range keyIndices {
		iq := IndexQuote{Name: idx.Name, Symbol: indexAliases[idx.Symbol]}

		q, err := p.Quote(ctx, idx.Symbol, ExchangeNSE)
		if err != nil {
			log.Debug().Err(err).Str("index", idx.Name).Msg("Index fetch failed")
		} else {
			iq.Value = q.LTP
			iq.Change = q.Change
			iq.ChangePercent = q.ChangePercent
			hits++
		}
		out = append(out, iq)
	}

	if hits == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// VIX fetches the India VIX snapshot
func (p *ChartProvider) VIX(ctx context.Context) (*VIXQuote, error) {
	q, err := p.Quote(ctx, "INDIA VIX", ExchangeNSE)
	if err != nil {
		return nil, err
	}
	return &VIXQuote{
		Value:         q.LTP,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
	}, nil
}
