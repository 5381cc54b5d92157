package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultNSEBaseURL = "https://www.nseindia.com"

	// Session cookies from the homepage expire after a few minutes.
	nseCookieTTL = 4 * time.Minute
)

// NSEProvider scrapes quote and option-chain JSON from the exchange site.
// The site requires session cookies from a homepage visit and throttles
// aggressive clients, so requests run behind a semaphore and rate limiter.
type NSEProvider struct {
	baseURL    string
	httpClient *http.Client

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	sf singleflight.Group

	mu          sync.Mutex
	cookiesFrom time.Time
}

// NewNSEProvider creates the exchange-direct tier. maxConcurrent bounds
// in-flight scrapes; zero selects the default of 2.
func NewNSEProvider(baseURL string, timeout time.Duration, maxConcurrent int64) *NSEProvider {
	if baseURL == "" {
		baseURL = defaultNSEBaseURL
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	jar, _ := cookiejar.New(nil)

	return &NSEProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		sem:     semaphore.NewWeighted(maxConcurrent),
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 2),
	}
}

// Name identifies this tier in quote sources and logs
func (p *NSEProvider) Name() string { return "nse" }

// setBrowserHeaders mimics a desktop browser; the site rejects bare clients
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.nseindia.com/")
}

// ensureCookies refreshes the session cookies when stale. Concurrent
// callers share one refresh through singleflight.
func (p *NSEProvider) ensureCookies(ctx context.Context) error {
	p.mu.Lock()
	fresh := time.Since(p.cookiesFrom) < nseCookieTTL
	p.mu.Unlock()
	if fresh {
		return nil
	}

	_, err, _ := p.sf.Do("cookie-refresh", func() (interface{}, error) {
		// Re-check under the flight: a racer may have refreshed already.
		p.mu.Lock()
		fresh := time.Since(p.cookiesFrom) < nseCookieTTL
		p.mu.Unlock()
		if fresh {
			return nil, nil
		}

		req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie request: %w", err)
		}
		setBrowserHeaders(req)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cookie refresh failed: %w", err)
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("Failed to close response body")
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cookie refresh returned status %d", resp.StatusCode)
		}

		p.mu.Lock()
		p.cookiesFrom = time.Now()
		p.mu.Unlock()

		log.Debug().Msg("NSE session cookies refreshed")
		return nil, nil
	})

	return err
}

// fetchJSON performs one throttled scrape into out
func (p *NSEProvider) fetchJSON(ctx context.Context, path string, out interface{}) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("scrape slot wait: %w", err)
	}
	defer p.sem.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if err := p.ensureCookies(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	setBrowserHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scrape request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// Session rejected; force a refresh on the next call.
		p.mu.Lock()
		p.cookiesFrom = time.Time{}
		p.mu.Unlock()
		return fmt.Errorf("scrape rejected with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrape returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode scrape response: %w", err)
	}

	return nil
}

// nseQuoteResponse mirrors the exchange quote JSON shape
type nseQuoteResponse struct {
	Info struct {
		Symbol string `json:"symbol"`
	} `json:"info"`
	PriceInfo struct {
		LastPrice      float64 `json:"lastPrice"`
		Change         float64 `json:"change"`
		PChange        float64 `json:"pChange"`
		Open           float64 `json:"open"`
		PreviousClose  float64 `json:"previousClose"`
		IntraDayHighLow struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"intraDayHighLow"`
	} `json:"priceInfo"`
	SecurityWiseDP struct {
		QuantityTraded int64 `json:"quantityTraded"`
	} `json:"securityWiseDP"`
}

// Quote scrapes a single equity quote. Only NSE symbols are served here.
func (p *NSEProvider) Quote(ctx context.Context, symbol, exchange string) (*Quote, error) {
	if !strings.EqualFold(exchange, ExchangeNSE) {
		return nil, ErrNoData
	}

	up := strings.ToUpper(strings.TrimSpace(symbol))
	path := "/api/quote-equity?symbol=" + url.QueryEscape(up)

	var parsed nseQuoteResponse
	if err := p.fetchJSON(ctx, path, &parsed); err != nil {
		return nil, err
	}

	if parsed.PriceInfo.LastPrice == 0 {
		return nil, ErrNoData
	}

	return &Quote{
		Symbol:        up,
		Exchange:      ExchangeNSE,
		LTP:           parsed.PriceInfo.LastPrice,
		Open:          parsed.PriceInfo.Open,
		High:          parsed.PriceInfo.IntraDayHighLow.Max,
		Low:           parsed.PriceInfo.IntraDayHighLow.Min,
		PrevClose:     parsed.PriceInfo.PreviousClose,
		Change:        parsed.PriceInfo.Change,
		ChangePercent: parsed.PriceInfo.PChange,
		Volume:        parsed.SecurityWiseDP.QuantityTraded,
		Timestamp:     time.Now(),
		Source:        p.Name(),
	}, nil
}

// nseOptionChainResponse mirrors the exchange option-chain JSON shape
type nseOptionChainResponse struct {
	Records struct {
		ExpiryDates     []string `json:"expiryDates"`
		UnderlyingValue float64  `json:"underlyingValue"`
		Data            []struct {
			StrikePrice float64       `json:"strikePrice"`
			ExpiryDate  string        `json:"expiryDate"`
			CE          *nseOptionLeg `json:"CE"`
			PE          *nseOptionLeg `json:"PE"`
		} `json:"data"`
	} `json:"records"`
}

type nseOptionLeg struct {
	OpenInterest      float64 `json:"openInterest"`
	TotalTradedVolume float64 `json:"totalTradedVolume"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	LastPrice         float64 `json:"lastPrice"`
}

// OptionChain scrapes the nearest-expiry option chain for a symbol.
// Index underlyings use the indices endpoint, equities the equities one.
func (p *NSEProvider) OptionChain(ctx context.Context, symbol string) (*OptionsChain, error) {
	up := strings.ToUpper(strings.TrimSpace(symbol))

	endpoint := "/api/option-chain-equities?symbol="
	if IsIndex(up) {
		endpoint = "/api/option-chain-indices?symbol="
		if up == "NIFTY 50" {
			up = "NIFTY"
		}
	}

	var parsed nseOptionChainResponse
	if err := p.fetchJSON(ctx, endpoint+url.QueryEscape(up), &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Records.Data) == 0 || len(parsed.Records.ExpiryDates) == 0 {
		return nil, ErrNoData
	}

	nearest := parsed.Records.ExpiryDates[0]
	chain := &OptionsChain{
		Symbol: up,
		Expiry: nearest,
		Spot:   parsed.Records.UnderlyingValue,
	}

	for _, row := range parsed.Records.Data {
		if row.ExpiryDate != nearest {
			continue
		}
		strike := StrikeRow{Strike: row.StrikePrice}
		if row.CE != nil {
			strike.CE = OptionLeg{
				OI:     int64(row.CE.OpenInterest),
				Volume: int64(row.CE.TotalTradedVolume),
				IV:     row.CE.ImpliedVolatility,
				LTP:    row.CE.LastPrice,
			}
		}
		if row.PE != nil {
			strike.PE = OptionLeg{
				OI:     int64(row.PE.OpenInterest),
				Volume: int64(row.PE.TotalTradedVolume),
				IV:     row.PE.ImpliedVolatility,
				LTP:    row.PE.LastPrice,
			}
		}
		chain.Strikes = append(chain.Strikes, strike)
	}

	if len(chain.Strikes) == 0 {
		return nil, ErrNoData
	}

	DeriveChainAggregates(chain)
	return chain, nil
}
