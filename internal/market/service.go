package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/metrics"
)

// Service is the tiered market data facade. Reads walk the tiers in
// order (cache, chart, exchange scrape, broker, simulator) and return
// the first usable result.
type Service struct {
	cache *Cache
	chart *ChartProvider
	nse   *NSEProvider
	kite  *KiteProvider
	sim   *SimulatedProvider

	fetchTimeout time.Duration
}

// NewService wires the tier stack. cache and kite may be nil; those
// tiers are skipped.
func NewService(cache *Cache, chart *ChartProvider, nse *NSEProvider, kite *KiteProvider, sim *SimulatedProvider, fetchTimeout time.Duration) *Service {
	if fetchTimeout == 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Service{
		cache:        cache,
		chart:        chart,
		nse:          nse,
		kite:         kite,
		sim:          sim,
		fetchTimeout: fetchTimeout,
	}
}

// quoteKey builds the cache key for a quote
func quoteKey(symbol, exchange string) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(exchange), strings.ToUpper(strings.TrimSpace(symbol)))
}

// GetQuote walks the tiers for a quote. It never fails: when every tier
// comes up empty the returned quote carries zero values and the symbol.
func (s *Service) GetQuote(ctx context.Context, symbol, exchange string) *Quote {
	exchange = ResolveExchange(symbol, exchange)
	key := quoteKey(symbol, exchange)

	var cached Quote
	if s.cache.Get(ctx, CacheKindQuote, key, &cached) && cached.Valid() {
		return &cached
	}

	type quoteTier struct {
		name string
		fn   func(context.Context) (*Quote, error)
	}

	var tiers []quoteTier
	if s.chart != nil {
		tiers = append(tiers, quoteTier{"chart", func(c context.Context) (*Quote, error) {
			return s.chart.Quote(c, symbol, exchange)
		}})
	}
	if s.nse != nil && strings.EqualFold(exchange, ExchangeNSE) && !IsIndex(symbol) {
		tiers = append(tiers, quoteTier{"nse", func(c context.Context) (*Quote, error) {
			return s.nse.Quote(c, symbol, exchange)
		}})
	}
	if s.kite != nil {
		tiers = append(tiers, quoteTier{"kite", func(c context.Context) (*Quote, error) {
			return s.kite.Quote(c, symbol, exchange)
		}})
	}
	if s.sim != nil && s.sim.Supports(exchange) {
		tiers = append(tiers, quoteTier{"simulated", func(c context.Context) (*Quote, error) {
			return s.sim.Quote(c, symbol, exchange)
		}})
	}

	for _, tier := range tiers {
		tierCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		q, err := tier.fn(tierCtx)
		cancel()

		if err != nil || !q.Valid() {
			if err != nil {
				log.Debug().
					Err(err).
					Str("tier", tier.name).
					Str("symbol", symbol).
					Msg("Quote tier failed, falling through")
			}
			metrics.RecordTierFallback(tier.name)
			continue
		}

		// Zero-LTP quotes never reach the cache.
		s.cache.SetAsync(CacheKindQuote, key, q)
		return q
	}

	log.Warn().
		Str("symbol", symbol).
		Str("exchange", exchange).
		Msg("All quote tiers failed, returning empty quote")

	return &Quote{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange:  exchange,
		Timestamp: time.Now(),
		Source:    "none",
	}
}

// GetHistory walks the tiers for bars, returning the first non-empty
// ordered sequence. An empty slice with nil error means no tier had data.
func (s *Service) GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange string) ([]Candle, error) {
	exchange = ResolveExchange(symbol, exchange)
	interval = MapInterval(interval)
	key := fmt.Sprintf("%s:%s:%d:%d", quoteKey(symbol, exchange), interval, from.Unix(), to.Unix())

	var cached []Candle
	if s.cache.Get(ctx, CacheKindHistory, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	type historyTier struct {
		name string
		fn   func(context.Context) ([]Candle, error)
	}

	var tiers []historyTier
	if s.chart != nil {
		tiers = append(tiers, historyTier{"chart", func(c context.Context) ([]Candle, error) {
			return s.chart.History(c, symbol, interval, from, to, exchange)
		}})
	}
	if s.kite != nil {
		tiers = append(tiers, historyTier{"kite", func(c context.Context) ([]Candle, error) {
			return s.kite.History(c, symbol, interval, from, to, exchange)
		}})
	}
	if s.sim != nil && s.sim.Supports(exchange) {
		tiers = append(tiers, historyTier{"simulated", func(c context.Context) ([]Candle, error) {
			return s.sim.History(c, symbol, interval, from, to, exchange)
		}})
	}

	for _, tier := range tiers {
		tierCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		candles, err := tier.fn(tierCtx)
		cancel()

		if err != nil || len(candles) == 0 {
			if err != nil {
				log.Debug().
					Err(err).
					Str("tier", tier.name).
					Str("symbol", symbol).
					Msg("History tier failed, falling through")
			}
			continue
		}

		sort.Slice(candles, func(i, j int) bool {
			return candles[i].Timestamp.Before(candles[j].Timestamp)
		})

		s.cache.SetAsync(CacheKindHistory, key, candles)
		return candles, nil
	}

	return nil, nil
}

// Search matches the static catalogue, optionally caching the result set
func (s *Service) Search(ctx context.Context, query string, limit int, exchange string) []SearchResult {
	if limit <= 0 {
		limit = 10
	}
	key := fmt.Sprintf("%s:%d:%s", strings.ToLower(strings.TrimSpace(query)), limit, strings.ToUpper(exchange))

	var cached []SearchResult
	if s.cache.Get(ctx, CacheKindSearch, key, &cached) && len(cached) > 0 {
		return cached
	}

	results := SearchCatalogue(query, limit, exchange)
	if len(results) > 0 {
		s.cache.SetAsync(CacheKindSearch, key, results)
	}
	return results
}

// GetIndices returns the four key index snapshots
func (s *Service) GetIndices(ctx context.Context) []IndexQuote {
	var cached []IndexQuote
	if s.cache.Get(ctx, CacheKindIndices, "key-indices", &cached) && len(cached) > 0 {
		return cached
	}

	if s.chart == nil {
		return nil
	}

	tierCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	indices, err := s.chart.Indices(tierCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Index fetch failed")
		return nil
	}

	s.cache.SetAsync(CacheKindIndices, "key-indices", indices)
	return indices
}

// GetVIX returns the India VIX snapshot, zeros when unreachable
func (s *Service) GetVIX(ctx context.Context) *VIXQuote {
	var cached VIXQuote
	if s.cache.Get(ctx, CacheKindIndices, "vix", &cached) && cached.Value > 0 {
		return &cached
	}

	if s.chart != nil {
		tierCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		vix, err := s.chart.VIX(tierCtx)
		cancel()
		if err == nil && vix.Value > 0 {
			s.cache.SetAsync(CacheKindIndices, "vix", vix)
			return vix
		}
		if err != nil {
			log.Debug().Err(err).Msg("VIX fetch failed")
		}
	}

	return &VIXQuote{}
}

// GetTopMovers ranks the equity catalogue by percent change
func (s *Service) GetTopMovers(ctx context.Context, count int) *Movers {
	if count <= 0 {
		count = 5
	}

	symbols := EquitySymbols()
	quotesChan := make(chan *Quote, len(symbols))
	semaphore := make(chan struct{}, 4)

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			q := s.GetQuote(ctx, symbol, ExchangeNSE)
			if q.Valid() {
				quotesChan <- q
			}
		}(sym)
	}

	go func() {
		wg.Wait()
		close(quotesChan)
	}()

	var quotes []Quote
	for q := range quotesChan {
		quotes = append(quotes, *q)
	}

	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].ChangePercent > quotes[j].ChangePercent
	})

	movers := &Movers{}
	for i := 0; i < len(quotes) && i < count; i++ {
		movers.Gainers = append(movers.Gainers, quotes[i])
	}
	for i := len(quotes) - 1; i >= 0 && len(movers.Losers) < count; i-- {
		movers.Losers = append(movers.Losers, quotes[i])
	}

	return movers
}

// GetOptionsChain returns the chain with derived aggregates
func (s *Service) GetOptionsChain(ctx context.Context, symbol string) (*OptionsChain, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	var cached OptionsChain
	if s.cache.Get(ctx, CacheKindOptions, key, &cached) && len(cached.Strikes) > 0 {
		return &cached, nil
	}

	if s.nse == nil {
		return nil, ErrNoData
	}

	tierCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	chain, err := s.nse.OptionChain(tierCtx, symbol)
	if err != nil {
		return nil, err
	}

	s.cache.SetAsync(CacheKindOptions, key, chain)
	return chain, nil
}

// Health reports cache reachability (providers are best-effort by design)
func (s *Service) Health(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Health(ctx)
}
