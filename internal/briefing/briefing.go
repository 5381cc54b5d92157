// Package briefing assembles the pre-market briefing: key index
// snapshots, India VIX, top movers, recent news headlines, and an LLM
// summary. Briefings are cached with a freshness window of 10 minutes
// during market hours and 30 minutes otherwise; concurrent rebuilds are
// collapsed with singleflight.
package briefing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tradeveda/tradeveda/internal/llm"
	"github.com/tradeveda/tradeveda/internal/market"
)

const (
	freshMarketHours = 10 * time.Minute
	freshOffHours    = 30 * time.Minute
	moversCount      = 5
	maxHeadlines     = 10
)

var istZone = time.FixedZone("IST", 5*3600+30*60)

// MarketData is the market surface the briefing needs
type MarketData interface {
	GetIndices(ctx context.Context) []market.IndexQuote
	GetVIX(ctx context.Context) *market.VIXQuote
	GetTopMovers(ctx context.Context, count int) *market.Movers
}

// Summarizer turns the market snapshot into briefing prose
type Summarizer interface {
	GenerateBriefing(ctx context.Context, bc llm.BriefingContext) (string, error)
}

// Briefing is one generated pre-market briefing
type Briefing struct {
	Text        string              `json:"text"`
	Indices     []market.IndexQuote `json:"indices"`
	VIX         *market.VIXQuote    `json:"vix"`
	Movers      *market.Movers      `json:"movers"`
	Headlines   []string            `json:"headlines"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// Service builds and caches briefings
type Service struct {
	md         MarketData
	summarizer Summarizer

	mu        sync.RWMutex
	cached    *Briefing
	headlines []string

	group singleflight.Group
	now   func() time.Time
}

// New creates a briefing service
func New(md MarketData, summarizer Summarizer) *Service {
	return &Service{
		md:         md,
		summarizer: summarizer,
		now:        time.Now,
	}
}

// SetHeadlines replaces the headline buffer. The news-fetch job calls
// this as stories arrive; only the newest entries are kept.
func (s *Service) SetHeadlines(headlines []string) {
	if len(headlines) > maxHeadlines {
		headlines = headlines[:maxHeadlines]
	}
	s.mu.Lock()
	s.headlines = append([]string(nil), headlines...)
	s.mu.Unlock()
}

// Get returns the current briefing, rebuilding it when the cached copy
// is older than the freshness window.
func (s *Service) Get(ctx context.Context) (*Briefing, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()

	if cached != nil && s.now().Sub(cached.GeneratedAt) < s.freshness() {
		return cached, nil
	}

	result, err, _ := s.group.Do("briefing", func() (interface{}, error) {
		// A racer may have rebuilt while this call waited.
		s.mu.RLock()
		current := s.cached
		s.mu.RUnlock()
		if current != nil && s.now().Sub(current.GeneratedAt) < s.freshness() {
			return current, nil
		}
		return s.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Briefing), nil
}

// freshness picks the cache window for the current wall-clock time
func (s *Service) freshness() time.Duration {
	if marketHours(s.now()) {
		return freshMarketHours
	}
	return freshOffHours
}

// marketHours reports whether t falls in the NSE session, 09:15-15:30
// IST on weekdays.
func marketHours(t time.Time) bool {
	ist := t.In(istZone)
	if ist.Weekday() == time.Saturday || ist.Weekday() == time.Sunday {
		return false
	}
	minutes := ist.Hour()*60 + ist.Minute()
	return minutes >= 9*60+15 && minutes <= 15*60+30
}

func (s *Service) rebuild(ctx context.Context) (*Briefing, error) {
	indices := s.md.GetIndices(ctx)
	vix := s.md.GetVIX(ctx)
	movers := s.md.GetTopMovers(ctx, moversCount)

	s.mu.RLock()
	headlines := append([]string(nil), s.headlines...)
	s.mu.RUnlock()

	bc := llm.BriefingContext{
		VIX:       vix.Value,
		VIXChange: vix.ChangePercent,
		Headlines: headlines,
	}
	for _, idx := range indices {
		bc.Indices = append(bc.Indices, llm.IndexLine{
			Name:          idx.Name,
			Value:         idx.Value,
			ChangePercent: idx.ChangePercent,
		})
	}
	if movers != nil {
		for _, q := range movers.Gainers {
			bc.Gainers = append(bc.Gainers, llm.SymbolQuote{Symbol: q.Symbol, LTP: q.LTP, ChangePercent: q.ChangePercent})
		}
		for _, q := range movers.Losers {
			bc.Losers = append(bc.Losers, llm.SymbolQuote{Symbol: q.Symbol, LTP: q.LTP, ChangePercent: q.ChangePercent})
		}
	}

	var text string
	if s.summarizer != nil {
		var err error
		text, err = s.summarizer.GenerateBriefing(ctx, bc)
		if err != nil {
			log.Warn().Err(err).Msg("LLM briefing failed, using plain summary")
			text = plainSummary(bc)
		}
	} else {
		text = plainSummary(bc)
	}

	briefing := &Briefing{
		Text:        text,
		Indices:     indices,
		VIX:         vix,
		Movers:      movers,
		Headlines:   headlines,
		GeneratedAt: s.now(),
	}

	s.mu.Lock()
	s.cached = briefing
	s.mu.Unlock()

	log.Info().Int("indices", len(indices)).Int("headlines", len(headlines)).Msg("Briefing rebuilt")
	return briefing, nil
}

// plainSummary is the deterministic fallback when the LLM is unavailable
func plainSummary(bc llm.BriefingContext) string {
	var b strings.Builder
	for _, idx := range bc.Indices {
		fmt.Fprintf(&b, "%s at %.2f (%+.2f%%). ", idx.Name, idx.Value, idx.ChangePercent)
	}
	if bc.VIX > 0 {
		fmt.Fprintf(&b, "India VIX %.2f (%+.2f%%). ", bc.VIX, bc.VIXChange)
	}
	if len(bc.Gainers) > 0 {
		fmt.Fprintf(&b, "Top gainer %s %+.2f%%. ", bc.Gainers[0].Symbol, bc.Gainers[0].ChangePercent)
	}
	if len(bc.Losers) > 0 {
		fmt.Fprintf(&b, "Top loser %s %+.2f%%.", bc.Losers[0].Symbol, bc.Losers[0].ChangePercent)
	}
	if b.Len() == 0 {
		return "Market data is currently unavailable."
	}
	return strings.TrimSpace(b.String())
}
