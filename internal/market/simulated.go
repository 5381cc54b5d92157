package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Reference price levels for instruments with no free public feed.
// Values anchor the simulator; the daily walk stays within its band.
var simBasePrices = map[string]float64{
	"GOLD":       72500,
	"GOLDM":      72500,
	"GOLDPETAL":  7250,
	"SILVER":     91000,
	"SILVERM":    91000,
	"CRUDEOIL":   6800,
	"NATURALGAS": 245,
	"COPPER":     855,
	"ZINC":       265,
	"LEAD":       187,
	"ALUMINIUM":  235,
	"NICKEL":     1620,
	"COTTON":     56500,
	"MENTHAOIL":  935,
	"CASTORSEED": 6150,

	"USDINR": 83.50,
	"EURINR": 90.20,
	"GBPINR": 105.80,
	"JPYINR": 0.556,
	"AUDINR": 54.90,
	"CADINR": 61.30,
	"CHFINR": 94.60,
	"SGDINR": 62.10,
	"HKDINR": 10.70,
	"CNHINR": 11.55,
}

// SimulatedProvider synthesizes deterministic quotes and bars for MCX and
// CDS instruments. The same (symbol, date) always produces the same
// numbers, so repeated cycles see a stable market.
type SimulatedProvider struct {
	now func() time.Time
}

// NewSimulatedProvider creates the simulator tier
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{now: time.Now}
}

// Name identifies this tier in quote sources and logs
func (p *SimulatedProvider) Name() string { return "simulated" }

// Supports reports whether the simulator may serve this exchange.
// Real instruments (NSE/BSE) are never simulated.
func (p *SimulatedProvider) Supports(exchange string) bool {
	return strings.EqualFold(exchange, ExchangeMCX) || strings.EqualFold(exchange, ExchangeCDS)
}

// maxDailyMove returns the bounded move for the instrument class
func maxDailyMove(exchange string) float64 {
	if strings.EqualFold(exchange, ExchangeCDS) {
		return 0.005
	}
	return 0.015
}

// seedFor hashes (symbol, date) into a stable RNG seed
func seedFor(symbol string, day time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	h.Write([]byte{'|'})
	h.Write([]byte(day.Format("2006-01-02")))
	return int64(h.Sum64())
}

// dayBar generates the deterministic OHLC for one day
func (p *SimulatedProvider) dayBar(symbol, exchange string, day time.Time) Candle {
	base, ok := simBasePrices[strings.ToUpper(symbol)]
	if !ok {
		base = 100
	}

	bound := maxDailyMove(exchange)
	rng := rand.New(rand.NewSource(seedFor(symbol, day)))

	// Open anchors off yesterday's close so consecutive bars connect.
	prevRng := rand.New(rand.NewSource(seedFor(symbol, day.AddDate(0, 0, -1))))
	prevMove := (prevRng.Float64()*2 - 1) * bound
	open := base * (1 + prevMove)

	move := (rng.Float64()*2 - 1) * bound
	closePx := base * (1 + move)

	high := math.Max(open, closePx) * (1 + rng.Float64()*bound/3)
	low := math.Min(open, closePx) * (1 - rng.Float64()*bound/3)
	volume := float64(10000 + rng.Intn(90000))

	return Candle{
		Timestamp: time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location()),
		Open:      round2(open),
		High:      round2(high),
		Low:       round2(low),
		Close:     round2(closePx),
		Volume:    volume,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Quote synthesizes today's snapshot
func (p *SimulatedProvider) Quote(ctx context.Context, symbol, exchange string) (*Quote, error) {
	if !p.Supports(exchange) {
		return nil, ErrNoData
	}

	today := p.now()
	bar := p.dayBar(symbol, exchange, today)
	prev := p.dayBar(symbol, exchange, today.AddDate(0, 0, -1))

	q := &Quote{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange:  strings.ToUpper(exchange),
		LTP:       bar.Close,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		PrevClose: prev.Close,
		Volume:    int64(bar.Volume),
		Timestamp: today,
		Source:    p.Name(),
	}
	if q.PrevClose > 0 {
		q.Change = round2(q.LTP - q.PrevClose)
		q.ChangePercent = round2(q.Change / q.PrevClose * 10000) / 100
	}

	return q, nil
}

// History synthesizes bars over the window. Daily and coarser intervals
// emit one bar per day; intraday intervals subdivide the day's range
// with the same seeded stream.
func (p *SimulatedProvider) History(ctx context.Context, symbol, interval string, from, to time.Time, exchange string) ([]Candle, error) {
	if !p.Supports(exchange) {
		return nil, ErrNoData
	}
	if !to.After(from) {
		return nil, ErrNoData
	}

	step := intervalDuration(MapInterval(interval))
	if step >= 24*time.Hour {
		return p.dailyHistory(symbol, exchange, from, to, step), nil
	}
	return p.intradayHistory(symbol, exchange, from, to, step), nil
}

// intervalDuration converts a canonical interval to a step size
func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "1wk":
		return 7 * 24 * time.Hour
	case "1mo":
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (p *SimulatedProvider) dailyHistory(symbol, exchange string, from, to time.Time, step time.Duration) []Candle {
	var candles []Candle
	for day := from; day.Before(to); day = day.Add(step) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		candles = append(candles, p.dayBar(symbol, exchange, day))
	}
	return candles
}

func (p *SimulatedProvider) intradayHistory(symbol, exchange string, from, to time.Time, step time.Duration) []Candle {
	var candles []Candle

	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		bar := p.dayBar(symbol, exchange, day)
		rng := rand.New(rand.NewSource(seedFor(symbol, day) ^ 0x5bd1e995))

		// Trade the day 09:00-17:00 local, wandering between the
		// day bar's open and close within its high/low band.
		open := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location())
		closeT := open.Add(8 * time.Hour)
		steps := int(closeT.Sub(open) / step)
		if steps <= 0 {
			continue
		}

		price := bar.Open
		for i := 0; i < steps; i++ {
			ts := open.Add(time.Duration(i) * step)
			if ts.Before(from) || !ts.Before(to) {
				// Keep consuming the stream so bars stay aligned.
				price = nextSimPrice(rng, price, bar, i, steps)
				continue
			}

			next := nextSimPrice(rng, price, bar, i, steps)
			c := Candle{
				Timestamp: ts,
				Open:      round2(price),
				Close:     round2(next),
				High:      round2(math.Max(price, next) * (1 + rng.Float64()*0.001)),
				Low:       round2(math.Min(price, next) * (1 - rng.Float64()*0.001)),
				Volume:    float64(500 + rng.Intn(4500)),
			}
			candles = append(candles, c)
			price = next
		}
	}

	return candles
}

// nextSimPrice steps the intraday walk, pulled toward the day close so
// the last bar lands near it, clamped to the day's range.
func nextSimPrice(rng *rand.Rand, price float64, bar Candle, i, steps int) float64 {
	remaining := float64(steps - i)
	drift := (bar.Close - price) / remaining
	noise := (rng.Float64()*2 - 1) * (bar.High - bar.Low) / float64(steps)
	next := price + drift + noise

	if next > bar.High {
		next = bar.High
	}
	if next < bar.Low {
		next = bar.Low
	}
	return next
}
