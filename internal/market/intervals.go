package market

import "strings"

// canonical bar intervals accepted by every provider
var canonicalIntervals = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "1d": true, "1wk": true, "1mo": true,
}

// intervalAliases maps common spellings onto the canonical vocabulary
var intervalAliases = map[string]string{
	"1min":    "1m",
	"5min":    "5m",
	"15min":   "15m",
	"30min":   "30m",
	"60m":     "1h",
	"60min":   "1h",
	"hour":    "1h",
	"day":     "1d",
	"daily":   "1d",
	"week":    "1wk",
	"1w":      "1wk",
	"weekly":  "1wk",
	"month":   "1mo",
	"monthly": "1mo",
}

// MapInterval normalizes an interval string onto the canonical vocabulary.
// Idempotent: canonical values map to themselves. Unknown values fall back
// to 1d.
func MapInterval(interval string) string {
	in := strings.ToLower(strings.TrimSpace(interval))
	if canonicalIntervals[in] {
		return in
	}
	if mapped, ok := intervalAliases[in]; ok {
		return mapped
	}
	return "1d"
}

// kiteIntervals converts a canonical interval to the broker API vocabulary
var kiteIntervals = map[string]string{
	"1m":  "minute",
	"5m":  "5minute",
	"15m": "15minute",
	"30m": "30minute",
	"1h":  "60minute",
	"1d":  "day",
	"1wk": "day",
	"1mo": "day",
}

// KiteInterval converts a canonical interval to the broker's spelling
func KiteInterval(interval string) string {
	if v, ok := kiteIntervals[MapInterval(interval)]; ok {
		return v
	}
	return "day"
}
