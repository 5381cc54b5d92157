package pipeline

import (
	"math"
	"sync"

	"github.com/tradeveda/tradeveda/internal/store"
)

// breakevenBand is the absolute PnL below which a trade is BREAKEVEN
const breakevenBand = 10.0

// ClassifyOutcome tags a closed trade by its signed net PnL
func ClassifyOutcome(netPnl float64) store.OutcomeTag {
	if math.Abs(netPnl) < breakevenBand {
		return store.OutcomeBreakeven
	}
	if netPnl > 0 {
		return store.OutcomeWin
	}
	return store.OutcomeLoss
}

// Accuracy is a strategy's rolling performance snapshot
type Accuracy struct {
	StrategyID string  `json:"strategyId"`
	Accuracy   float64 `json:"accuracy"`
	Size       int     `json:"size"`
	Wins       int     `json:"wins"`
}

// Tracker owns the per-strategy rolling outcome windows. The pipeline
// is the single writer; everything else reads snapshots.
type Tracker struct {
	mu         sync.RWMutex
	windows    map[string][]store.OutcomeTag
	window     int
	pauseBelow float64
}

// NewTracker creates a tracker with the given window cap and the
// accuracy threshold below which a strategy should pause.
func NewTracker(window int, pauseBelow float64) *Tracker {
	if window <= 0 {
		window = 20
	}
	if pauseBelow <= 0 {
		pauseBelow = 0.35
	}
	return &Tracker{
		windows:    make(map[string][]store.OutcomeTag),
		window:     window,
		pauseBelow: pauseBelow,
	}
}

// Record appends an outcome to the strategy's window, dropping the
// oldest entry past the cap, and reports whether the strategy should
// auto-pause: at least five outcomes with accuracy under the threshold.
// BREAKEVEN counts as a non-win.
func (t *Tracker) Record(strategyID string, outcome store.OutcomeTag) (Accuracy, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := append(t.windows[strategyID], outcome)
	if len(window) > t.window {
		window = window[len(window)-t.window:]
	}
	t.windows[strategyID] = window

	acc := summarize(strategyID, window)
	shouldPause := acc.Size >= 5 && acc.Accuracy < t.pauseBelow
	return acc, shouldPause
}

// Accuracy returns the strategy's current snapshot
func (t *Tracker) Accuracy(strategyID string) Accuracy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return summarize(strategyID, t.windows[strategyID])
}

// Snapshot returns every tracked strategy's accuracy
func (t *Tracker) Snapshot() []Accuracy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Accuracy, 0, len(t.windows))
	for id, window := range t.windows {
		out = append(out, summarize(id, window))
	}
	return out
}

// Seed restores a strategy's window, oldest first. Used at startup to
// rebuild state from persisted outcomes.
func (t *Tracker) Seed(strategyID string, outcomes []store.OutcomeTag) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(outcomes) > t.window {
		outcomes = outcomes[len(outcomes)-t.window:]
	}
	t.windows[strategyID] = append([]store.OutcomeTag(nil), outcomes...)
}

func summarize(strategyID string, window []store.OutcomeTag) Accuracy {
	acc := Accuracy{StrategyID: strategyID, Size: len(window)}
	if len(window) == 0 {
		return acc
	}
	for _, o := range window {
		if o == store.OutcomeWin {
			acc.Wins++
		}
	}
	acc.Accuracy = float64(acc.Wins) / float64(len(window))
	return acc
}
