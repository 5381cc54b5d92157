package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is one refresh of the slow-moving gauges
type Snapshot struct {
	RunningBots   int
	ActiveAgents  int
	OpenPositions int
	NAV           float64
}

// Updater refreshes scheduler and portfolio gauges on an interval. The
// fetch callback gathers the snapshot; counters are recorded inline at
// their call sites and need no updater.
type Updater struct {
	fetch    func() Snapshot
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates an updater over a snapshot callback
func NewUpdater(fetch func() Snapshot, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Updater{
		fetch:    fetch,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop until Stop or ctx cancellation. The first
// refresh happens immediately.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.refresh()

	for {
		select {
		case <-ticker.C:
			u.refresh()
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the refresh loop
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) refresh() {
	snap := u.fetch()
	RunningBots.Set(float64(snap.RunningBots))
	ActiveAgents.Set(float64(snap.ActiveAgents))
	OpenPositions.Set(float64(snap.OpenPositions))
	PortfolioNAV.Set(snap.NAV)
}
