package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestUpdaterRefreshesGauges(t *testing.T) {
	var calls atomic.Int32
	u := NewUpdater(func() Snapshot {
		calls.Add(1)
		return Snapshot{RunningBots: 3, ActiveAgents: 1, OpenPositions: 4, NAV: 101250.75}
	}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Start(ctx)
	defer u.Stop()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(RunningBots))
	assert.Equal(t, 1.0, testutil.ToFloat64(ActiveAgents))
	assert.Equal(t, 4.0, testutil.ToFloat64(OpenPositions))
	assert.InDelta(t, 101250.75, testutil.ToFloat64(PortfolioNAV), 1e-9)
}

func TestUpdaterStops(t *testing.T) {
	var calls atomic.Int32
	u := NewUpdater(func() Snapshot {
		calls.Add(1)
		return Snapshot{}
	}, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		u.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	u.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updater did not stop")
	}
}

func TestUpdaterDefaultInterval(t *testing.T) {
	u := NewUpdater(func() Snapshot { return Snapshot{} }, 0)
	assert.Equal(t, 15*time.Second, u.interval)
}
