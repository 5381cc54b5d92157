package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeveda/tradeveda/internal/store"
)

// startEmbeddedNATS starts an in-process broker on a random port
func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestConnectEmptyURLDisables(t *testing.T) {
	pub, err := Connect("")
	require.NoError(t, err)
	assert.Nil(t, pub)

	// Nil publisher must be safe to use and close.
	pub.PublishSignal("user-1", &store.Signal{ID: uuid.New()})
	pub.PublishTrade("user-1", &store.ClosedTrade{ID: uuid.New()})
	pub.PublishBotStatus(uuid.New(), "RUNNING")
	pub.Close()
}

func TestConnectBadURL(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1")
	assert.Error(t, err)
}

func TestPublishSignalRoundTrip(t *testing.T) {
	ns := startEmbeddedNATS(t)

	pub, err := Connect(ns.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("tradeveda.signals.user-1", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sig := &store.Signal{
		ID:             uuid.New(),
		UserID:         "user-1",
		Symbol:         "RELIANCE",
		Exchange:       "NSE",
		SignalType:     store.SignalTypeBuy,
		CompositeScore: 0.78,
		Status:         store.SignalStatusPending,
		EntryPrice:     2500,
	}
	pub.PublishSignal("user-1", sig)

	select {
	case msg := <-received:
		var event SignalEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		assert.Equal(t, sig.ID.String(), event.SignalID)
		assert.Equal(t, "RELIANCE", event.Symbol)
		assert.Equal(t, "BUY", event.SignalType)
		assert.InDelta(t, 0.78, event.Score, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("signal event not received")
	}
}

func TestPublishTradeAndBotStatus(t *testing.T) {
	ns := startEmbeddedNATS(t)

	pub, err := Connect(ns.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	trades := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("tradeveda.trades.user-1", trades)
	require.NoError(t, err)

	botID := uuid.New()
	statuses := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("tradeveda.bots."+botID.String()+".status", statuses)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub.PublishTrade("user-1", &store.ClosedTrade{
		ID:      uuid.New(),
		Symbol:  "TCS",
		Side:    store.SignalTypeSell,
		Pnl:     -120.5,
		Outcome: store.OutcomeLoss,
	})
	pub.PublishBotStatus(botID, "IDLE")

	select {
	case msg := <-trades:
		var event TradeEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		assert.Equal(t, "LOSS", event.Outcome)
		assert.InDelta(t, -120.5, event.NetPnl, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("trade event not received")
	}

	select {
	case msg := <-statuses:
		var event BotStatusEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		assert.Equal(t, "IDLE", event.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("status event not received")
	}
}
