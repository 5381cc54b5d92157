// Package events publishes signal, trade, and bot-status events over
// NATS so UIs and downstream consumers can react without polling. The
// publisher is nil-safe: with no broker configured every publish is a
// no-op.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/store"
)

// Subject templates
const (
	subjectSignals   = "tradeveda.signals.%s"    // per user
	subjectTrades    = "tradeveda.trades.%s"     // per user
	subjectBotStatus = "tradeveda.bots.%s.status" // per bot
)

// Publisher fans events out over NATS
type Publisher struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection. An empty URL disables
// publishing and returns a nil publisher, which is safe to use.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		log.Info().Msg("Event publishing disabled: no NATS URL configured")
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("tradeveda-server"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", url).Msg("Connected to NATS")
	return &Publisher{conn: conn}, nil
}

// SignalEvent is the wire shape for signal events
type SignalEvent struct {
	SignalID   string    `json:"signalId"`
	UserID     string    `json:"userId"`
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	SignalType string    `json:"signalType"`
	Score      float64   `json:"score"`
	Status     string    `json:"status"`
	EntryPrice float64   `json:"entryPrice"`
	Timestamp  time.Time `json:"timestamp"`
}

// TradeEvent is the wire shape for closed-trade events
type TradeEvent struct {
	TradeID   string    `json:"tradeId"`
	UserID    string    `json:"userId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  int       `json:"quantity"`
	NetPnl    float64   `json:"netPnl"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// BotStatusEvent is the wire shape for bot lifecycle events
type BotStatusEvent struct {
	BotID     string    `json:"botId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishSignal emits a signal event on the user's subject
func (p *Publisher) PublishSignal(userID string, sig *store.Signal) {
	p.publish(fmt.Sprintf(subjectSignals, userID), SignalEvent{
		SignalID:   sig.ID.String(),
		UserID:     userID,
		Symbol:     sig.Symbol,
		Exchange:   sig.Exchange,
		SignalType: string(sig.SignalType),
		Score:      sig.CompositeScore,
		Status:     string(sig.Status),
		EntryPrice: sig.EntryPrice,
		Timestamp:  time.Now(),
	})
}

// PublishTrade emits a closed-trade event on the user's subject
func (p *Publisher) PublishTrade(userID string, trade *store.ClosedTrade) {
	p.publish(fmt.Sprintf(subjectTrades, userID), TradeEvent{
		TradeID:   trade.ID.String(),
		UserID:    userID,
		Symbol:    trade.Symbol,
		Side:      string(trade.Side),
		Quantity:  trade.Quantity,
		NetPnl:    trade.Pnl,
		Outcome:   string(trade.Outcome),
		Timestamp: time.Now(),
	})
}

// PublishBotStatus emits a bot lifecycle event
func (p *Publisher) PublishBotStatus(botID uuid.UUID, status string) {
	p.publish(fmt.Sprintf(subjectBotStatus, botID.String()), BotStatusEvent{
		BotID:     botID.String(),
		Status:    status,
		Timestamp: time.Now(),
	})
}

// publish is fire-and-forget: a failed publish is logged, never fatal
func (p *Publisher) publish(subject string, event interface{}) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Close drains and closes the connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
	}
	p.conn.Close()
}
