// Package portfolio simulates a paper-trading book. Every user gets an
// isolated account with virtual cash; market orders fill immediately at
// the supplied LTP adjusted for slippage, with fees charged per fill.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoOpenPosition is returned when closing a symbol the user does
	// not hold.
	ErrNoOpenPosition = errors.New("no open position for symbol")
	// ErrInsufficientFunds is returned when a buy exceeds available cash
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Side is the direction of an open position
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is one open holding in a paper account
type Position struct {
	ID        uuid.UUID `json:"id"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Side      Side      `json:"side"`
	Quantity  int64     `json:"quantity"`
	AvgPrice  float64   `json:"avgPrice"`
	EntryFees float64   `json:"entryFees"`
	OpenedAt  time.Time `json:"openedAt"`
}

// Trade is one closed round-trip produced by a closing fill
type Trade struct {
	ID         uuid.UUID `json:"id"`
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	Fees       float64   `json:"fees"`
	NetPnl     float64   `json:"netPnl"`
	OpenedAt   time.Time `json:"openedAt"`
	ClosedAt   time.Time `json:"closedAt"`
}

// Fill describes how an order executed
type Fill struct {
	OrderID   uuid.UUID `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"` // BUY or SELL
	Quantity  int64     `json:"quantity"`
	Price     float64   `json:"price"` // after slippage
	Fees      float64   `json:"fees"`
	Opened    bool      `json:"opened"` // false when the fill closed an existing position
	Trade     *Trade    `json:"trade,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is a market order against the paper book
type Order struct {
	Symbol   string
	Exchange string
	Side     string // BUY or SELL
	Quantity int64
	LTP      float64
}

// Summary is a point-in-time account snapshot
type Summary struct {
	Cash          float64    `json:"cash"`
	NAV           float64    `json:"nav"`
	UnrealizedPnl float64    `json:"unrealizedPnl"`
	RealizedPnl   float64    `json:"realizedPnl"`
	Positions     []Position `json:"positions"`
}

// account is one user's paper book
type account struct {
	cash        float64
	realizedPnl float64
	positions   map[string]*Position
}

// Engine holds every user's paper account in memory
type Engine struct {
	mu             sync.RWMutex
	accounts       map[string]*account
	initialCapital float64
	feeBPS         float64
	slippageBPS    float64
}

// Config contains the paper book parameters
type Config struct {
	InitialCapital float64
	FeeBPS         float64
	SlippageBPS    float64
}

// NewEngine creates a paper portfolio engine
func NewEngine(cfg Config) *Engine {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 1000000
	}

	log.Info().
		Float64("initial_capital", cfg.InitialCapital).
		Float64("fee_bps", cfg.FeeBPS).
		Float64("slippage_bps", cfg.SlippageBPS).
		Msg("Paper portfolio engine initialized")

	return &Engine{
		accounts:       make(map[string]*account),
		initialCapital: cfg.InitialCapital,
		feeBPS:         cfg.FeeBPS,
		slippageBPS:    cfg.SlippageBPS,
	}
}

// accountFor lazily creates the user's account. Callers hold e.mu.
func (e *Engine) accountFor(userID string) *account {
	acct, ok := e.accounts[userID]
	if !ok {
		acct = &account{
			cash:      e.initialCapital,
			positions: make(map[string]*Position),
		}
		e.accounts[userID] = acct
	}
	return acct
}

// fillPrice applies slippage against the order direction
func (e *Engine) fillPrice(side string, ltp float64) float64 {
	slip := ltp * e.slippageBPS / 10000
	if side == "BUY" {
		return round2(ltp + slip)
	}
	return round2(ltp - slip)
}

// fee charges the per-fill fee on notional
func (e *Engine) fee(price float64, qty int64) float64 {
	return round2(price * float64(qty) * e.feeBPS / 10000)
}

// ExecuteOrder fills a market order against the paper book. A BUY closes
// an existing SHORT before opening LONG; a SELL closes an existing LONG
// before opening SHORT.
func (e *Engine) ExecuteOrder(userID string, order Order) (*Fill, error) {
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", order.Quantity)
	}
	if order.LTP <= 0 {
		return nil, fmt.Errorf("cannot fill %s without a valid price", order.Symbol)
	}
	if order.Side != "BUY" && order.Side != "SELL" {
		return nil, fmt.Errorf("invalid order side: %s", order.Side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.accountFor(userID)
	price := e.fillPrice(order.Side, order.LTP)
	fees := e.fee(price, order.Quantity)
	now := time.Now()

	fill := &Fill{
		OrderID:   uuid.New(),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     price,
		Fees:      fees,
		Timestamp: now,
	}

	pos := acct.positions[order.Symbol]

	// A fill against an opposite position closes it. The whole position
	// settles regardless of the order size, so exit fees are charged on
	// the settled quantity.
	if pos != nil && opposes(pos.Side, order.Side) {
		fees = e.fee(price, pos.Quantity)
		fill.Fees = fees
		trade := acct.close(pos, price, fees, now)
		fill.Trade = trade
		fill.Quantity = trade.Quantity

		log.Info().
			Str("user_id", userID).
			Str("symbol", order.Symbol).
			Str("side", string(trade.Side)).
			Int64("quantity", trade.Quantity).
			Float64("net_pnl", trade.NetPnl).
			Msg("Paper position closed")

		return fill, nil
	}

	notional := price * float64(order.Quantity)
	if order.Side == "BUY" && notional+fees > acct.cash {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional+fees, acct.cash)
	}

	side := SideLong
	if order.Side == "SELL" {
		side = SideShort
	}

	if pos != nil {
		// Same direction: extend at the blended average price.
		total := pos.AvgPrice*float64(pos.Quantity) + notional
		pos.Quantity += order.Quantity
		pos.AvgPrice = round2(total / float64(pos.Quantity))
		pos.EntryFees += fees
	} else {
		acct.positions[order.Symbol] = &Position{
			ID:        uuid.New(),
			Symbol:    order.Symbol,
			Exchange:  order.Exchange,
			Side:      side,
			Quantity:  order.Quantity,
			AvgPrice:  price,
			EntryFees: fees,
			OpenedAt:  now,
		}
	}

	if order.Side == "BUY" {
		acct.cash -= notional + fees
	} else {
		acct.cash += notional - fees
	}
	fill.Opened = true

	log.Info().
		Str("user_id", userID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Int64("quantity", order.Quantity).
		Float64("price", price).
		Msg("Paper position opened")

	return fill, nil
}

// close settles the whole position at price. Callers hold e.mu.
func (a *account) close(pos *Position, price, exitFees float64, now time.Time) *Trade {
	qty := float64(pos.Quantity)
	var gross float64
	if pos.Side == SideLong {
		gross = (price - pos.AvgPrice) * qty
		a.cash += price*qty - exitFees
	} else {
		gross = (pos.AvgPrice - price) * qty
		a.cash -= price*qty + exitFees
	}

	fees := round2(pos.EntryFees + exitFees)
	net := round2(gross - fees)
	a.realizedPnl += net
	delete(a.positions, pos.Symbol)

	return &Trade{
		ID:         uuid.New(),
		Symbol:     pos.Symbol,
		Exchange:   pos.Exchange,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.AvgPrice,
		ExitPrice:  price,
		Fees:       fees,
		NetPnl:     net,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}
}

// ClosePosition closes the user's position in symbol at ltp
func (e *Engine) ClosePosition(userID, symbol string, ltp float64) (*Trade, error) {
	if ltp <= 0 {
		return nil, fmt.Errorf("cannot close %s without a valid price", symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.accountFor(userID)
	pos, ok := acct.positions[symbol]
	if !ok {
		return nil, ErrNoOpenPosition
	}

	// Closing a LONG sells, closing a SHORT buys back.
	orderSide := "SELL"
	if pos.Side == SideShort {
		orderSide = "BUY"
	}
	price := e.fillPrice(orderSide, ltp)
	fees := e.fee(price, pos.Quantity)

	trade := acct.close(pos, price, fees, time.Now())

	log.Info().
		Str("user_id", userID).
		Str("symbol", symbol).
		Float64("net_pnl", trade.NetPnl).
		Msg("Paper position closed")

	return trade, nil
}

// GetPosition returns the user's open position in symbol, if any
func (e *Engine) GetPosition(userID, symbol string) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acct, ok := e.accounts[userID]
	if !ok {
		return Position{}, false
	}
	pos, ok := acct.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// ListOpenPositions returns every open position for the user
func (e *Engine) ListOpenPositions(userID string) []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acct, ok := e.accounts[userID]
	if !ok {
		return nil
	}

	positions := make([]Position, 0, len(acct.positions))
	for _, pos := range acct.positions {
		positions = append(positions, *pos)
	}
	return positions
}

// NAV marks the account to the supplied prices. Positions without a
// mark fall back to their entry price.
func (e *Engine) NAV(userID string, marks map[string]float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acct, ok := e.accounts[userID]
	if !ok {
		return e.initialCapital
	}

	nav := acct.cash
	for symbol, pos := range acct.positions {
		price, ok := marks[symbol]
		if !ok || price <= 0 {
			price = pos.AvgPrice
		}
		value := price * float64(pos.Quantity)
		if pos.Side == SideLong {
			nav += value
		} else {
			nav -= value
		}
	}
	return round2(nav)
}

// Summary returns a marked snapshot of the account
func (e *Engine) Summary(userID string, marks map[string]float64) Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acct, ok := e.accounts[userID]
	if !ok {
		return Summary{Cash: e.initialCapital, NAV: e.initialCapital, Positions: []Position{}}
	}

	summary := Summary{
		Cash:        round2(acct.cash),
		RealizedPnl: round2(acct.realizedPnl),
		Positions:   make([]Position, 0, len(acct.positions)),
	}

	nav := acct.cash
	for symbol, pos := range acct.positions {
		summary.Positions = append(summary.Positions, *pos)

		price, ok := marks[symbol]
		if !ok || price <= 0 {
			price = pos.AvgPrice
		}
		value := price * float64(pos.Quantity)
		if pos.Side == SideLong {
			nav += value
			summary.UnrealizedPnl += (price - pos.AvgPrice) * float64(pos.Quantity)
		} else {
			nav -= value
			summary.UnrealizedPnl += (pos.AvgPrice - price) * float64(pos.Quantity)
		}
	}

	summary.NAV = round2(nav)
	summary.UnrealizedPnl = round2(summary.UnrealizedPnl)
	return summary
}

// Reset wipes the user's account back to initial capital
func (e *Engine) Reset(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.accounts, userID)
}

func opposes(posSide Side, orderSide string) bool {
	return (posSide == SideLong && orderSide == "SELL") ||
		(posSide == SideShort && orderSide == "BUY")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
