// Package portfolio keeps a cash-and-positions ledger with an average-cost
// basis and a trade history, optionally persisted through a Store.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// commissionRate is charged on the notional of every fill.
const commissionRate = 0.001

// Position is an open holding with an average-cost basis.
type Position struct {
	Symbol       string    `json:"symbol" db:"symbol"`
	Quantity     float64   `json:"quantity" db:"quantity"`
	AvgPrice     float64   `json:"avg_price" db:"avg_price"`
	CurrentPrice float64   `json:"current_price" db:"current_price"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// MarketValue is the position's value at the current price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// UnrealizedPnL is the open profit against the cost basis.
func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AvgPrice) * p.Quantity
}

// PnLPercent is the open profit as a fraction of cost.
func (p Position) PnLPercent() float64 {
	if p.AvgPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgPrice) / p.AvgPrice
}

// Trade is one executed fill.
type Trade struct {
	ID         string      `json:"id" db:"id"`
	Symbol     string      `json:"symbol" db:"symbol"`
	Side       domain.Side `json:"side" db:"side"`
	Quantity   float64     `json:"quantity" db:"quantity"`
	Price      float64     `json:"price" db:"price"`
	Commission float64     `json:"commission" db:"commission"`
	SignalID   string      `json:"signal_id,omitempty" db:"signal_id"`
	Timestamp  time.Time   `json:"timestamp" db:"ts"`
}

// Store persists trades and positions. A nil store keeps the ledger
// in memory only.
type Store interface {
	SaveTrade(ctx context.Context, trade Trade) error
	UpsertPosition(ctx context.Context, pos Position) error
	DeletePosition(ctx context.Context, symbol string) error
	ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
}

// Summary is a point-in-time view of the whole ledger.
type Summary struct {
	Cash           float64    `json:"cash"`
	PositionsValue float64    `json:"positions_value"`
	TotalValue     float64    `json:"total_value"`
	UnrealizedPnL  float64    `json:"unrealized_pnl"`
	RealizedPnL    float64    `json:"realized_pnl"`
	TradeCount     int        `json:"trade_count"`
	Positions      []Position `json:"positions"`
}

// Portfolio is the ledger. All methods are safe for concurrent use.
type Portfolio struct {
	mu        sync.Mutex
	cash      float64
	realized  float64
	positions map[string]*Position
	trades    []Trade
	store     Store
	now       func() time.Time
}

// New builds a portfolio with the given starting cash. The store may be
// nil.
func New(initialCash float64, store Store) (*Portfolio, error) {
	if initialCash < 0 {
		return nil, &domain.InvalidParameterError{Param: "initial_cash", Reason: "must be non-negative"}
	}
	return &Portfolio{
		cash:      initialCash,
		positions: make(map[string]*Position),
		store:     store,
		now:       time.Now,
	}, nil
}

// Buy executes a long fill, charging commission on the notional and
// recomputing the average cost.
func (p *Portfolio) Buy(ctx context.Context, symbol string, quantity, price float64) (Trade, error) {
	if err := validateFill(symbol, quantity, price); err != nil {
		return Trade{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	notional := quantity * price
	commission := notional * commissionRate
	total := notional + commission
	if total > p.cash {
		return Trade{}, fmt.Errorf("buy %s: need %.2f, have %.2f cash", symbol, total, p.cash)
	}

	p.cash -= total

	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	newQty := pos.Quantity + quantity
	pos.AvgPrice = (pos.Quantity*pos.AvgPrice + notional) / newQty
	pos.Quantity = newQty
	pos.CurrentPrice = price
	pos.UpdatedAt = p.now()

	trade := p.appendTrade(symbol, domain.SideBuy, quantity, price, commission)
	p.persist(ctx, trade, *pos, false)
	return trade, nil
}

// Sell executes a closing fill against the average cost, realizing the
// profit net of commission.
func (p *Portfolio) Sell(ctx context.Context, symbol string, quantity, price float64) (Trade, error) {
	if err := validateFill(symbol, quantity, price); err != nil {
		return Trade{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok || pos.Quantity < quantity {
		var held float64
		if ok {
			held = pos.Quantity
		}
		return Trade{}, fmt.Errorf("sell %s: want %.6f, hold %.6f", symbol, quantity, held)
	}

	notional := quantity * price
	commission := notional * commissionRate
	p.cash += notional - commission
	p.realized += (price-pos.AvgPrice)*quantity - commission

	pos.Quantity -= quantity
	pos.CurrentPrice = price
	pos.UpdatedAt = p.now()

	closed := pos.Quantity == 0
	if closed {
		delete(p.positions, symbol)
	}

	trade := p.appendTrade(symbol, domain.SideSell, quantity, price, commission)
	p.persist(ctx, trade, *pos, closed)
	return trade, nil
}

// UpdatePrices refreshes the mark price of any held symbols present in
// the map.
func (p *Portfolio) UpdatePrices(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for symbol, price := range prices {
		if pos, ok := p.positions[symbol]; ok && price > 0 {
			pos.CurrentPrice = price
			pos.UpdatedAt = now
		}
	}
}

// Position returns a copy of the holding for the symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Exposure is the total market value of open positions.
func (p *Portfolio) Exposure() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// Cash returns the free cash balance.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Summary snapshots the ledger.
func (p *Portfolio) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Summary{
		Cash:        p.cash,
		RealizedPnL: p.realized,
		TradeCount:  len(p.trades),
	}
	for _, pos := range p.positions {
		s.PositionsValue += pos.MarketValue()
		s.UnrealizedPnL += pos.UnrealizedPnL()
		s.Positions = append(s.Positions, *pos)
	}
	s.TotalValue = s.Cash + s.PositionsValue
	return s
}

// Trades returns a copy of the trade history, newest last.
func (p *Portfolio) Trades() []Trade {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

func (p *Portfolio) appendTrade(symbol string, side domain.Side, quantity, price, commission float64) Trade {
	trade := Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		Timestamp:  p.now(),
	}
	p.trades = append(p.trades, trade)
	return trade
}

// persist writes through to the store. Persistence failures are logged,
// not surfaced: the in-memory ledger is the source of truth.
func (p *Portfolio) persist(ctx context.Context, trade Trade, pos Position, closed bool) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveTrade(ctx, trade); err != nil {
		log.Warn().Err(err).Str("symbol", trade.Symbol).Msg("trade persistence failed")
	}
	if closed {
		if err := p.store.DeletePosition(ctx, pos.Symbol); err != nil {
			log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("position delete failed")
		}
		return
	}
	if err := p.store.UpsertPosition(ctx, pos); err != nil {
		log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("position persistence failed")
	}
}

func validateFill(symbol string, quantity, price float64) error {
	if symbol == "" {
		return &domain.InvalidParameterError{Param: "symbol", Reason: "must not be empty"}
	}
	if quantity <= 0 {
		return &domain.InvalidParameterError{Param: "quantity", Reason: "must be positive"}
	}
	if price <= 0 {
		return &domain.InvalidParameterError{Param: "price", Reason: "must be positive"}
	}
	return nil
}
