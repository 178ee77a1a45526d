package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
)

// Snapshot is the complete observable engine state at a point in time.
// Every field is a deep copy; a snapshot never aliases live engine state.
type Snapshot struct {
	Instruments []domain.Instrument `json:"instruments"`
	Orders      []domain.Order      `json:"orders"` // newest first
	Portfolio   domain.Portfolio    `json:"portfolio"`
	Watchlist   []string            `json:"watchlist"`
	Selected    string              `json:"selected"`
	TotalValue  decimal.Decimal     `json:"total_value"`
}

// Engine owns all simulation state and applies every operation as one
// atomic transition under a single lock. Tick holds the lock for the whole
// price-advance-plus-trigger pass, so a cancellation either completes
// before a tick starts or begins after it finishes; there is no intra-tick
// cancellation window.
type Engine struct {
	mu sync.RWMutex

	feed        *Feed
	clock       Clock
	instruments map[string]*domain.Instrument
	symbols     []string // stable iteration/display order

	orders  []*domain.Order // append-only, insertion order
	byID    map[string]*domain.Order
	pending *TriggerIndex
	nextSeq uint64

	portfolio domain.Portfolio
	watchlist map[string]bool
	selected  string
}

// New creates an engine over the given closed instrument set. The
// watchlist seeds with every instrument and the first instrument starts
// selected.
func New(instruments []*domain.Instrument, startingBalance decimal.Decimal, src Uniform, clock Clock) *Engine {
	bySymbol := make(map[string]*domain.Instrument, len(instruments))
	symbols := make([]string, 0, len(instruments))
	watchlist := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		bySymbol[inst.Symbol] = inst
		symbols = append(symbols, inst.Symbol)
		watchlist[inst.Symbol] = true
	}

	return &Engine{
		feed:        NewFeed(src),
		clock:       clock,
		instruments: bySymbol,
		symbols:     symbols,
		byID:        make(map[string]*domain.Order),
		pending:     NewTriggerIndex(),
		nextSeq:     1,
		portfolio:   domain.NewPortfolio(startingBalance, symbols),
		watchlist:   watchlist,
		selected:    symbols[0],
	}
}

// Tick advances every instrument by one simulated time step, evaluates
// pending limit orders against the fresh prices, settles any that trigger,
// and returns the resulting snapshot. Orders fire in placement order
// (FIFO by seq); each fill settles at the order's own trigger price.
// The second return value reports whether any order state changed.
func (e *Engine) Tick() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	var crossed []triggerEntry
	for _, sym := range e.symbols {
		price := e.feed.Advance(e.instruments[sym])
		crossed = e.pending.Crossed(sym, price, crossed)
	}

	sort.Slice(crossed, func(i, j int) bool {
		return crossed[i].Seq < crossed[j].Seq
	})

	for _, entry := range crossed {
		o := entry.Order
		// Placement already settled the debit side; the trigger applies
		// only the credit side.
		if o.Side == domain.OrderSideBuy {
			e.portfolio.Holdings[o.Instrument] = e.portfolio.Holdings[o.Instrument].Add(o.Quantity)
		} else {
			e.portfolio.Balance = e.portfolio.Balance.Add(o.Quantity.Mul(o.Price))
		}
		o.Status = domain.OrderStatusExecuted
		o.UpdatedAt = now
		e.pending.Remove(o)
	}

	return e.snapshotLocked(), len(crossed) > 0
}

// PlaceMarketOrder executes an order immediately at the instrument's
// current price. On a buy the full cost is debited and holdings credited;
// on a sell holdings are debited and proceeds credited. The operation is
// all-or-nothing: a failed check leaves state untouched.
func (e *Engine) PlaceMarketOrder(symbol string, side domain.OrderSide, quantity decimal.Decimal) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instruments[symbol]
	if !ok {
		return domain.Order{}, domain.ErrInstrumentNotFound
	}
	if !quantity.IsPositive() {
		return domain.Order{}, &domain.ValidationError{Message: "quantity must be greater than 0"}
	}

	price := inst.Price
	total := quantity.Mul(price)

	if side == domain.OrderSideBuy {
		if e.portfolio.Balance.LessThan(total) {
			return domain.Order{}, domain.ErrInsufficientFunds
		}
		e.portfolio.Balance = e.portfolio.Balance.Sub(total)
		e.portfolio.Holdings[symbol] = e.portfolio.Holdings[symbol].Add(quantity)
	} else {
		if e.portfolio.Holdings[symbol].LessThan(quantity) {
			return domain.Order{}, domain.ErrInsufficientHoldings
		}
		e.portfolio.Balance = e.portfolio.Balance.Add(total)
		e.portfolio.Holdings[symbol] = e.portfolio.Holdings[symbol].Sub(quantity)
	}

	o := e.appendOrder(symbol, side, domain.OrderKindMarket, quantity, price, domain.OrderStatusExecuted)
	return *o, nil
}

// PlaceLimitOrder creates a pending order that fills when the market
// crosses triggerPrice. Funds (buy) or units (sell) are debited at
// placement time against the trigger price, which keeps total committed
// value conserved without a separate reservation ledger.
func (e *Engine) PlaceLimitOrder(symbol string, side domain.OrderSide, quantity, triggerPrice decimal.Decimal) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instruments[symbol]; !ok {
		return domain.Order{}, domain.ErrInstrumentNotFound
	}
	if !quantity.IsPositive() {
		return domain.Order{}, &domain.ValidationError{Message: "quantity must be greater than 0"}
	}
	if !triggerPrice.IsPositive() {
		return domain.Order{}, domain.ErrInvalidPrice
	}

	if side == domain.OrderSideBuy {
		total := quantity.Mul(triggerPrice)
		if e.portfolio.Balance.LessThan(total) {
			return domain.Order{}, domain.ErrInsufficientFunds
		}
		e.portfolio.Balance = e.portfolio.Balance.Sub(total)
	} else {
		if e.portfolio.Holdings[symbol].LessThan(quantity) {
			return domain.Order{}, domain.ErrInsufficientHoldings
		}
		e.portfolio.Holdings[symbol] = e.portfolio.Holdings[symbol].Sub(quantity)
	}

	o := e.appendOrder(symbol, side, domain.OrderKindLimit, quantity, triggerPrice, domain.OrderStatusPending)
	e.pending.Add(o)
	return *o, nil
}

// CancelOrder refunds the reserved amount of a pending limit order and
// transitions it to cancelled. A missing or already-terminal order is a
// deliberate silent no-op, not an error: cancellations race against
// tick-based triggering and the race is harmless. The returned snapshot is
// the (possibly unchanged) current state.
func (e *Engine) CancelOrder(orderID string) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.byID[orderID]
	if !ok || o.Terminal() {
		return e.snapshotLocked()
	}

	if o.Side == domain.OrderSideBuy {
		e.portfolio.Balance = e.portfolio.Balance.Add(o.Quantity.Mul(o.Price))
	} else {
		e.portfolio.Holdings[o.Instrument] = e.portfolio.Holdings[o.Instrument].Add(o.Quantity)
	}

	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = e.clock.Now()
	e.pending.Remove(o)

	return e.snapshotLocked()
}

// SelectInstrument marks an instrument as the active chart target. Pure
// metadata; no ledger interaction.
func (e *Engine) SelectInstrument(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instruments[symbol]; !ok {
		return domain.ErrInstrumentNotFound
	}
	e.selected = symbol
	return nil
}

// ToggleWatch flips an instrument's watchlist membership and returns the
// resulting watchlist in display order.
func (e *Engine) ToggleWatch(symbol string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.instruments[symbol]; !ok {
		return nil, domain.ErrInstrumentNotFound
	}
	e.watchlist[symbol] = !e.watchlist[symbol]
	return e.watchlistLocked(), nil
}

// Snapshot returns a deep copy of the current state (external read).
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// ExportState returns a deep copy of the durable slice of engine state.
func (e *Engine) ExportState() domain.PersistedState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	orders := make([]*domain.Order, len(e.orders))
	for i, o := range e.orders {
		c := *o
		orders[i] = &c
	}
	return domain.PersistedState{
		Portfolio: e.portfolio.Clone(),
		Orders:    orders,
		Watchlist: e.watchlistLocked(),
		Selected:  e.selected,
		NextSeq:   e.nextSeq,
	}
}

// Restore replaces portfolio, order history, watchlist, and selection with
// previously persisted state. Pending limit orders are re-indexed for
// trigger evaluation. Prices are untouched: the feed always reseeds.
func (e *Engine) Restore(state *domain.PersistedState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.portfolio = state.Portfolio.Clone()
	if e.portfolio.Holdings == nil {
		e.portfolio.Holdings = make(map[string]decimal.Decimal)
	}

	e.orders = make([]*domain.Order, 0, len(state.Orders))
	e.byID = make(map[string]*domain.Order, len(state.Orders))
	e.pending = NewTriggerIndex()
	for _, so := range state.Orders {
		o := *so
		e.orders = append(e.orders, &o)
		e.byID[o.OrderID] = &o
		if o.Kind == domain.OrderKindLimit && o.Status == domain.OrderStatusPending {
			e.pending.Add(&o)
		}
	}
	e.nextSeq = state.NextSeq

	for sym := range e.watchlist {
		e.watchlist[sym] = false
	}
	for _, sym := range state.Watchlist {
		if _, ok := e.instruments[sym]; ok {
			e.watchlist[sym] = true
		}
	}
	if _, ok := e.instruments[state.Selected]; ok {
		e.selected = state.Selected
	}
}

// appendOrder creates and records an order. Caller holds e.mu.
func (e *Engine) appendOrder(symbol string, side domain.OrderSide, kind domain.OrderKind, quantity, price decimal.Decimal, status domain.OrderStatus) *domain.Order {
	o := &domain.Order{
		OrderID:    uuid.New().String(),
		Instrument: symbol,
		Side:       side,
		Kind:       kind,
		Quantity:   quantity,
		Price:      price,
		Status:     status,
		Seq:        e.nextSeq,
		UpdatedAt:  e.clock.Now(),
	}
	e.nextSeq++
	e.orders = append(e.orders, o)
	e.byID[o.OrderID] = o
	return o
}

// snapshotLocked builds a deep-copied snapshot. Caller holds e.mu.
func (e *Engine) snapshotLocked() Snapshot {
	instruments := make([]domain.Instrument, 0, len(e.symbols))
	total := e.portfolio.Balance
	for _, sym := range e.symbols {
		inst := e.instruments[sym]
		instruments = append(instruments, inst.Clone())
		total = total.Add(e.portfolio.Holdings[sym].Mul(inst.Price))
	}

	orders := make([]domain.Order, 0, len(e.orders))
	for i := len(e.orders) - 1; i >= 0; i-- {
		orders = append(orders, *e.orders[i])
	}

	return Snapshot{
		Instruments: instruments,
		Orders:      orders,
		Portfolio:   e.portfolio.Clone(),
		Watchlist:   e.watchlistLocked(),
		Selected:    e.selected,
		TotalValue:  total,
	}
}

// watchlistLocked returns watched symbols in display order. Caller holds e.mu.
func (e *Engine) watchlistLocked() []string {
	watched := make([]string, 0, len(e.symbols))
	for _, sym := range e.symbols {
		if e.watchlist[sym] {
			watched = append(watched, sym)
		}
	}
	return watched
}
