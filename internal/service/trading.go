package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
	"github.com/enzopsm/papertrade/internal/engine"
)

// Persister is the durable-store contract the service saves through. The
// engine never assumes a save succeeded: failures are logged and the
// in-memory state stays authoritative.
type Persister interface {
	SaveState(ctx context.Context, st domain.PersistedState) error
	LoadState(ctx context.Context) (*domain.PersistedState, bool, error)
}

// SnapshotSink receives the snapshot produced by each tick. The handler
// package's websocket hub implements it.
type SnapshotSink interface {
	Broadcast(v any)
}

// PlaceOrderRequest represents the input for order placement.
type PlaceOrderRequest struct {
	Instrument   string
	Side         domain.OrderSide
	Quantity     decimal.Decimal
	TriggerPrice decimal.Decimal // limit orders only
}

// TradingService validates requests, invokes the engine, and persists the
// durable state after every mutation.
type TradingService struct {
	engine    *engine.Engine
	persister Persister
	sink      SnapshotSink
	logger    *slog.Logger

	saveMu  sync.Mutex
	pending *domain.PersistedState // newest unsaved snapshot, nil when drained
	saving  bool
}

// NewTradingService creates a TradingService. persister and sink may be
// nil (tests, or a run without durable storage).
func NewTradingService(eng *engine.Engine, persister Persister, sink SnapshotSink, logger *slog.Logger) *TradingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradingService{
		engine:    eng,
		persister: persister,
		sink:      sink,
		logger:    logger,
	}
}

// Restore loads persisted state into the engine, if any exists.
func (s *TradingService) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	st, ok, err := s.persister.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if !ok {
		s.logger.Info("no persisted state, starting fresh")
		return nil
	}
	s.engine.Restore(st)
	s.logger.Info("state restored",
		slog.Int("orders", len(st.Orders)),
		slog.String("balance", st.Portfolio.Balance.String()),
	)
	return nil
}

// Tick runs one simulation step, broadcasts the snapshot, and persists
// when any order settled.
func (s *TradingService) Tick() {
	snap, changed := s.engine.Tick()
	if changed {
		s.persistAsync()
	}
	if s.sink != nil {
		s.sink.Broadcast(snap)
	}
}

// Snapshot returns the current observable state.
func (s *TradingService) Snapshot() engine.Snapshot {
	return s.engine.Snapshot()
}

// PlaceMarketOrder validates the request and executes it at the current
// market price.
func (s *TradingService) PlaceMarketOrder(req PlaceOrderRequest) (domain.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return domain.Order{}, err
	}
	order, err := s.engine.PlaceMarketOrder(req.Instrument, req.Side, req.Quantity)
	if err != nil {
		return domain.Order{}, err
	}
	s.persistAsync()
	return order, nil
}

// PlaceLimitOrder validates the request and places a pending order that
// reserves funds or units at the trigger price.
func (s *TradingService) PlaceLimitOrder(req PlaceOrderRequest) (domain.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return domain.Order{}, err
	}
	order, err := s.engine.PlaceLimitOrder(req.Instrument, req.Side, req.Quantity, req.TriggerPrice)
	if err != nil {
		return domain.Order{}, err
	}
	s.persistAsync()
	return order, nil
}

// CancelOrder cancels a pending order by ID. Unknown or already-terminal
// orders are a benign no-op; the current snapshot is returned either way.
func (s *TradingService) CancelOrder(orderID string) engine.Snapshot {
	snap := s.engine.CancelOrder(orderID)
	s.persistAsync()
	return snap
}

// SelectInstrument marks the active instrument.
func (s *TradingService) SelectInstrument(symbol string) error {
	if err := s.engine.SelectInstrument(symbol); err != nil {
		return err
	}
	s.persistAsync()
	return nil
}

// ToggleWatch flips an instrument's watchlist membership.
func (s *TradingService) ToggleWatch(symbol string) ([]string, error) {
	watchlist, err := s.engine.ToggleWatch(symbol)
	if err != nil {
		return nil, err
	}
	s.persistAsync()
	return watchlist, nil
}

// persistAsync queues the current durable state for saving. Saves run on a
// single writer goroutine and always take the newest queued snapshot, so a
// save carrying an older snapshot can never commit after a newer one.
// Save failures are logged, never surfaced: the engine stays authoritative.
func (s *TradingService) persistAsync() {
	if s.persister == nil {
		return
	}
	st := s.engine.ExportState()

	s.saveMu.Lock()
	s.pending = &st
	if s.saving {
		// The writer goroutine picks the snapshot up when the in-flight
		// save finishes.
		s.saveMu.Unlock()
		return
	}
	s.saving = true
	s.saveMu.Unlock()

	go s.saveLoop()
}

// saveLoop drains queued snapshots one at a time until none remain.
func (s *TradingService) saveLoop() {
	for {
		s.saveMu.Lock()
		st := s.pending
		s.pending = nil
		if st == nil {
			s.saving = false
			s.saveMu.Unlock()
			return
		}
		s.saveMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.persister.SaveState(ctx, *st)
		cancel()
		if err != nil {
			s.logger.Error("failed to persist state", slog.String("error", err.Error()))
		}
	}
}

func validateOrderRequest(req PlaceOrderRequest) error {
	if req.Instrument == "" {
		return &domain.ValidationError{Message: "instrument is required"}
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if !req.Quantity.IsPositive() {
		return &domain.ValidationError{Message: "quantity must be greater than 0"}
	}
	return nil
}
