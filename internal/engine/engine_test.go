package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
)

// scriptSource replays a fixed sequence of variates, then zeroes.
type scriptSource struct {
	vals []float64
	i    int
}

func (s *scriptSource) Draw() float64 {
	if s.i >= len(s.vals) {
		return 0
	}
	v := s.vals[s.i]
	s.i++
	return v
}

// fixedClock always returns the same instant.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestEngine creates an engine with a single test instrument at price
// 100 with volatility 1, a starting balance of 10000, and the given
// variate script. Volatility 1 keeps one tick's move within ±50%, which
// makes trigger crossings easy to script.
func newTestEngine(vals ...float64) *Engine {
	inst := domain.NewInstrument("TST", dec("100"), dec("1"))
	return New(
		[]*domain.Instrument{inst},
		dec("10000"),
		&scriptSource{vals: vals},
		fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	)
}

func requireBalance(t *testing.T, e *Engine, want string) {
	t.Helper()
	got := e.Snapshot().Portfolio.Balance
	if !got.Equal(dec(want)) {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}

func requireHolding(t *testing.T, e *Engine, symbol, want string) {
	t.Helper()
	got := e.Snapshot().Portfolio.Holding(symbol)
	if !got.Equal(dec(want)) {
		t.Fatalf("holding[%s] = %s, want %s", symbol, got, want)
	}
}

func TestPlaceMarketOrder_BuySuccess(t *testing.T) {
	e := newTestEngine()

	order, err := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec("10"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != domain.OrderStatusExecuted {
		t.Errorf("expected status executed, got %s", order.Status)
	}
	if order.Kind != domain.OrderKindMarket {
		t.Errorf("expected kind market, got %s", order.Kind)
	}
	if !order.Price.Equal(dec("100")) {
		t.Errorf("expected execution price 100, got %s", order.Price)
	}
	requireBalance(t, e, "9000")
	requireHolding(t, e, "TST", "10")
}

func TestPlaceMarketOrder_BuyInsufficientFunds_LeavesStateUnchanged(t *testing.T) {
	e := newTestEngine()

	// 200 × 100 = 20000 > 10000.
	_, err := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec("200"))
	if err != domain.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	requireBalance(t, e, "10000")
	requireHolding(t, e, "TST", "0")
	if n := len(e.Snapshot().Orders); n != 0 {
		t.Errorf("expected no order record, got %d", n)
	}
}

func TestPlaceMarketOrder_SellSuccess(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "5")

	_, err := e.PlaceMarketOrder("TST", domain.OrderSideSell, dec("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireBalance(t, e, "9800") // 10000 - 500 + 300
	requireHolding(t, e, "TST", "2")
}

func TestPlaceMarketOrder_SellInsufficientHoldings(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "5")

	_, err := e.PlaceMarketOrder("TST", domain.OrderSideSell, dec("6"))
	if err != domain.ErrInsufficientHoldings {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	requireBalance(t, e, "9500")
	requireHolding(t, e, "TST", "5")
}

func TestPlaceMarketOrder_UnknownInstrument(t *testing.T) {
	e := newTestEngine()
	_, err := e.PlaceMarketOrder("DOGE", domain.OrderSideBuy, dec("1"))
	if err != domain.ErrInstrumentNotFound {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestPlaceLimitOrder_BuyReservesFunds(t *testing.T) {
	e := newTestEngine()

	order, err := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("10"), dec("90"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected status pending, got %s", order.Status)
	}
	// 10 × 90 debited at placement, at the trigger price.
	requireBalance(t, e, "9100")
	requireHolding(t, e, "TST", "0")
}

func TestPlaceLimitOrder_SellReservesHoldings(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "5")

	_, err := e.PlaceLimitOrder("TST", domain.OrderSideSell, dec("5"), dec("150"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Units locked immediately; cash untouched until trigger.
	requireHolding(t, e, "TST", "0")
	requireBalance(t, e, "9500")
}

func TestPlaceLimitOrder_InvalidPrice(t *testing.T) {
	e := newTestEngine()

	for _, trigger := range []string{"0", "-5"} {
		_, err := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("1"), dec(trigger))
		if err != domain.ErrInvalidPrice {
			t.Fatalf("trigger %s: expected ErrInvalidPrice, got %v", trigger, err)
		}
	}
	requireBalance(t, e, "10000")
}

func TestPlaceOrders_RejectNonPositiveQuantity(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "5")

	for _, qty := range []string{"0", "-4"} {
		var validationErr *domain.ValidationError
		if _, err := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec(qty)); !errors.As(err, &validationErr) {
			t.Fatalf("market buy qty %s: expected validation error, got %v", qty, err)
		}
		if _, err := e.PlaceMarketOrder("TST", domain.OrderSideSell, dec(qty)); !errors.As(err, &validationErr) {
			t.Fatalf("market sell qty %s: expected validation error, got %v", qty, err)
		}
		if _, err := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec(qty), dec("90")); !errors.As(err, &validationErr) {
			t.Fatalf("limit buy qty %s: expected validation error, got %v", qty, err)
		}
		if _, err := e.PlaceLimitOrder("TST", domain.OrderSideSell, dec(qty), dec("150")); !errors.As(err, &validationErr) {
			t.Fatalf("limit sell qty %s: expected validation error, got %v", qty, err)
		}
	}

	// A negative buy must not credit cash or debit units.
	requireBalance(t, e, "9500")
	requireHolding(t, e, "TST", "5")
	if n := len(e.Snapshot().Orders); n != 1 {
		t.Errorf("rejected orders were recorded: %d orders", n)
	}
}

func TestPlaceLimitOrder_InsufficientFundsAtTriggerPrice(t *testing.T) {
	e := newTestEngine()

	// 101 × 100 = 10100 > 10000, checked against the trigger price.
	_, err := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("101"), dec("100"))
	if err != domain.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	requireBalance(t, e, "10000")
}

func TestCancelOrder_RefundsBuyReservation(t *testing.T) {
	e := newTestEngine()

	order, err := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("10"), dec("90"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireBalance(t, e, "9100")

	snap := e.CancelOrder(order.OrderID)
	requireBalance(t, e, "10000")
	if snap.Orders[0].Status != domain.OrderStatusCancelled {
		t.Errorf("expected status cancelled, got %s", snap.Orders[0].Status)
	}
}

func TestCancelOrder_RefundsSellReservation(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "5")

	order, err := e.PlaceLimitOrder("TST", domain.OrderSideSell, dec("5"), dec("150"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireHolding(t, e, "TST", "0")

	e.CancelOrder(order.OrderID)
	requireHolding(t, e, "TST", "5")
	requireBalance(t, e, "9500")
}

func TestCancelOrder_UnknownID_IsSilentNoOp(t *testing.T) {
	e := newTestEngine()
	before := e.Snapshot()

	after := e.CancelOrder("no-such-order")

	if !after.Portfolio.Balance.Equal(before.Portfolio.Balance) {
		t.Errorf("balance changed on no-op cancel")
	}
	if len(after.Orders) != len(before.Orders) {
		t.Errorf("order list changed on no-op cancel")
	}
}

func TestCancelOrder_ExecutedOrder_IsSilentNoOp(t *testing.T) {
	e := newTestEngine()
	order, err := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := e.CancelOrder(order.OrderID)
	if snap.Orders[0].Status != domain.OrderStatusExecuted {
		t.Errorf("terminal order mutated by cancel: %s", snap.Orders[0].Status)
	}
	requireBalance(t, e, "9900")
	requireHolding(t, e, "TST", "1")
}

func TestTick_SellLimitTriggersAtTriggerPrice(t *testing.T) {
	// Price path: 100 → 140.00 (no trigger) → 196.00 (≥ 150, triggers).
	e := newTestEngine(0.4, 0.4)
	mustBuy(t, e, "5")

	order, err := e.PlaceLimitOrder("TST", domain.OrderSideSell, dec("5"), dec("150"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, changed := e.Tick()
	if changed {
		t.Fatal("order triggered below its trigger price")
	}
	if got := findOrder(t, snap, order.OrderID).Status; got != domain.OrderStatusPending {
		t.Fatalf("expected pending after first tick, got %s", got)
	}

	snap, changed = e.Tick()
	if !changed {
		t.Fatal("order did not trigger once price crossed")
	}
	executed := findOrder(t, snap, order.OrderID)
	if executed.Status != domain.OrderStatusExecuted {
		t.Fatalf("expected executed, got %s", executed.Status)
	}
	// Fill at the trigger price 150, not the tick's market price 196:
	// balance 9500 + 5 × 150 = 10250. Holdings were debited at placement.
	requireBalance(t, e, "10250")
	requireHolding(t, e, "TST", "0")
}

func TestTick_BuyLimitTriggersOnFirstCross(t *testing.T) {
	// Price path: 100 → 96.00 (no trigger) → 88.32 (≤ 90, triggers).
	e := newTestEngine(-0.04, -0.08)

	order, err := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("10"), dec("90"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireBalance(t, e, "9100")

	if _, changed := e.Tick(); changed {
		t.Fatal("buy limit triggered while price was above trigger")
	}

	snap, changed := e.Tick()
	if !changed {
		t.Fatal("buy limit did not trigger at first crossing tick")
	}
	executed := findOrder(t, snap, order.OrderID)
	if executed.Status != domain.OrderStatusExecuted {
		t.Fatalf("expected executed, got %s", executed.Status)
	}
	if !executed.Price.Equal(dec("90")) {
		t.Errorf("fill price = %s, want trigger price 90", executed.Price)
	}
	// Cash was debited at placement; trigger only credits units.
	requireBalance(t, e, "9100")
	requireHolding(t, e, "TST", "10")
}

func TestTick_NoTriggerableOrders_OnlyPriceStateChanges(t *testing.T) {
	e := newTestEngine(0.1, 0.1)
	mustBuy(t, e, "2")
	before := e.Snapshot()

	snap, changed := e.Tick()
	if changed {
		t.Fatal("tick reported order changes with no pending orders")
	}
	if snap.Instruments[0].Price.Equal(before.Instruments[0].Price) {
		t.Error("price did not advance")
	}
	if !snap.Portfolio.Balance.Equal(before.Portfolio.Balance) {
		t.Error("portfolio changed on a no-trigger tick")
	}
	for i := range snap.Orders {
		if snap.Orders[i].Status != before.Orders[i].Status {
			t.Error("order list changed on a no-trigger tick")
		}
	}
}

func TestTick_SimultaneousTriggers_SettleInPlacementOrder(t *testing.T) {
	// One downward move crosses both buy triggers in the same tick.
	e := newTestEngine(-0.3)

	first, _ := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("1"), dec("80"))
	second, _ := e.PlaceLimitOrder("TST", domain.OrderSideBuy, dec("1"), dec("75"))

	snap, changed := e.Tick() // 100 → 70.00, both trigger
	if !changed {
		t.Fatal("expected both orders to trigger")
	}

	a := findOrder(t, snap, first.OrderID)
	b := findOrder(t, snap, second.OrderID)
	if a.Status != domain.OrderStatusExecuted || b.Status != domain.OrderStatusExecuted {
		t.Fatalf("expected both executed, got %s and %s", a.Status, b.Status)
	}
	if a.Seq >= b.Seq {
		t.Errorf("placement order lost: seq %d >= %d", a.Seq, b.Seq)
	}
	requireHolding(t, e, "TST", "2")
}

func TestSelectInstrument_And_ToggleWatch(t *testing.T) {
	inst := []*domain.Instrument{
		domain.NewInstrument("AAA", dec("10"), dec("1")),
		domain.NewInstrument("BBB", dec("20"), dec("1")),
	}
	e := New(inst, dec("1000"), &scriptSource{}, fixedClock{})

	if got := e.Snapshot().Selected; got != "AAA" {
		t.Fatalf("initial selection = %s, want AAA", got)
	}
	if err := e.SelectInstrument("BBB"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.Snapshot().Selected; got != "BBB" {
		t.Errorf("selection = %s, want BBB", got)
	}
	if err := e.SelectInstrument("XXX"); err != domain.ErrInstrumentNotFound {
		t.Errorf("expected ErrInstrumentNotFound, got %v", err)
	}

	watchlist, err := e.ToggleWatch("AAA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(watchlist) != 1 || watchlist[0] != "BBB" {
		t.Errorf("watchlist after toggle = %v, want [BBB]", watchlist)
	}
	watchlist, _ = e.ToggleWatch("AAA")
	if len(watchlist) != 2 {
		t.Errorf("watchlist after re-toggle = %v, want both symbols", watchlist)
	}
}

func TestExportRestore_RoundTrip(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "5")
	pending, err := e.PlaceLimitOrder("TST", domain.OrderSideSell, dec("2"), dec("140"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.SelectInstrument("TST"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := e.ExportState()

	// A fresh engine restored from the export behaves identically: the
	// pending sell is re-indexed and still triggers.
	restored := newTestEngine(0.45) // 100 → 145.00 ≥ 140
	restored.Restore(&st)

	requireBalance(t, restored, "9500")
	requireHolding(t, restored, "TST", "3")

	snap, changed := restored.Tick()
	if !changed {
		t.Fatal("restored pending order did not trigger")
	}
	if got := findOrder(t, snap, pending.OrderID).Status; got != domain.OrderStatusExecuted {
		t.Fatalf("expected executed after restore+tick, got %s", got)
	}
	requireBalance(t, restored, "9780") // 9500 + 2 × 140
}

func TestSnapshot_OrdersNewestFirst(t *testing.T) {
	e := newTestEngine()
	first, _ := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec("1"))
	second, _ := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec("1"))

	snap := e.Snapshot()
	if snap.Orders[0].OrderID != second.OrderID || snap.Orders[1].OrderID != first.OrderID {
		t.Errorf("orders not newest-first: %s, %s", snap.Orders[0].OrderID, snap.Orders[1].OrderID)
	}
}

func TestSnapshot_TotalValue(t *testing.T) {
	e := newTestEngine()
	mustBuy(t, e, "10") // balance 9000, holdings 10 × 100

	snap := e.Snapshot()
	if !snap.TotalValue.Equal(dec("10000")) {
		t.Errorf("total value = %s, want 10000", snap.TotalValue)
	}
}

func mustBuy(t *testing.T, e *Engine, qty string) {
	t.Helper()
	if _, err := e.PlaceMarketOrder("TST", domain.OrderSideBuy, dec(qty)); err != nil {
		t.Fatalf("setup buy failed: %v", err)
	}
}

func findOrder(t *testing.T, snap Snapshot, id string) domain.Order {
	t.Helper()
	for _, o := range snap.Orders {
		if o.OrderID == id {
			return o
		}
	}
	t.Fatalf("order %s not in snapshot", id)
	return domain.Order{}
}
