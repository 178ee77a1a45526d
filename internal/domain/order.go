package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes limit orders from market orders.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "limit"
	OrderKindMarket OrderKind = "market"
)

// OrderSide indicates whether an order buys or sells the instrument.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of an order. Pending is the
// only mutable state; executed and cancelled are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order represents a single buy or sell instruction. Price carries the
// execution price for market orders and the trigger price for limit
// orders; a triggered limit order fills at that trigger price, not at the
// market price of the tick that crossed it.
type Order struct {
	OrderID    string          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       OrderSide       `json:"side"`
	Kind       OrderKind       `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Status     OrderStatus     `json:"status"`
	Seq        uint64          `json:"seq"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusExecuted || o.Status == OrderStatusCancelled
}
