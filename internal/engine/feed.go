package engine

import (
	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Feed advances instrument prices by one simulated time step using a
// bounded geometric random walk:
//
//	new = round2(old + old × volatility × U), U uniform in [-0.5, 0.5)
//
// The rolling history keeps a fixed length: the oldest entry is evicted
// and the new price appended. The 24h change is recomputed against the
// oldest price remaining in the window. The feed touches no ledger or
// order state.
type Feed struct {
	src Uniform
}

// NewFeed creates a feed drawing perturbations from src.
func NewFeed(src Uniform) *Feed {
	return &Feed{src: src}
}

// Advance mutates inst in place and returns the new price. Callers own the
// instrument's lifecycle; inst must come from the engine's closed set.
func (f *Feed) Advance(inst *domain.Instrument) decimal.Decimal {
	u := decimal.NewFromFloat(f.src.Draw())
	delta := inst.Price.Mul(inst.Volatility).Mul(u)
	price := inst.Price.Add(delta).Round(2)

	copy(inst.History, inst.History[1:])
	inst.History[len(inst.History)-1] = price

	oldest := inst.History[0]
	inst.Price = price
	inst.Change24h = price.Sub(oldest).Div(oldest).Mul(hundred)

	return price
}
