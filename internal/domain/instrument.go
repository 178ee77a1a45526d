package domain

import "github.com/shopspring/decimal"

// HistoryLength is the fixed size of every instrument's rolling price
// history. The window is pre-filled with the seed price at startup so its
// length never changes during a run.
const HistoryLength = 100

// Instrument represents one tradeable asset of the simulated feed. Price,
// Change24h, and History are mutated only by the price generator; the
// volatility coefficient is fixed at creation.
type Instrument struct {
	Symbol     string            `json:"symbol"`
	Price      decimal.Decimal   `json:"price"`
	Change24h  decimal.Decimal   `json:"change_24h"`
	History    []decimal.Decimal `json:"history"`
	Volatility decimal.Decimal   `json:"-"`
}

// NewInstrument creates an instrument with its history pre-filled with the
// seed price.
func NewInstrument(symbol string, seedPrice, volatility decimal.Decimal) *Instrument {
	history := make([]decimal.Decimal, HistoryLength)
	for i := range history {
		history[i] = seedPrice
	}
	return &Instrument{
		Symbol:     symbol,
		Price:      seedPrice,
		Change24h:  decimal.Zero,
		History:    history,
		Volatility: volatility,
	}
}

// Clone returns a deep copy, safe to hand to readers outside the engine.
func (i *Instrument) Clone() Instrument {
	c := *i
	c.History = make([]decimal.Decimal, len(i.History))
	copy(c.History, i.History)
	return c
}

// DefaultInstruments returns the closed instrument set the terminal
// simulates, in display order. Feed prices are ephemeral: every process
// start reseeds from these values.
func DefaultInstruments() []*Instrument {
	return []*Instrument{
		NewInstrument("BTC", decimal.RequireFromString("64230.50"), decimal.RequireFromString("0.0005")),
		NewInstrument("ETH", decimal.RequireFromString("3450.25"), decimal.RequireFromString("0.001")),
		NewInstrument("SOL", decimal.RequireFromString("145.80"), decimal.RequireFromString("0.002")),
	}
}
