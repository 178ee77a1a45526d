package domain

import "github.com/shopspring/decimal"

// Portfolio is the single source of truth for cash and holdings. Every
// mutation runs through the engine's ledger operations; balance and every
// holding stay ≥ 0 after each committed operation. Funds and units backing
// pending limit orders are debited at placement time, so there is no
// separate reservation ledger to keep in sync.
type Portfolio struct {
	Balance  decimal.Decimal            `json:"balance"`
	Holdings map[string]decimal.Decimal `json:"holdings"`
}

// NewPortfolio creates a portfolio with the given starting cash and a zero
// holding for each instrument symbol.
func NewPortfolio(balance decimal.Decimal, symbols []string) Portfolio {
	holdings := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		holdings[s] = decimal.Zero
	}
	return Portfolio{Balance: balance, Holdings: holdings}
}

// Holding returns the held quantity for a symbol, zero if none.
func (p Portfolio) Holding(symbol string) decimal.Decimal {
	return p.Holdings[symbol]
}

// Clone returns a deep copy, safe to hand to readers outside the engine.
func (p *Portfolio) Clone() Portfolio {
	holdings := make(map[string]decimal.Decimal, len(p.Holdings))
	for k, v := range p.Holdings {
		holdings[k] = v
	}
	return Portfolio{Balance: p.Balance, Holdings: holdings}
}
