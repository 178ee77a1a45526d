package engine

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
)

// triggerEntry represents a single pending limit order in the trigger index.
type triggerEntry struct {
	Trigger decimal.Decimal
	Seq     uint64
	Order   *domain.Order
}

// buyLess orders the buy side: trigger price descending, then seq
// ascending. Min() returns the buy limit most eager to fire (highest
// trigger), so a walk from the front visits every order whose trigger is
// at or above the current price.
func buyLess(a, b triggerEntry) bool {
	if !a.Trigger.Equal(b.Trigger) {
		return a.Trigger.GreaterThan(b.Trigger)
	}
	return a.Seq < b.Seq
}

// sellLess orders the sell side: trigger price ascending, then seq
// ascending. Min() returns the sell limit with the lowest trigger.
func sellLess(a, b triggerEntry) bool {
	if !a.Trigger.Equal(b.Trigger) {
		return a.Trigger.LessThan(b.Trigger)
	}
	return a.Seq < b.Seq
}

// instrumentTriggers holds the pending limit orders of one instrument in
// two B-trees with a secondary index for O(log n) removal by order ID.
type instrumentTriggers struct {
	buys  *btree.BTreeG[triggerEntry]
	sells *btree.BTreeG[triggerEntry]
	index map[string]triggerEntry
}

func newInstrumentTriggers() *instrumentTriggers {
	return &instrumentTriggers{
		buys:  btree.NewG(2, buyLess),
		sells: btree.NewG(2, sellLess),
		index: make(map[string]triggerEntry),
	}
}

// TriggerIndex tracks every pending limit order, partitioned by
// instrument. It is not safe for concurrent use; the engine serializes
// access under its own lock.
type TriggerIndex struct {
	byInstrument map[string]*instrumentTriggers
}

// NewTriggerIndex creates an empty TriggerIndex.
func NewTriggerIndex() *TriggerIndex {
	return &TriggerIndex{byInstrument: make(map[string]*instrumentTriggers)}
}

func (t *TriggerIndex) get(symbol string) *instrumentTriggers {
	it, ok := t.byInstrument[symbol]
	if !ok {
		it = newInstrumentTriggers()
		t.byInstrument[symbol] = it
	}
	return it
}

// Add indexes a pending limit order.
func (t *TriggerIndex) Add(o *domain.Order) {
	it := t.get(o.Instrument)
	entry := triggerEntry{Trigger: o.Price, Seq: o.Seq, Order: o}
	if o.Side == domain.OrderSideBuy {
		it.buys.ReplaceOrInsert(entry)
	} else {
		it.sells.ReplaceOrInsert(entry)
	}
	it.index[o.OrderID] = entry
}

// Remove drops an order from the index. Unknown IDs are ignored.
func (t *TriggerIndex) Remove(o *domain.Order) {
	it, ok := t.byInstrument[o.Instrument]
	if !ok {
		return
	}
	entry, ok := it.index[o.OrderID]
	if !ok {
		return
	}
	if o.Side == domain.OrderSideBuy {
		it.buys.Delete(entry)
	} else {
		it.sells.Delete(entry)
	}
	delete(it.index, o.OrderID)
}

// Crossed appends to dst every pending order of the instrument whose
// trigger condition holds at price: buys with trigger ≥ price, sells with
// trigger ≤ price. Entries stay in the index until the caller settles and
// removes them.
func (t *TriggerIndex) Crossed(symbol string, price decimal.Decimal, dst []triggerEntry) []triggerEntry {
	it, ok := t.byInstrument[symbol]
	if !ok {
		return dst
	}
	it.buys.Ascend(func(e triggerEntry) bool {
		if e.Trigger.LessThan(price) {
			return false
		}
		dst = append(dst, e)
		return true
	})
	it.sells.Ascend(func(e triggerEntry) bool {
		if e.Trigger.GreaterThan(price) {
			return false
		}
		dst = append(dst, e)
		return true
	})
	return dst
}

// Len returns the number of indexed pending orders across all instruments.
func (t *TriggerIndex) Len() int {
	n := 0
	for _, it := range t.byInstrument {
		n += len(it.index)
	}
	return n
}
