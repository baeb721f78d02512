package engine

import "sort"

// OrderEntry is a resting order in the book.
type OrderEntry struct {
	OrderID         string
	UserID          string
	Side            string // "YES" or "NO"
	PriceBp         int    // price this side is willing to pay, in basis points
	RemainingAmount int64  // kopecks still unfilled
	Seq             int64
}

// Level is a price level with a FIFO queue of orders.
type Level struct {
	Price  int
	Orders []*OrderEntry
}

func (l *Level) TotalAmount() int64 {
	var t int64
	for _, o := range l.Orders {
		t += o.RemainingAmount
	}
	return t
}

// OrderBook is the in-memory limit order book for a single market. YES and
// NO orders are two independent queues; they never cross within a side —
// only a YES order and a NO order whose prices sum to at least 10000 basis
// points can trade against each other.
type OrderBook struct {
	yes       map[int]*Level // price -> Level
	no        map[int]*Level
	yesPrices []int // sorted descending: most aggressive (highest bid) first
	noPrices  []int // sorted descending
	index     map[string]*OrderEntry
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		yes:   make(map[int]*Level),
		no:    make(map[int]*Level),
		index: make(map[string]*OrderEntry),
	}
}

// ── Queries ──────────────────────────────────────────

func (b *OrderBook) BestYes() *int {
	if len(b.yesPrices) == 0 {
		return nil
	}
	p := b.yesPrices[0]
	return &p
}

func (b *OrderBook) BestNo() *int {
	if len(b.noPrices) == 0 {
		return nil
	}
	p := b.noPrices[0]
	return &p
}

func (b *OrderBook) Size() int { return len(b.index) }

type BookLevel struct {
	PriceBp int   `json:"price_bp"`
	Amount  int64 `json:"remaining_amount_kopecks"`
}

func (b *OrderBook) Snapshot(depth int) (yes, no []BookLevel) {
	for i := 0; i < len(b.yesPrices) && i < depth; i++ {
		p := b.yesPrices[i]
		yes = append(yes, BookLevel{PriceBp: p, Amount: b.yes[p].TotalAmount()})
	}
	for i := 0; i < len(b.noPrices) && i < depth; i++ {
		p := b.noPrices[i]
		no = append(no, BookLevel{PriceBp: p, Amount: b.no[p].TotalAmount()})
	}
	if yes == nil {
		yes = []BookLevel{}
	}
	if no == nil {
		no = []BookLevel{}
	}
	return
}

// ── Add / Remove ─────────────────────────────────────

func (b *OrderBook) Add(e *OrderEntry) {
	if _, exists := b.index[e.OrderID]; exists {
		return
	}
	b.index[e.OrderID] = e
	if e.Side == "YES" {
		b.addToSide(b.yes, &b.yesPrices, e)
	} else {
		b.addToSide(b.no, &b.noPrices, e)
	}
}

func (b *OrderBook) Remove(orderID string) *OrderEntry {
	e, ok := b.index[orderID]
	if !ok {
		return nil
	}
	delete(b.index, orderID)
	if e.Side == "YES" {
		b.removeFromSide(b.yes, &b.yesPrices, e)
	} else {
		b.removeFromSide(b.no, &b.noPrices, e)
	}
	return e
}

// ── Matching ─────────────────────────────────────────

// maxTradesPerOrder bounds how many resting orders a single incoming order
// can sweep through in one call to processOrder's per-fill matching loop,
// so one order can't force unbounded DB work inside a single transaction.
const maxTradesPerOrder = 50

// ApplyFill reduces the remaining amount of a resting order. Returns the
// remaining amount after fill, removing the order from the book if it is
// now fully filled.
func (b *OrderBook) ApplyFill(orderID string, fillAmount int64) int64 {
	e := b.index[orderID]
	if e == nil {
		return 0
	}
	e.RemainingAmount -= fillAmount
	if e.RemainingAmount <= 0 {
		b.Remove(orderID)
		return 0
	}
	return e.RemainingAmount
}

// ── Internals ────────────────────────────────────────

func (b *OrderBook) addToSide(m map[int]*Level, prices *[]int, e *OrderEntry) {
	level, ok := m[e.PriceBp]
	if !ok {
		level = &Level{Price: e.PriceBp}
		m[e.PriceBp] = level
		*prices = append(*prices, e.PriceBp)
		sort.Sort(sort.Reverse(sort.IntSlice(*prices)))
	}
	level.Orders = append(level.Orders, e)
}

func (b *OrderBook) removeFromSide(m map[int]*Level, prices *[]int, e *OrderEntry) {
	level, ok := m[e.PriceBp]
	if !ok {
		return
	}
	for i, o := range level.Orders {
		if o.OrderID == e.OrderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	if len(level.Orders) == 0 {
		delete(m, e.PriceBp)
		for i, p := range *prices {
			if p == e.PriceBp {
				*prices = append((*prices)[:i], (*prices)[i+1:]...)
				break
			}
		}
	}
}
