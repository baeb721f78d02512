package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/predikt/exchange/internal/apperr"
	"github.com/predikt/exchange/internal/model"
)

// fakeStore is a sequential, in-process stand-in for internal/store plus
// internal/ledger, driving MarketEngine through EngineStore/EngineLedger
// without a database. It is deliberately not safe for concurrent callers —
// MarketEngine only ever touches its store from the single goroutine
// running its command loop, and these tests call processOrder/cancelOrder/
// resolveMarket directly from one goroutine too.
type fakeStore struct {
	orders  map[string]*model.Order
	trades  map[string]*model.Trade
	markets map[string]*model.Market
	ledger  []model.LedgerEntry

	orderSeq  int
	tradeSeq  int
	ledgerSeq int64
	clockSeq  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:  make(map[string]*model.Order),
		trades:  make(map[string]*model.Trade),
		markets: make(map[string]*model.Market),
	}
}

// fakeNow returns a deterministic, strictly increasing timestamp so tests
// can assert on price-time ordering without depending on wall-clock time.
func (fs *fakeStore) fakeNow() time.Time {
	fs.clockSeq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(fs.clockSeq) * time.Second)
}

func (fs *fakeStore) addMarket(id string) {
	fs.markets[id] = &model.Market{ID: id, Resolved: false}
}

// seedDeposit credits userID with amount kopecks via a plain deposit entry,
// the same entry type the deposit indexer appends in production.
func (fs *fakeStore) seedDeposit(userID string, amount int64) {
	fs.ledgerSeq++
	fs.ledger = append(fs.ledger, model.LedgerEntry{
		ID: fs.ledgerSeq, UserID: userID, AmountKopecks: amount,
		Type: model.EntryDeposit, CreatedAt: fs.fakeNow(),
	})
}

func (fs *fakeStore) balance(userID string) int64 {
	var total int64
	for _, e := range fs.ledger {
		if e.UserID == userID {
			total += e.AmountKopecks
		}
	}
	return total
}

func (fs *fakeStore) available(userID string) int64 {
	if b := fs.balance(userID); b > 0 {
		return b
	}
	return 0
}

// locked mirrors store.LockedTotal's corrected formula: the absolute value
// of the net signed sum of the three lock-family entry types, not the sum
// of each negative row's magnitude.
func (fs *fakeStore) locked(userID string) int64 {
	var total int64
	for _, e := range fs.ledger {
		if e.UserID == userID && model.IsLockFamily(e.Type) {
			total += e.AmountKopecks
		}
	}
	if total < 0 {
		return -total
	}
	return total
}

func (fs *fakeStore) ledgerSum() int64 {
	var total int64
	for _, e := range fs.ledger {
		total += e.AmountKopecks
	}
	return total
}

func (fs *fakeStore) ledgerCount() int { return len(fs.ledger) }

// ── fakeTx ───────────────────────────────────────────

// fakeTx snapshots fakeStore's mutable state at BeginTx and restores it on
// Rollback; Commit just drops the snapshot. Every mutating EngineStore/
// EngineLedger method writes straight into the live maps, so a later call
// within the same fakeTx sees earlier writes immediately — the same
// same-transaction visibility a real *sql.Tx gives FindBestCounter's
// per-fill loop.
type fakeTx struct {
	fs       *fakeStore
	done     bool
	snapshot fakeSnapshot
}

type fakeSnapshot struct {
	orders    map[string]model.Order
	trades    map[string]model.Trade
	markets   map[string]model.Market
	ledger    []model.LedgerEntry
	orderSeq  int
	tradeSeq  int
	ledgerSeq int64
}

func (fs *fakeStore) snapshotNow() fakeSnapshot {
	s := fakeSnapshot{
		orders:    make(map[string]model.Order, len(fs.orders)),
		trades:    make(map[string]model.Trade, len(fs.trades)),
		markets:   make(map[string]model.Market, len(fs.markets)),
		ledger:    append([]model.LedgerEntry(nil), fs.ledger...),
		orderSeq:  fs.orderSeq,
		tradeSeq:  fs.tradeSeq,
		ledgerSeq: fs.ledgerSeq,
	}
	for k, v := range fs.orders {
		s.orders[k] = *v
	}
	for k, v := range fs.trades {
		s.trades[k] = *v
	}
	for k, v := range fs.markets {
		s.markets[k] = *v
	}
	return s
}

func (fs *fakeStore) restore(s fakeSnapshot) {
	fs.orders = make(map[string]*model.Order, len(s.orders))
	for k := range s.orders {
		o := s.orders[k]
		fs.orders[k] = &o
	}
	fs.trades = make(map[string]*model.Trade, len(s.trades))
	for k := range s.trades {
		t := s.trades[k]
		fs.trades[k] = &t
	}
	fs.markets = make(map[string]*model.Market, len(s.markets))
	for k := range s.markets {
		m := s.markets[k]
		fs.markets[k] = &m
	}
	fs.ledger = s.ledger
	fs.orderSeq = s.orderSeq
	fs.tradeSeq = s.tradeSeq
	fs.ledgerSeq = s.ledgerSeq
}

func (tx *fakeTx) Commit() error {
	tx.done = true
	return nil
}

func (tx *fakeTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.fs.restore(tx.snapshot)
	return nil
}

// ── EngineStore ──────────────────────────────────────

func (fs *fakeStore) BeginTx(ctx context.Context) (Tx, error) {
	return &fakeTx{fs: fs, snapshot: fs.snapshotNow()}, nil
}

func (fs *fakeStore) GetOpenMarkets(ctx context.Context) ([]model.Market, error) {
	var out []model.Market
	for _, m := range fs.markets {
		if !m.Resolved {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (fs *fakeStore) GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	var out []model.Order
	for _, o := range fs.orders {
		if o.MarketID == marketID && o.Status.Resting() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (fs *fakeStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if o, ok := fs.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (fs *fakeStore) GetOrderTx(tx Tx, id string) (*model.Order, error) {
	return fs.GetOrder(context.Background(), id)
}

func (fs *fakeStore) InsertOrder(tx Tx, o *model.Order) error {
	fs.orderSeq++
	o.ID = fmt.Sprintf("order-%d", fs.orderSeq)
	o.CreatedAt = fs.fakeNow()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	fs.orders[o.ID] = &cp
	return nil
}

func (fs *fakeStore) UpdateOrderFill(tx Tx, orderID string, filledKopecks int64, status model.OrderStatus) error {
	o, ok := fs.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	o.FilledKopecks = filledKopecks
	o.Status = status
	o.UpdatedAt = fs.fakeNow()
	return nil
}

func (fs *fakeStore) CancelOrder(tx Tx, orderID string) error {
	o, ok := fs.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	o.Status = model.StatusCancelled
	o.UpdatedAt = fs.fakeNow()
	return nil
}

// FindBestCounter mirrors store.FindBestCounter's SQL: the resting order on
// side with the highest price_bp, earliest created_at first, no owner
// exclusion (self-trade is allowed).
func (fs *fakeStore) FindBestCounter(tx Tx, marketID string, side model.OrderSide) (*model.Order, error) {
	var best *model.Order
	for _, o := range fs.orders {
		if o.MarketID != marketID || o.Side != side || !o.Status.Resting() {
			continue
		}
		if best == nil || o.PriceBp > best.PriceBp ||
			(o.PriceBp == best.PriceBp && o.CreatedAt.Before(best.CreatedAt)) {
			best = o
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (fs *fakeStore) InsertTrade(tx Tx, t *model.Trade) error {
	fs.tradeSeq++
	t.ID = fmt.Sprintf("trade-%d", fs.tradeSeq)
	t.CreatedAt = fs.fakeNow()
	cp := *t
	fs.trades[t.ID] = &cp
	return nil
}

func (fs *fakeStore) AddMarketVolume(tx Tx, marketID string, delta int64) error {
	m, ok := fs.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s not found", marketID)
	}
	m.VolumeKopecks += delta
	return nil
}

func (fs *fakeStore) GetMarketForUpdate(tx Tx, marketID string) (*model.Market, error) {
	m, ok := fs.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("market %s not found", marketID)
	}
	cp := *m
	return &cp, nil
}

func (fs *fakeStore) ListTradesForMarketTx(tx Tx, marketID string) ([]model.Trade, error) {
	var out []model.Trade
	for _, t := range fs.trades {
		if t.MarketID == marketID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (fs *fakeStore) ResolveMarket(tx Tx, marketID string, outcome model.MarketOutcome) error {
	m, ok := fs.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s not found", marketID)
	}
	m.Resolved = true
	m.Outcome = outcome
	now := fs.fakeNow()
	m.ResolvedAt = &now
	return nil
}

func (fs *fakeStore) SumLedgerByTypeForRefs(tx Tx, typ model.LedgerEntryType, refs []string) (int64, error) {
	refSet := make(map[string]bool, len(refs))
	for _, r := range refs {
		refSet[r] = true
	}
	var total int64
	for _, e := range fs.ledger {
		if e.Type == typ && e.ReferenceID != nil && refSet[*e.ReferenceID] {
			total += e.AmountKopecks
		}
	}
	return total, nil
}

// ── EngineLedger ─────────────────────────────────────

func (fs *fakeStore) RequireSufficient(tx Tx, userID string, need int64) error {
	if fs.balance(userID) < need {
		return apperr.New(apperr.InsufficientFunds, "insufficient available balance", map[string]any{"required": float64(need) / 100})
	}
	return nil
}

func (fs *fakeStore) Append(tx Tx, userID string, amount int64, typ model.LedgerEntryType, ref *string) (int64, error) {
	fs.ledgerSeq++
	entry := model.LedgerEntry{ID: fs.ledgerSeq, UserID: userID, AmountKopecks: amount, Type: typ, CreatedAt: fs.fakeNow()}
	if ref != nil {
		r := *ref
		entry.ReferenceID = &r
	}
	fs.ledger = append(fs.ledger, entry)
	return entry.ID, nil
}
