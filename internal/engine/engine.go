package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/predikt/exchange/internal/apperr"
	"github.com/predikt/exchange/internal/ledger"
	"github.com/predikt/exchange/internal/model"
	"github.com/predikt/exchange/internal/store"
)

// PublishFunc broadcasts a WS message for a market.
type PublishFunc func(marketID, msgType string, data any)

// ── Manager ──────────────────────────────────────────

// Manager owns one MarketEngine per open market and routes requests to the
// right one. Engines are created lazily (Boot at startup, StartEngine on
// market creation) and never torn down for the life of the process — a
// resolved market's engine simply stops accepting new fills.
type Manager struct {
	engines map[string]*MarketEngine
	mu      sync.RWMutex
	store   EngineStore
	ledger  EngineLedger
	publish PublishFunc
	feeRate int
	log     *zap.Logger
}

func NewManager(st *store.Store, lg *ledger.Ledger, pub PublishFunc, feeRateBp int, log *zap.Logger) *Manager {
	return &Manager{
		engines: make(map[string]*MarketEngine),
		store:   newStoreAdapter(st),
		ledger:  newLedgerAdapter(lg),
		publish: pub,
		feeRate: feeRateBp,
		log:     log,
	}
}

func (m *Manager) Boot(ctx context.Context) error {
	markets, err := m.store.GetOpenMarkets(ctx)
	if err != nil {
		return err
	}
	for _, mkt := range markets {
		if err := m.StartEngine(ctx, mkt.ID); err != nil {
			return fmt.Errorf("boot %s: %w", mkt.ID, err)
		}
	}
	m.log.Info("booted market engines", zap.Int("count", len(markets)))
	return nil
}

func (m *Manager) StartEngine(ctx context.Context, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[marketID]; ok {
		return nil
	}
	eng, err := newMarketEngine(ctx, marketID, m.store, m.ledger, m.publish, m.feeRate, m.log)
	if err != nil {
		return err
	}
	m.engines[marketID] = eng
	// Background context: the engine must outlive the HTTP request that
	// created it.
	go eng.run(context.Background())
	return nil
}

func (m *Manager) GetEngine(marketID string) *MarketEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[marketID]
}

func (m *Manager) GetBook(marketID string) (yes, no []BookLevel) {
	eng := m.GetEngine(marketID)
	if eng == nil {
		return []BookLevel{}, []BookLevel{}
	}
	return eng.book.Snapshot(20)
}

// ── MarketEngine ─────────────────────────────────────

// MarketEngine serializes every mutation for a single market through one
// goroutine reading cmdCh, so the in-memory book and the DB writes for a
// market never race against each other. Postgres row locking (FOR UPDATE
// SKIP LOCKED, via Store.FindBestCounter) is the backstop for the rarer
// case of two server processes both running an engine for the same market.
type MarketEngine struct {
	marketID string
	resolved bool
	book     *OrderBook
	cmdCh    chan command
	store    EngineStore
	ledger   EngineLedger
	publish  PublishFunc
	feeRate  int
	log      *zap.Logger
}

func newMarketEngine(ctx context.Context, marketID string, st EngineStore, lg EngineLedger, pub PublishFunc, feeRateBp int, log *zap.Logger) (*MarketEngine, error) {
	book := NewOrderBook()
	orders, err := st.GetOpenOrders(ctx, marketID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		o := &orders[i]
		book.Add(&OrderEntry{
			OrderID:         o.ID,
			UserID:          o.OwnerID,
			Side:            string(o.Side),
			PriceBp:         o.PriceBp,
			RemainingAmount: o.Remaining(),
		})
	}
	log.Info("market engine loaded", zap.String("market_id", marketID), zap.Int("orders", len(orders)))
	return &MarketEngine{
		marketID: marketID,
		book:     book,
		cmdCh:    make(chan command, 64),
		store:    st,
		ledger:   lg,
		publish:  pub,
		feeRate:  feeRateBp,
		log:      log,
	}, nil
}

func (e *MarketEngine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
}

// ── Commands ─────────────────────────────────────────

type command interface{ exec(e *MarketEngine) }

type placeResult struct {
	res model.PlaceOrderResult
	err error
}

type placeCmd struct {
	req    model.PlaceOrderReq
	userID string
	ch     chan<- placeResult
}

type cancelCmd struct {
	orderID string
	userID  string
	ch      chan<- error
}

type resolveCmd struct {
	outcome model.MarketOutcome
	ch      chan<- error
}

func (c placeCmd) exec(e *MarketEngine) {
	res, err := e.processOrder(c.userID, c.req)
	c.ch <- placeResult{res: res, err: err}
}
func (c cancelCmd) exec(e *MarketEngine)  { c.ch <- e.cancelOrder(c.orderID, c.userID) }
func (c resolveCmd) exec(e *MarketEngine) { c.ch <- e.resolveMarket(c.outcome) }

// PlaceOrder sends a place-order command to the market goroutine and waits
// for it to execute.
func (e *MarketEngine) PlaceOrder(userID string, req model.PlaceOrderReq) (model.PlaceOrderResult, error) {
	ch := make(chan placeResult, 1)
	e.cmdCh <- placeCmd{req: req, userID: userID, ch: ch}
	r := <-ch
	return r.res, r.err
}

func (e *MarketEngine) CancelOrder(orderID, userID string) error {
	ch := make(chan error, 1)
	e.cmdCh <- cancelCmd{orderID: orderID, userID: userID, ch: ch}
	return <-ch
}

func (e *MarketEngine) ResolveMarket(outcome model.MarketOutcome) error {
	ch := make(chan error, 1)
	e.cmdCh <- resolveCmd{outcome: outcome, ch: ch}
	return <-ch
}

// ── Process Order ────────────────────────────────────

// bookFill records a fill applied against a resting counter order during
// matching, replayed against the in-memory book only after the
// transaction that produced it has committed.
type bookFill struct {
	orderID string
	amount  int64
}

func (e *MarketEngine) processOrder(userID string, req model.PlaceOrderReq) (model.PlaceOrderResult, error) {
	if e.resolved {
		return model.PlaceOrderResult{}, apperr.New(apperr.Conflict, "market is resolved", nil)
	}
	if req.Side != model.SideYes && req.Side != model.SideNo {
		return model.PlaceOrderResult{}, apperr.New(apperr.Validation, "side must be YES or NO", nil)
	}
	if req.PriceBp < 1 || req.PriceBp > 9999 {
		return model.PlaceOrderResult{}, apperr.New(apperr.Validation, "price_bp must be between 1 and 9999", nil)
	}
	if req.AmountKopecks < 1 {
		return model.PlaceOrderResult{}, apperr.New(apperr.Validation, "amount_kopecks must be >= 1", nil)
	}

	order := &model.Order{
		MarketID:      e.marketID,
		OwnerID:       userID,
		Side:          req.Side,
		PriceBp:       req.PriceBp,
		AmountKopecks: req.AmountKopecks,
		FilledKopecks: 0,
		Status:        model.StatusOpen,
	}

	ctx := context.Background()
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()

	// The taker's own order_lock covers its whole notional amount
	// up front; unfilled balance is released again on cancel, filled
	// balance is released as fills convert it into trade_lock below.
	if err := e.ledger.RequireSufficient(tx, userID, req.AmountKopecks); err != nil {
		return model.PlaceOrderResult{}, err
	}
	if _, err := e.ledger.Append(tx, userID, -req.AmountKopecks, model.EntryOrderLock, nil); err != nil {
		return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "lock order amount", err)
	}

	if err := e.store.InsertOrder(tx, order); err != nil {
		return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "insert order", err)
	}

	var trades []model.Trade
	var fills []bookFill
	var filled int64
	remaining := req.AmountKopecks

	// Per-fill DB-driven matching: each iteration locks and re-reads the
	// single best-priced counter order inside this same transaction, so a
	// partial fill recorded on iteration N is visible to iteration N+1's
	// query — no in-memory peek is needed to stay consistent. FOR UPDATE
	// SKIP LOCKED is what keeps a concurrent engine racing the same market
	// from double-filling the row this transaction is holding.
	for remaining > 0 && len(trades) < maxTradesPerOrder {
		maker, err := e.store.FindBestCounter(tx, e.marketID, req.Side.Opposite())
		if err != nil {
			return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "find counter", err)
		}
		if maker == nil || order.PriceBp+maker.PriceBp < 10000 {
			break
		}

		fillAmount := remaining
		if makerRemaining := maker.Remaining(); makerRemaining < fillAmount {
			fillAmount = makerRemaining
		}
		fillPriceBp := yesPriceFromMaker(maker.Side, maker.PriceBp)

		trade, err := e.settleFill(tx, order, maker, fillAmount, fillPriceBp)
		if err != nil {
			return model.PlaceOrderResult{}, err
		}
		trades = append(trades, *trade)
		fills = append(fills, bookFill{orderID: maker.ID, amount: fillAmount})
		filled += fillAmount
		remaining -= fillAmount
	}

	order.FilledKopecks = filled
	order.RecomputeStatus()
	if err := e.store.UpdateOrderFill(tx, order.ID, order.FilledKopecks, order.Status); err != nil {
		return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "update order fill", err)
	}
	if err := e.store.AddMarketVolume(tx, e.marketID, filled); err != nil {
		return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "update volume", err)
	}

	if err := tx.Commit(); err != nil {
		return model.PlaceOrderResult{}, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}

	// The in-memory book exists solely to answer GetBook/WS snapshot
	// queries cheaply — it never decided a match above — so it is only
	// mutated once the transaction has actually landed.
	for _, f := range fills {
		e.book.ApplyFill(f.orderID, f.amount)
	}
	if order.Status.Resting() && remaining > 0 {
		e.book.Add(&OrderEntry{
			OrderID:         order.ID,
			UserID:          userID,
			Side:            string(order.Side),
			PriceBp:         order.PriceBp,
			RemainingAmount: remaining,
		})
	}

	if e.publish != nil {
		yes, no := e.book.Snapshot(20)
		e.publish(e.marketID, "book_snapshot", map[string]any{"yes": yes, "no": no})
		for _, t := range trades {
			e.publish(e.marketID, "trade", t)
		}
	}

	return model.PlaceOrderResult{OrderID: order.ID, Status: order.Status, Filled: filled, Trades: trades}, nil
}

// ── Cancel ───────────────────────────────────────────

func (e *MarketEngine) cancelOrder(orderID, userID string) error {
	ctx := context.Background()
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "load order", err)
	}
	if o == nil {
		return apperr.New(apperr.NotFound, "order not found", nil)
	}
	if o.OwnerID != userID {
		return apperr.New(apperr.Forbidden, "not your order", nil)
	}
	// Cancellation is open-only, not partial: for an open order the unlock
	// below, o.Remaining(), equals the full order_lock amount. A partially
	// filled order cannot be cancelled by its owner; its unfilled remainder
	// is released only by resolution's sweep through releaseResting.
	if o.Status != model.StatusOpen {
		return apperr.New(apperr.Conflict, "order is not cancellable", nil)
	}
	return e.releaseResting(ctx, o)
}

// releaseResting cancels a resting order row and unlocks whatever of its
// original order_lock is still untouched by a fill. It is the shared tail
// of a user-initiated cancel (open orders only) and of resolution's forced
// sweep of every still-resting order (open or partial) before settlement.
func (e *MarketEngine) releaseResting(ctx context.Context, o *model.Order) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()

	if err := e.store.CancelOrder(tx, o.ID); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "cancel order", err)
	}
	remaining := o.Remaining()
	ref := o.ID
	if _, err := e.ledger.Append(tx, o.OwnerID, remaining, model.EntryOrderUnlock, &ref); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "release lock", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}

	e.book.Remove(o.ID)

	if e.publish != nil {
		yes, no := e.book.Snapshot(20)
		e.publish(e.marketID, "book_snapshot", map[string]any{"yes": yes, "no": no})
	}
	return nil
}
