package engine

import (
	"context"
	"database/sql"

	"github.com/predikt/exchange/internal/ledger"
	"github.com/predikt/exchange/internal/model"
	"github.com/predikt/exchange/internal/store"
)

// Tx is the transaction surface MarketEngine needs. *sql.Tx satisfies it
// directly; a fake in-memory store in tests satisfies it with a type that
// snapshots/restores map state instead of talking to Postgres.
type Tx interface {
	Commit() error
	Rollback() error
}

// EngineStore is the slice of internal/store's primitives a MarketEngine
// calls. It exists so engine_test.go can drive the real matching/settlement
// code against an in-memory fake instead of a database.
type EngineStore interface {
	BeginTx(ctx context.Context) (Tx, error)
	GetOpenMarkets(ctx context.Context) ([]model.Market, error)
	GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderTx(tx Tx, id string) (*model.Order, error)
	InsertOrder(tx Tx, o *model.Order) error
	UpdateOrderFill(tx Tx, orderID string, filledKopecks int64, status model.OrderStatus) error
	CancelOrder(tx Tx, orderID string) error
	FindBestCounter(tx Tx, marketID string, side model.OrderSide) (*model.Order, error)
	InsertTrade(tx Tx, t *model.Trade) error
	AddMarketVolume(tx Tx, marketID string, delta int64) error
	GetMarketForUpdate(tx Tx, marketID string) (*model.Market, error)
	ListTradesForMarketTx(tx Tx, marketID string) ([]model.Trade, error)
	ResolveMarket(tx Tx, marketID string, outcome model.MarketOutcome) error
	SumLedgerByTypeForRefs(tx Tx, typ model.LedgerEntryType, refs []string) (int64, error)
}

// EngineLedger is the slice of internal/ledger's *Ledger a MarketEngine
// calls, abstracted over Tx the same way EngineStore is.
type EngineLedger interface {
	RequireSufficient(tx Tx, userID string, need int64) error
	Append(tx Tx, userID string, amount int64, typ model.LedgerEntryType, ref *string) (int64, error)
}

// storeAdapter wraps the real *store.Store so it satisfies EngineStore,
// type-asserting Tx back down to *sql.Tx at each call — the production
// path pays for this assertion once per call and never sees it fail, since
// storeAdapter.BeginTx is the only source of the Tx values it then receives.
type storeAdapter struct{ s *store.Store }

func newStoreAdapter(s *store.Store) *storeAdapter { return &storeAdapter{s: s} }

func (a *storeAdapter) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := a.s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (a *storeAdapter) GetOpenMarkets(ctx context.Context) ([]model.Market, error) {
	return a.s.GetOpenMarkets(ctx)
}

func (a *storeAdapter) GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	return a.s.GetOpenOrders(ctx, marketID)
}

func (a *storeAdapter) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return a.s.GetOrder(ctx, id)
}

func (a *storeAdapter) GetOrderTx(tx Tx, id string) (*model.Order, error) {
	return store.GetOrderTx(tx.(*sql.Tx), id)
}

func (a *storeAdapter) InsertOrder(tx Tx, o *model.Order) error {
	return store.InsertOrder(tx.(*sql.Tx), o)
}

func (a *storeAdapter) UpdateOrderFill(tx Tx, orderID string, filledKopecks int64, status model.OrderStatus) error {
	return store.UpdateOrderFill(tx.(*sql.Tx), orderID, filledKopecks, status)
}

func (a *storeAdapter) CancelOrder(tx Tx, orderID string) error {
	return store.CancelOrder(tx.(*sql.Tx), orderID)
}

func (a *storeAdapter) FindBestCounter(tx Tx, marketID string, side model.OrderSide) (*model.Order, error) {
	return store.FindBestCounter(tx.(*sql.Tx), marketID, side)
}

func (a *storeAdapter) InsertTrade(tx Tx, t *model.Trade) error {
	return store.InsertTrade(tx.(*sql.Tx), t)
}

func (a *storeAdapter) AddMarketVolume(tx Tx, marketID string, delta int64) error {
	return store.AddMarketVolume(tx.(*sql.Tx), marketID, delta)
}

func (a *storeAdapter) GetMarketForUpdate(tx Tx, marketID string) (*model.Market, error) {
	return store.GetMarketForUpdate(tx.(*sql.Tx), marketID)
}

func (a *storeAdapter) ListTradesForMarketTx(tx Tx, marketID string) ([]model.Trade, error) {
	return store.ListTradesForMarketTx(tx.(*sql.Tx), marketID)
}

func (a *storeAdapter) ResolveMarket(tx Tx, marketID string, outcome model.MarketOutcome) error {
	return store.ResolveMarket(tx.(*sql.Tx), marketID, outcome)
}

func (a *storeAdapter) SumLedgerByTypeForRefs(tx Tx, typ model.LedgerEntryType, refs []string) (int64, error) {
	return store.SumLedgerByTypeForRefs(tx.(*sql.Tx), typ, refs)
}

// ledgerAdapter wraps the real *ledger.Ledger so it satisfies EngineLedger.
type ledgerAdapter struct{ l *ledger.Ledger }

func newLedgerAdapter(l *ledger.Ledger) *ledgerAdapter { return &ledgerAdapter{l: l} }

func (a *ledgerAdapter) RequireSufficient(tx Tx, userID string, need int64) error {
	return a.l.RequireSufficient(tx.(*sql.Tx), userID, need)
}

func (a *ledgerAdapter) Append(tx Tx, userID string, amount int64, typ model.LedgerEntryType, ref *string) (int64, error) {
	return a.l.Append(tx.(*sql.Tx), userID, amount, typ, ref)
}
