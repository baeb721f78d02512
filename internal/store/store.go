// Package store is the Postgres access layer: connection setup, schema
// migrations, and the CRUD/locking primitives the ledger, engine, deposit
// indexer and withdrawal queue are built on. Every mutating call takes an
// explicit *sql.Tx so callers control transaction boundaries; nothing here
// opens a transaction on the caller's behalf.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"

	"github.com/predikt/exchange/internal/model"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, chatID int64, username *string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (chat_id, username) VALUES ($1,$2)
		 RETURNING id, chat_id, username, created_at`, chatID, username,
	).Scan(&u.ID, &u.ChatID, &u.Username, &u.CreatedAt)
	return u, err
}

// FindOrCreateUserByChatID returns the existing user for chatID, or creates
// a placeholder (nil username) if none exists yet — the path the deposit
// indexer takes when a transfer arrives before the owner has logged in.
func FindOrCreateUserByChatID(ctx context.Context, tx *sql.Tx, chatID int64) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE chat_id=$1`, chatID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (chat_id) VALUES ($1) RETURNING id`, chatID,
	).Scan(&id)
	return id, err
}

func (s *Store) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, chat_id, username, created_at FROM users WHERE chat_id=$1`, chatID,
	).Scan(&u.ID, &u.ChatID, &u.Username, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, chat_id, username, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.ChatID, &u.Username, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, chat_id, username, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.ChatID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// SetUsername backfills the username the first time a placeholder user
// authenticates.
func (s *Store) SetUsername(ctx context.Context, userID, username string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE users SET username=$1 WHERE id=$2 AND username IS NULL`, username, userID)
	return err
}

// ── Ledger ───────────────────────────────────────────

func AppendLedgerEntry(tx *sql.Tx, userID string, amount int64, typ model.LedgerEntryType, ref *string) (int64, error) {
	var id int64
	err := tx.QueryRow(
		`INSERT INTO ledger_entries (user_id, amount_kopecks, type, reference_id) VALUES ($1,$2,$3,$4) RETURNING id`,
		userID, amount, typ, ref,
	).Scan(&id)
	return id, err
}

func SetLedgerReference(tx *sql.Tx, entryID int64, ref string) error {
	_, err := tx.Exec(`UPDATE ledger_entries SET reference_id=$1 WHERE id=$2`, ref, entryID)
	return err
}

func BalanceTotal(ctx context.Context, q Queryer, userID string) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_kopecks),0) FROM ledger_entries WHERE user_id=$1`, userID).Scan(&total)
	return total, err
}

// BalanceTotalForUpdate locks every ledger row belonging to userID so a
// concurrent caller taking the same lock waits until the caller's
// transaction commits, then returns the signed sum. Row locks do not block
// plain inserts of new entries.
func BalanceTotalForUpdate(tx *sql.Tx, userID string) (int64, error) {
	var total int64
	err := tx.QueryRow(
		`SELECT COALESCE(SUM(amount_kopecks),0)
		 FROM (SELECT amount_kopecks FROM ledger_entries WHERE user_id=$1 FOR UPDATE) locked_rows`, userID,
	).Scan(&total)
	return total, err
}

// LockedTotal sums the lock-family entries (order_lock, order_unlock,
// trade_lock) and returns the absolute value of their net signed total —
// not the sum of each negative row's magnitude, which would double-count
// an order_lock that has already been partially unlocked by a fill.
func LockedTotal(ctx context.Context, q Queryer, userID string) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(ABS(SUM(amount_kopecks)),0)
		 FROM ledger_entries WHERE user_id=$1 AND type IN ('order_lock','order_unlock','trade_lock')`,
		userID,
	).Scan(&total)
	return total, err
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run inside or outside an existing transaction.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, amount_kopecks, type, reference_id, created_at
		 FROM ledger_entries WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.AmountKopecks, &e.Type, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ── Markets ──────────────────────────────────────────

func (s *Store) CreateMarket(ctx context.Context, title, desc, category string, deadline time.Time) (*model.Market, error) {
	m := &model.Market{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO markets (title,description,category,deadline)
		 VALUES ($1,$2,$3,$4)
		 RETURNING id,title,description,category,deadline,resolved,outcome,resolved_at,yes_price_bp,no_price_bp,volume_kopecks,created_at`,
		title, desc, category, deadline,
	).Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Deadline, &m.Resolved, &m.Outcome, &m.ResolvedAt, &m.YesPriceBp, &m.NoPriceBp, &m.VolumeKopecks, &m.CreatedAt)
	return m, err
}

func (s *Store) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,title,description,category,deadline,resolved,outcome,resolved_at,yes_price_bp,no_price_bp,volume_kopecks,created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *Store) GetOpenMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,title,description,category,deadline,resolved,outcome,resolved_at,yes_price_bp,no_price_bp,volume_kopecks,created_at
		 FROM markets WHERE resolved=false`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *Store) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m := &model.Market{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id,title,description,category,deadline,resolved,outcome,resolved_at,yes_price_bp,no_price_bp,volume_kopecks,created_at
		 FROM markets WHERE id=$1`, id,
	).Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Deadline, &m.Resolved, &m.Outcome, &m.ResolvedAt, &m.YesPriceBp, &m.NoPriceBp, &m.VolumeKopecks, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMarketForUpdate locks the market row, used by resolution to prevent a
// second concurrent resolve from reading stale resolved=false.
func GetMarketForUpdate(tx *sql.Tx, id string) (*model.Market, error) {
	m := &model.Market{}
	err := tx.QueryRow(
		`SELECT id,title,description,category,deadline,resolved,outcome,resolved_at,yes_price_bp,no_price_bp,volume_kopecks,created_at
		 FROM markets WHERE id=$1 FOR UPDATE`, id,
	).Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Deadline, &m.Resolved, &m.Outcome, &m.ResolvedAt, &m.YesPriceBp, &m.NoPriceBp, &m.VolumeKopecks, &m.CreatedAt)
	return m, err
}

func ResolveMarket(tx *sql.Tx, marketID string, outcome model.MarketOutcome) error {
	_, err := tx.Exec(
		`UPDATE markets SET resolved=true, outcome=$1, resolved_at=now() WHERE id=$2`, outcome, marketID,
	)
	return err
}

func AddMarketVolume(tx *sql.Tx, marketID string, delta int64) error {
	_, err := tx.Exec(`UPDATE markets SET volume_kopecks = volume_kopecks + $1 WHERE id=$2`, delta, marketID)
	return err
}

// CountOrdersForMarket backs the admin delete-market guard: deletion is
// forbidden once any order, filled or not, has ever been placed.
func (s *Store) CountOrdersForMarket(ctx context.Context, marketID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE market_id=$1`, marketID).Scan(&n)
	return n, err
}

// DeleteMarket removes a market row outright. Callers must have already
// verified CountOrdersForMarket returned zero.
func (s *Store) DeleteMarket(ctx context.Context, marketID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM markets WHERE id=$1`, marketID)
	return err
}

func scanMarkets(rows *sql.Rows) ([]model.Market, error) {
	var out []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Deadline, &m.Resolved, &m.Outcome, &m.ResolvedAt, &m.YesPriceBp, &m.NoPriceBp, &m.VolumeKopecks, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ── Orders ───────────────────────────────────────────

func InsertOrder(tx *sql.Tx, o *model.Order) error {
	return tx.QueryRow(
		`INSERT INTO orders (market_id,owner_id,side,price_bp,amount_kopecks,filled_kopecks,status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		o.MarketID, o.OwnerID, o.Side, o.PriceBp, o.AmountKopecks, o.FilledKopecks, o.Status,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func UpdateOrderFill(tx *sql.Tx, orderID string, filledKopecks int64, status model.OrderStatus) error {
	_, err := tx.Exec(
		`UPDATE orders SET filled_kopecks=$1, status=$2, updated_at=now() WHERE id=$3`,
		filledKopecks, status, orderID,
	)
	return err
}

func CancelOrder(tx *sql.Tx, orderID string) error {
	_, err := tx.Exec(`UPDATE orders SET status='CANCELLED', updated_at=now() WHERE id=$1`, orderID)
	return err
}

func (s *Store) GetOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,market_id,owner_id,side,price_bp,amount_kopecks,filled_kopecks,status,created_at,updated_at
		 FROM orders WHERE market_id=$1 AND status IN ('OPEN','PARTIAL') ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// FindBestCounter locks and returns the single best-priced resting order on
// side, skipping rows another in-flight transaction already holds. This is
// the matching loop's one read per fill: processOrder calls it repeatedly
// inside its own transaction, filling against whatever it returns until the
// aggressor is satisfied, nothing crosses any more, or maxTradesPerOrder is
// hit. SKIP LOCKED is what keeps two MarketEngines racing the same market
// (a deploy overlap, a crashed engine restarted elsewhere) from both landing
// a fill against the same resting order — ORDER BY price_bp DESC, created_at
// ASC is the only place price-time priority is actually enforced. Self-trade
// is not excluded: the exchange allows a user to match their own resting
// order, so there is no owner filter here.
func FindBestCounter(tx *sql.Tx, marketID string, side model.OrderSide) (*model.Order, error) {
	o := &model.Order{}
	err := tx.QueryRow(
		`SELECT id,market_id,owner_id,side,price_bp,amount_kopecks,filled_kopecks,status,created_at,updated_at
		 FROM orders
		 WHERE market_id=$1 AND side=$2 AND status IN ('OPEN','PARTIAL')
		 ORDER BY price_bp DESC, created_at ASC
		 FOR UPDATE SKIP LOCKED LIMIT 1`, marketID, side,
	).Scan(&o.ID, &o.MarketID, &o.OwnerID, &o.Side, &o.PriceBp, &o.AmountKopecks, &o.FilledKopecks, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (s *Store) GetUserOrders(ctx context.Context, marketID, userID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,market_id,owner_id,side,price_bp,amount_kopecks,filled_kopecks,status,created_at,updated_at
		 FROM orders WHERE market_id=$1 AND owner_id=$2 ORDER BY created_at DESC LIMIT 100`, marketID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o := &model.Order{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id,market_id,owner_id,side,price_bp,amount_kopecks,filled_kopecks,status,created_at,updated_at
		 FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.MarketID, &o.OwnerID, &o.Side, &o.PriceBp, &o.AmountKopecks, &o.FilledKopecks, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func GetOrderTx(tx *sql.Tx, id string) (*model.Order, error) {
	o := &model.Order{}
	err := tx.QueryRow(
		`SELECT id,market_id,owner_id,side,price_bp,amount_kopecks,filled_kopecks,status,created_at,updated_at
		 FROM orders WHERE id=$1 FOR UPDATE`, id,
	).Scan(&o.ID, &o.MarketID, &o.OwnerID, &o.Side, &o.PriceBp, &o.AmountKopecks, &o.FilledKopecks, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.MarketID, &o.OwnerID, &o.Side, &o.PriceBp, &o.AmountKopecks, &o.FilledKopecks, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ── Trades ───────────────────────────────────────────

func InsertTrade(tx *sql.Tx, t *model.Trade) error {
	return tx.QueryRow(
		`INSERT INTO trades (market_id,yes_order_id,no_order_id,price_bp,amount_kopecks,yes_cost_kopecks,no_cost_kopecks)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		t.MarketID, t.YesOrderID, t.NoOrderID, t.PriceBp, t.AmountKopecks, t.YesCostKopecks, t.NoCostKopecks,
	).Scan(&t.ID, &t.CreatedAt)
}

func (s *Store) ListTrades(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,market_id,yes_order_id,no_order_id,price_bp,amount_kopecks,yes_cost_kopecks,no_cost_kopecks,created_at
		 FROM trades WHERE market_id=$1 ORDER BY created_at DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.YesOrderID, &t.NoOrderID, &t.PriceBp, &t.AmountKopecks, &t.YesCostKopecks, &t.NoCostKopecks, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ListTradesForUser returns marketID's trades the caller was a party to,
// joined through ownership of either leg's order — list trades never
// exposes a trade to someone who wasn't on one side of it.
func (s *Store) ListTradesForUser(ctx context.Context, marketID, userID string, limit int) ([]model.Trade, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT t.id,t.market_id,t.yes_order_id,t.no_order_id,t.price_bp,t.amount_kopecks,t.yes_cost_kopecks,t.no_cost_kopecks,t.created_at
		 FROM trades t
		 JOIN orders yo ON yo.id = t.yes_order_id
		 JOIN orders no_ ON no_.id = t.no_order_id
		 WHERE t.market_id=$1 AND (yo.owner_id=$2 OR no_.owner_id=$2)
		 ORDER BY t.created_at DESC LIMIT $3`, marketID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.YesOrderID, &t.NoOrderID, &t.PriceBp, &t.AmountKopecks, &t.YesCostKopecks, &t.NoCostKopecks, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func ListTradesForMarketTx(tx *sql.Tx, marketID string) ([]model.Trade, error) {
	rows, err := tx.Query(
		`SELECT id,market_id,yes_order_id,no_order_id,price_bp,amount_kopecks,yes_cost_kopecks,no_cost_kopecks,created_at
		 FROM trades WHERE market_id=$1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.YesOrderID, &t.NoOrderID, &t.PriceBp, &t.AmountKopecks, &t.YesCostKopecks, &t.NoCostKopecks, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SumLedgerByTypeForRefs is the runtime invariant check settlement uses
// after writing its entries and before committing: it re-reads what
// actually landed in the transaction, scoped to this market's trade ids,
// and the caller compares it against the in-memory expected total.
func SumLedgerByTypeForRefs(tx *sql.Tx, typ model.LedgerEntryType, refs []string) (int64, error) {
	var total int64
	err := tx.QueryRow(
		`SELECT COALESCE(SUM(amount_kopecks),0) FROM ledger_entries WHERE type=$1 AND reference_id = ANY($2)`,
		typ, pq.Array(refIDArray(refs)),
	).Scan(&total)
	return total, err
}

func refIDArray(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

// ── Deposits ─────────────────────────────────────────

func DepositExists(ctx context.Context, q Queryer, txHash string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM chain_deposit_records WHERE tx_hash=$1)`, txHash).Scan(&exists)
	return exists, err
}

func InsertDepositRecord(tx *sql.Tx, d *model.ChainDepositRecord) error {
	return tx.QueryRow(
		`INSERT INTO chain_deposit_records (tx_hash,logical_time,sender_addr,chain_amount,user_id,status,ledger_entry_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (tx_hash) DO NOTHING
		 RETURNING id, created_at`,
		d.TxHash, d.LogicalTime, d.SenderAddr, d.ChainAmount, d.UserID, d.Status, d.LedgerEntryID,
	).Scan(&d.ID, &d.CreatedAt)
}

func (s *Store) ListDeposits(ctx context.Context, userID string, limit int) ([]model.ChainDepositRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,tx_hash,logical_time,sender_addr,chain_amount,user_id,status,ledger_entry_id,created_at
		 FROM chain_deposit_records WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ChainDepositRecord
	for rows.Next() {
		var d model.ChainDepositRecord
		if err := rows.Scan(&d.ID, &d.TxHash, &d.LogicalTime, &d.SenderAddr, &d.ChainAmount, &d.UserID, &d.Status, &d.LedgerEntryID, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ── Withdrawals ──────────────────────────────────────

func InsertWithdrawal(tx *sql.Tx, w *model.WithdrawalRequest) error {
	return tx.QueryRow(
		`INSERT INTO withdrawal_requests (user_id,dest_addr,amount_kopecks,status,ledger_entry_id)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
		w.UserID, w.DestAddr, w.AmountKopecks, w.Status, w.LedgerEntryID,
	).Scan(&w.ID, &w.CreatedAt)
}

func GetWithdrawalTx(tx *sql.Tx, id string) (*model.WithdrawalRequest, error) {
	w := &model.WithdrawalRequest{}
	err := tx.QueryRow(
		`SELECT id,user_id,dest_addr,amount_kopecks,status,chain_tx_hash,ledger_entry_id,created_at,processed_at
		 FROM withdrawal_requests WHERE id=$1 FOR UPDATE`, id,
	).Scan(&w.ID, &w.UserID, &w.DestAddr, &w.AmountKopecks, &w.Status, &w.ChainTxHash, &w.LedgerEntryID, &w.CreatedAt, &w.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	w := &model.WithdrawalRequest{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id,user_id,dest_addr,amount_kopecks,status,chain_tx_hash,ledger_entry_id,created_at,processed_at
		 FROM withdrawal_requests WHERE id=$1`, id,
	).Scan(&w.ID, &w.UserID, &w.DestAddr, &w.AmountKopecks, &w.Status, &w.ChainTxHash, &w.LedgerEntryID, &w.CreatedAt, &w.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]model.WithdrawalRequest, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,user_id,dest_addr,amount_kopecks,status,chain_tx_hash,ledger_entry_id,created_at,processed_at
		 FROM withdrawal_requests WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WithdrawalRequest
	for rows.Next() {
		var w model.WithdrawalRequest
		if err := rows.Scan(&w.ID, &w.UserID, &w.DestAddr, &w.AmountKopecks, &w.Status, &w.ChainTxHash, &w.LedgerEntryID, &w.CreatedAt, &w.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) ListAllWithdrawals(ctx context.Context, status string) ([]model.WithdrawalRequest, error) {
	q := `SELECT id,user_id,dest_addr,amount_kopecks,status,chain_tx_hash,ledger_entry_id,created_at,processed_at FROM withdrawal_requests`
	var args []any
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WithdrawalRequest
	for rows.Next() {
		var w model.WithdrawalRequest
		if err := rows.Scan(&w.ID, &w.UserID, &w.DestAddr, &w.AmountKopecks, &w.Status, &w.ChainTxHash, &w.LedgerEntryID, &w.CreatedAt, &w.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func SetWithdrawalStatus(tx *sql.Tx, id string, status model.WithdrawalStatus) error {
	_, err := tx.Exec(
		`UPDATE withdrawal_requests SET status=$1, processed_at=CASE WHEN $1 IN ('completed','failed','cancelled') THEN now() ELSE processed_at END WHERE id=$2`,
		status, id,
	)
	return err
}

func SetWithdrawalChainTx(tx *sql.Tx, id, txHash string) error {
	_, err := tx.Exec(`UPDATE withdrawal_requests SET chain_tx_hash=$1 WHERE id=$2`, txHash, id)
	return err
}

// DailyWithdrawalTotal sums pending/processing/completed withdrawals over
// the trailing 24h, the basis for the daily cap.
func DailyWithdrawalTotal(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var total int64
	err := tx.QueryRow(
		`SELECT COALESCE(SUM(amount_kopecks),0) FROM withdrawal_requests
		 WHERE user_id=$1 AND status IN ('pending','processing','completed') AND created_at > now() - interval '24 hours'`,
		userID,
	).Scan(&total)
	return total, err
}
