// Package model defines the domain types shared across the exchange: the
// append-only ledger, markets, resting orders, executed trades, and the
// chain-deposit / withdrawal records that bridge the ledger to the outside
// world.
package model

import "time"

// ── Enums ────────────────────────────────────────────

type OrderSide string

const (
	SideYes OrderSide = "YES"
	SideNo  OrderSide = "NO"
)

func (s OrderSide) Opposite() OrderSide {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Resting reports whether the status still participates in matching.
func (s OrderStatus) Resting() bool { return s == StatusOpen || s == StatusPartial }

type MarketOutcome string

const (
	OutcomeYes  MarketOutcome = "YES"
	OutcomeNo   MarketOutcome = "NO"
	OutcomeNone MarketOutcome = ""
)

type LedgerEntryType string

const (
	EntryDeposit             LedgerEntryType = "deposit"
	EntryOrderLock           LedgerEntryType = "order_lock"
	EntryOrderUnlock         LedgerEntryType = "order_unlock"
	EntryTradeLock           LedgerEntryType = "trade_lock"
	EntryPayout              LedgerEntryType = "payout"
	EntryFee                 LedgerEntryType = "fee"
	EntryWithdrawalPending   LedgerEntryType = "withdrawal_pending"
	EntryWithdrawalCancelled LedgerEntryType = "withdrawal_cancelled"
)

// lockFamily are the entry types that net to the "locked" readout (§4.1 of
// the spec: display-only, sums the absolute value of the signed total).
var lockFamily = map[LedgerEntryType]bool{
	EntryOrderLock:   true,
	EntryOrderUnlock: true,
	EntryTradeLock:   true,
}

func IsLockFamily(t LedgerEntryType) bool { return lockFamily[t] }

type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
	DepositCredited  DepositStatus = "credited"
	DepositFailed    DepositStatus = "failed"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// ── Domain objects ───────────────────────────────────

// User is keyed by an external chat-platform 64-bit id. Placeholder users
// created by the deposit indexer carry a nil Username until the owner's
// first login.
type User struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Username  *string   `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Market struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Category      string        `json:"category"`
	Deadline      time.Time     `json:"deadline"`
	Resolved      bool          `json:"resolved"`
	Outcome       MarketOutcome `json:"outcome"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	YesPriceBp    int           `json:"yes_price_bp"`
	NoPriceBp     int           `json:"no_price_bp"`
	VolumeKopecks int64         `json:"volume_kopecks"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Order struct {
	ID            string      `json:"id"`
	MarketID      string      `json:"market_id"`
	OwnerID       string      `json:"owner_id"`
	Side          OrderSide   `json:"side"`
	PriceBp       int         `json:"price_bp"`
	AmountKopecks int64       `json:"amount_kopecks"`
	FilledKopecks int64       `json:"filled_kopecks"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (o *Order) Remaining() int64 { return o.AmountKopecks - o.FilledKopecks }

// RecomputeStatus derives status from filled ratio: 0 -> open, full ->
// filled, otherwise partial. Never called on a cancelled order.
func (o *Order) RecomputeStatus() {
	switch {
	case o.FilledKopecks <= 0:
		o.Status = StatusOpen
	case o.FilledKopecks >= o.AmountKopecks:
		o.Status = StatusFilled
	default:
		o.Status = StatusPartial
	}
}

type Trade struct {
	ID             string    `json:"id"`
	MarketID       string    `json:"market_id"`
	YesOrderID     string    `json:"yes_order_id"`
	NoOrderID      string    `json:"no_order_id"`
	PriceBp        int       `json:"price_bp"`
	AmountKopecks  int64     `json:"amount_kopecks"`
	YesCostKopecks int64     `json:"yes_cost_kopecks"`
	NoCostKopecks  int64     `json:"no_cost_kopecks"`
	CreatedAt      time.Time `json:"created_at"`
}

type LedgerEntry struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"user_id"`
	AmountKopecks int64           `json:"amount_kopecks"`
	Type          LedgerEntryType `json:"type"`
	ReferenceID   *string         `json:"reference_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ChainDepositRecord struct {
	ID            string        `json:"id"`
	TxHash        string        `json:"tx_hash"`
	LogicalTime   int64         `json:"logical_time"`
	SenderAddr    string        `json:"sender_addr"`
	ChainAmount   int64         `json:"chain_amount"`
	UserID        string        `json:"user_id"`
	Status        DepositStatus `json:"status"`
	LedgerEntryID *int64        `json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type WithdrawalRequest struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	DestAddr      string           `json:"dest_addr"`
	AmountKopecks int64            `json:"amount_kopecks"`
	Status        WithdrawalStatus `json:"status"`
	ChainTxHash   *string          `json:"chain_tx_hash,omitempty"`
	LedgerEntryID *int64           `json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
}

// ── API types ────────────────────────────────────────

type PlaceOrderReq struct {
	Side          OrderSide `json:"side"`
	PriceBp       int       `json:"price_bp"`
	AmountKopecks int64     `json:"amount_kopecks"`
}

type PlaceOrderResult struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Filled  int64       `json:"filled_kopecks"`
	Trades  []Trade     `json:"trades"`
}

type BookLevel struct {
	PriceBp         int   `json:"price_bp"`
	RemainingAmount int64 `json:"remaining_amount_kopecks"`
}

type BookSnapshot struct {
	Yes []BookLevel `json:"yes"`
	No  []BookLevel `json:"no"`
}

// ── Settlement math ──────────────────────────────────

// Cost returns the notional cost, in kopecks, of amount at priceBp basis
// points: floor(amount * priceBp / 10000). This is what one side of an
// order actually pays if filled in full at its own price.
func Cost(amount int64, priceBp int) int64 {
	return amount * int64(priceBp) / 10000
}

// SplitCost divides a fill of amount kopecks at yesPriceBp basis points
// between the YES and NO side. Rounding always accrues to the NO side:
// yesCost + noCost == amount for every amount >= 1 and yesPriceBp in
// [0, 10000].
func SplitCost(amount int64, yesPriceBp int) (yesCost, noCost int64) {
	yesCost = Cost(amount, yesPriceBp)
	noCost = amount - yesCost
	return
}
