package api

import (
	"math"
	"time"

	"github.com/predikt/exchange/internal/engine"
	"github.com/predikt/exchange/internal/model"
)

// This file is the boundary's unit conversion: every monetary amount
// crossing the wire is the major unit (display currency, e.g. "935.00")
// and every price is a fraction in [0.0001, 0.9999], exactly as spec §6
// describes. Everything on the other side of it — internal/model,
// internal/engine, internal/ledger, internal/store — stays in kopecks and
// basis points, and never sees a float.

func toMajor(kopecks int64) float64 { return float64(kopecks) / 100 }

func toMinor(major float64) int64 { return int64(math.Round(major * 100)) }

func priceToBp(price float64) int { return int(math.Round(price * 10000)) }

func bpToPrice(bp int) float64 { return float64(bp) / 10000 }

// ── Orders / trades ──────────────────────────────────

type placeOrderReqDTO struct {
	Side   model.OrderSide `json:"side"`
	Price  float64         `json:"price"`
	Amount float64         `json:"amount"`
}

func (d placeOrderReqDTO) toModel() model.PlaceOrderReq {
	return model.PlaceOrderReq{
		Side:          d.Side,
		PriceBp:       priceToBp(d.Price),
		AmountKopecks: toMinor(d.Amount),
	}
}

type tradeDTO struct {
	ID         string    `json:"id"`
	MarketID   string    `json:"market_id"`
	YesOrderID string    `json:"yes_order_id"`
	NoOrderID  string    `json:"no_order_id"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	YesCost    float64   `json:"yes_cost"`
	NoCost     float64   `json:"no_cost"`
	CreatedAt  time.Time `json:"created_at"`
}

func newTradeDTO(t model.Trade) tradeDTO {
	return tradeDTO{
		ID:         t.ID,
		MarketID:   t.MarketID,
		YesOrderID: t.YesOrderID,
		NoOrderID:  t.NoOrderID,
		Price:      bpToPrice(t.PriceBp),
		Amount:     toMajor(t.AmountKopecks),
		YesCost:    toMajor(t.YesCostKopecks),
		NoCost:     toMajor(t.NoCostKopecks),
		CreatedAt:  t.CreatedAt,
	}
}

func newTradeDTOs(trades []model.Trade) []tradeDTO {
	out := make([]tradeDTO, len(trades))
	for i, t := range trades {
		out[i] = newTradeDTO(t)
	}
	return out
}

type placeOrderResultDTO struct {
	OrderID string            `json:"order_id"`
	Status  model.OrderStatus `json:"status"`
	Filled  float64           `json:"filled"`
	Trades  []tradeDTO        `json:"trades"`
}

func newPlaceOrderResultDTO(r model.PlaceOrderResult) placeOrderResultDTO {
	return placeOrderResultDTO{
		OrderID: r.OrderID,
		Status:  r.Status,
		Filled:  toMajor(r.Filled),
		Trades:  newTradeDTOs(r.Trades),
	}
}

type orderDTO struct {
	ID        string            `json:"id"`
	MarketID  string            `json:"market_id"`
	OwnerID   string            `json:"owner_id"`
	Side      model.OrderSide   `json:"side"`
	Price     float64           `json:"price"`
	Amount    float64           `json:"amount"`
	Filled    float64           `json:"filled"`
	Status    model.OrderStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func newOrderDTO(o model.Order) orderDTO {
	return orderDTO{
		ID:        o.ID,
		MarketID:  o.MarketID,
		OwnerID:   o.OwnerID,
		Side:      o.Side,
		Price:     bpToPrice(o.PriceBp),
		Amount:    toMajor(o.AmountKopecks),
		Filled:    toMajor(o.FilledKopecks),
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func newOrderDTOs(orders []model.Order) []orderDTO {
	out := make([]orderDTO, len(orders))
	for i, o := range orders {
		out[i] = newOrderDTO(o)
	}
	return out
}

// ── Book ─────────────────────────────────────────────

type bookLevelDTO struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

type bookSnapshotDTO struct {
	Yes []bookLevelDTO `json:"yes"`
	No  []bookLevelDTO `json:"no"`
}

func newBookSnapshotDTO(yes, no []engine.BookLevel) bookSnapshotDTO {
	return bookSnapshotDTO{Yes: newBookLevelDTOs(yes), No: newBookLevelDTOs(no)}
}

func newBookLevelDTOs(levels []engine.BookLevel) []bookLevelDTO {
	out := make([]bookLevelDTO, len(levels))
	for i, l := range levels {
		out[i] = bookLevelDTO{Price: bpToPrice(l.PriceBp), Amount: toMajor(l.Amount)}
	}
	return out
}

// ── Wallet / ledger ──────────────────────────────────

type walletDTO struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}

type ledgerEntryDTO struct {
	ID          int64                 `json:"id"`
	UserID      string                `json:"user_id"`
	Amount      float64               `json:"amount"`
	Type        model.LedgerEntryType `json:"type"`
	ReferenceID *string               `json:"reference_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

func newLedgerEntryDTO(e model.LedgerEntry) ledgerEntryDTO {
	return ledgerEntryDTO{
		ID:          e.ID,
		UserID:      e.UserID,
		Amount:      toMajor(e.AmountKopecks),
		Type:        e.Type,
		ReferenceID: e.ReferenceID,
		CreatedAt:   e.CreatedAt,
	}
}

func newLedgerEntryDTOs(entries []model.LedgerEntry) []ledgerEntryDTO {
	out := make([]ledgerEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = newLedgerEntryDTO(e)
	}
	return out
}

// ── Markets ──────────────────────────────────────────

type marketDTO struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	Deadline    time.Time           `json:"deadline"`
	Resolved    bool                `json:"resolved"`
	Outcome     model.MarketOutcome `json:"outcome"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
	YesPrice    float64             `json:"yes_price"`
	NoPrice     float64             `json:"no_price"`
	Volume      float64             `json:"volume"`
	CreatedAt   time.Time           `json:"created_at"`
}

func newMarketDTO(m model.Market) marketDTO {
	return marketDTO{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		Deadline:    m.Deadline,
		Resolved:    m.Resolved,
		Outcome:     m.Outcome,
		ResolvedAt:  m.ResolvedAt,
		YesPrice:    bpToPrice(m.YesPriceBp),
		NoPrice:     bpToPrice(m.NoPriceBp),
		Volume:      toMajor(m.VolumeKopecks),
		CreatedAt:   m.CreatedAt,
	}
}

func newMarketDTOs(markets []model.Market) []marketDTO {
	out := make([]marketDTO, len(markets))
	for i, m := range markets {
		out[i] = newMarketDTO(m)
	}
	return out
}

type createMarketReqDTO struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	Deadline        time.Time `json:"deadline"`
	InitialYesPrice float64   `json:"initial_yes_price"`
}

// ── Withdrawals ──────────────────────────────────────

type createWithdrawalReqDTO struct {
	DestAddr string  `json:"dest_addr"`
	Amount   float64 `json:"amount"`
}

type withdrawalDTO struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	DestAddr    string                 `json:"dest_addr"`
	Amount      float64                `json:"amount"`
	Status      model.WithdrawalStatus `json:"status"`
	ChainTxHash *string                `json:"chain_tx_hash,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
}

func newWithdrawalDTO(w model.WithdrawalRequest) withdrawalDTO {
	return withdrawalDTO{
		ID:          w.ID,
		UserID:      w.UserID,
		DestAddr:    w.DestAddr,
		Amount:      toMajor(w.AmountKopecks),
		Status:      w.Status,
		ChainTxHash: w.ChainTxHash,
		CreatedAt:   w.CreatedAt,
		ProcessedAt: w.ProcessedAt,
	}
}

func newWithdrawalDTOs(list []model.WithdrawalRequest) []withdrawalDTO {
	out := make([]withdrawalDTO, len(list))
	for i, w := range list {
		out[i] = newWithdrawalDTO(w)
	}
	return out
}
