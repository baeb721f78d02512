package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/predikt/exchange/internal/apperr"
	"github.com/predikt/exchange/internal/model"
)

// yesPriceFromMaker converts a resting (maker) order's own price to the
// YES-side price a trade against it should be recorded at. Price-time
// priority means the resting order's price determines the trade price,
// never the incoming (taker) order's limit.
func yesPriceFromMaker(side model.OrderSide, priceBp int) int {
	if side == model.SideYes {
		return priceBp
	}
	return 10000 - priceBp
}

// settleFill records one fill against a locked maker order as a Trade and
// moves the matched amount from each side's order_lock into its trade_lock,
// at that side's actual cost for this fill. maker is the row
// FindBestCounter just locked inside tx, so maker.FilledKopecks is already
// current for this transaction.
func (e *MarketEngine) settleFill(tx Tx, taker, maker *model.Order, fillAmount int64, fillPriceBp int) (*model.Trade, error) {
	yesCost, noCost := model.SplitCost(fillAmount, fillPriceBp)

	trade := &model.Trade{
		MarketID:       e.marketID,
		PriceBp:        fillPriceBp,
		AmountKopecks:  fillAmount,
		YesCostKopecks: yesCost,
		NoCostKopecks:  noCost,
	}
	if taker.Side == model.SideYes {
		trade.YesOrderID, trade.NoOrderID = taker.ID, maker.ID
	} else {
		trade.YesOrderID, trade.NoOrderID = maker.ID, taker.ID
	}

	if err := e.store.InsertTrade(tx, trade); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "insert trade", err)
	}
	ref := trade.ID

	takerCost, makerCost := noCost, yesCost
	if taker.Side == model.SideYes {
		takerCost, makerCost = yesCost, noCost
	}

	if err := e.settleOrderLeg(tx, taker.OwnerID, fillAmount, takerCost, ref); err != nil {
		return nil, err
	}
	if err := e.settleOrderLeg(tx, maker.OwnerID, fillAmount, makerCost, ref); err != nil {
		return nil, err
	}

	makerFilled := maker.FilledKopecks + fillAmount
	makerStatus := model.StatusPartial
	if makerFilled >= maker.AmountKopecks {
		makerStatus = model.StatusFilled
	}
	if err := e.store.UpdateOrderFill(tx, maker.ID, makerFilled, makerStatus); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "update maker fill", err)
	}

	return trade, nil
}

// settleOrderLeg converts fillAmount of an order's escrowed order_lock into
// a trade_lock of exactly cost: unlock the full matched notional, then lock
// only what this side actually owes. The difference (fillAmount - cost) is
// released back to the owner's available balance — they only ever owe
// their side's share of the trade.
func (e *MarketEngine) settleOrderLeg(tx Tx, ownerID string, fillAmount, cost int64, ref string) error {
	if _, err := e.ledger.Append(tx, ownerID, fillAmount, model.EntryOrderUnlock, &ref); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "order unlock", err)
	}
	if _, err := e.ledger.Append(tx, ownerID, -cost, model.EntryTradeLock, &ref); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "trade lock", err)
	}
	return nil
}

// resolveMarket cancels every resting order, then walks every trade in the
// market crediting the winning side with a full payout and debiting the
// platform fee, leaving the losing side's trade_lock standing as its loss.
func (e *MarketEngine) resolveMarket(outcome model.MarketOutcome) error {
	ctx := context.Background()

	open, err := e.store.GetOpenOrders(ctx, e.marketID)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "list open orders", err)
	}
	for i := range open {
		if err := e.releaseResting(ctx, &open[i]); err != nil {
			e.log.Warn("cancel during resolution failed", zap.String("order_id", open[i].ID), zap.Error(err))
		}
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()

	market, err := e.store.GetMarketForUpdate(tx, e.marketID)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "lock market", err)
	}
	if market.Resolved {
		return apperr.New(apperr.Conflict, "market already resolved", nil)
	}

	trades, err := e.store.ListTradesForMarketTx(tx, e.marketID)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "list trades", err)
	}

	var expectedPayout, expectedFee int64
	var payoutRefs, feeRefs []string
	for _, t := range trades {
		winnerOrderID := t.NoOrderID
		if outcome == model.OutcomeYes {
			winnerOrderID = t.YesOrderID
		}
		winner, err := e.store.GetOrder(ctx, winnerOrderID)
		if err != nil || winner == nil {
			return apperr.Wrap(apperr.Invariant, "winning order missing", err)
		}
		fee := model.Cost(t.AmountKopecks, e.feeRate)
		ref := t.ID
		if _, err := e.ledger.Append(tx, winner.OwnerID, t.AmountKopecks, model.EntryPayout, &ref); err != nil {
			return apperr.Wrap(apperr.StorageUnavailable, "payout", err)
		}
		if _, err := e.ledger.Append(tx, winner.OwnerID, -fee, model.EntryFee, &ref); err != nil {
			return apperr.Wrap(apperr.StorageUnavailable, "fee", err)
		}
		expectedPayout += t.AmountKopecks
		expectedFee += fee
		payoutRefs = append(payoutRefs, ref)
		feeRefs = append(feeRefs, ref)
	}

	if err := e.store.ResolveMarket(tx, e.marketID, outcome); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "resolve market", err)
	}

	actualPayout, err := e.store.SumLedgerByTypeForRefs(tx, model.EntryPayout, payoutRefs)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "verify payout sum", err)
	}
	actualFee, err := e.store.SumLedgerByTypeForRefs(tx, model.EntryFee, feeRefs)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "verify fee sum", err)
	}
	if actualPayout != expectedPayout || -actualFee != expectedFee {
		return apperr.New(apperr.Invariant, "settlement ledger mismatch", map[string]any{
			"expected_payout": expectedPayout, "actual_payout": actualPayout,
			"expected_fee": expectedFee, "actual_fee": -actualFee,
		})
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}

	e.resolved = true
	e.log.Info("market resolved", zap.String("market_id", e.marketID), zap.String("outcome", string(outcome)),
		zap.Int("trades", len(trades)), zap.Int64("payout", expectedPayout), zap.Int64("fee", expectedFee))
	return nil
}
