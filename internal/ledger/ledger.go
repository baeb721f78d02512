// Package ledger is the append-only accounting core: every balance in the
// exchange is derived by summing signed entries, never stored as a mutable
// column. Grounded in the wallet helpers the engine used to call directly,
// generalized so every caller goes through one place that knows how a
// balance is computed.
package ledger

import (
	"context"
	"database/sql"

	"github.com/predikt/exchange/internal/apperr"
	"github.com/predikt/exchange/internal/model"
	"github.com/predikt/exchange/internal/store"
)

// majorUnits converts a kopeck amount to the major-unit value the wire
// format reports in error details, matching the conversion the API
// boundary applies to every other amount leaving this service.
func majorUnits(kopecks int64) float64 { return float64(kopecks) / 100 }

type Ledger struct{ db *sql.DB }

func New(db *sql.DB) *Ledger { return &Ledger{db: db} }

// Balance reads a user's total signed balance without locking. Use this for
// display paths (GET /wallet) where a stale read is fine.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return store.BalanceTotal(ctx, l.db, userID)
}

// BalanceForUpdate locks every ledger row for userID inside tx and returns
// the signed total. Named distinctly from Balance rather than taking a
// forUpdate bool: a call site should never be able to default its way into
// skipping the lock it needs before appending a debit.
func (l *Ledger) BalanceForUpdate(tx *sql.Tx, userID string) (int64, error) {
	return store.BalanceTotalForUpdate(tx, userID)
}

// Available is the signed total clamped at zero: a negative balance never
// happens under correct operation, but display paths should not show a
// negative number if it somehow did.
func (l *Ledger) Available(ctx context.Context, userID string) (int64, error) {
	total, err := l.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, nil
	}
	return total, nil
}

// Locked sums the lock-family entries (order_lock/order_unlock/trade_lock)
// for display; it is informational only and never gates a mutation.
func (l *Ledger) Locked(ctx context.Context, userID string) (int64, error) {
	return store.LockedTotal(ctx, l.db, userID)
}

// Sufficient checks whether userID's balance covers need. When forUpdate is
// true the caller already holds (or is about to hold) tx for the
// subsequent Append, so the read locks the rows to prevent a concurrent
// spend from landing between the check and the debit.
func (l *Ledger) Sufficient(tx *sql.Tx, userID string, need int64, forUpdate bool) (bool, error) {
	var total int64
	var err error
	if forUpdate {
		total, err = store.BalanceTotalForUpdate(tx, userID)
	} else {
		total, err = store.BalanceTotal(context.Background(), tx, userID)
	}
	if err != nil {
		return false, err
	}
	return total >= need, nil
}

// Append writes one ledger entry inside tx. It performs no validation of
// its own — sufficiency and locking policy live entirely in the caller,
// which by this point has already decided the entry is allowed.
func (l *Ledger) Append(tx *sql.Tx, userID string, amount int64, typ model.LedgerEntryType, ref *string) (int64, error) {
	return store.AppendLedgerEntry(tx, userID, amount, typ, ref)
}

// RequireSufficient is a convenience wrapper for the common call pattern:
// lock, check, and return a typed InsufficientFunds error on failure.
func (l *Ledger) RequireSufficient(tx *sql.Tx, userID string, need int64) error {
	ok, err := l.Sufficient(tx, userID, need, true)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "read balance", err)
	}
	if !ok {
		return apperr.New(apperr.InsufficientFunds, "insufficient available balance", map[string]any{"required": majorUnits(need)})
	}
	return nil
}
