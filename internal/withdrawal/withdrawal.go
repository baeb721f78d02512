// Package withdrawal implements the withdrawal request queue: creating a
// pending withdrawal locks the requested amount plus a flat fee against
// the ledger immediately; an operator (or a later chain-payout worker)
// marks it processing/completed/failed out of band, and a user can
// cancel their own request while it is still pending to get the lock
// back.
package withdrawal

import (
	"context"
	"strings"

	"github.com/predikt/exchange/internal/apperr"
	"github.com/predikt/exchange/internal/ledger"
	"github.com/predikt/exchange/internal/model"
	"github.com/predikt/exchange/internal/store"
)

// validAddrPrefixes mirrors the destination-chain address formats the
// original withdrawal form accepted.
var validAddrPrefixes = []string{"EQ", "UQ", "kQ", "0:"}

func validAddress(addr string) bool {
	for _, p := range validAddrPrefixes {
		if strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}

// majorUnits converts a kopeck amount to the major-unit value error details
// report, matching the conversion the API boundary applies everywhere else.
func majorUnits(kopecks int64) float64 { return float64(kopecks) / 100 }

type Service struct {
	store    *store.Store
	ldg      *ledger.Ledger
	feeFlat  int64
	minAmt   int64
	dailyCap int64
}

func New(st *store.Store, ldg *ledger.Ledger, feeFlat, minAmount, dailyCap int64) *Service {
	return &Service{store: st, ldg: ldg, feeFlat: feeFlat, minAmt: minAmount, dailyCap: dailyCap}
}

// Create validates and records a new withdrawal request, locking
// amount+fee against the user's ledger in the same transaction.
func (s *Service) Create(ctx context.Context, userID, destAddr string, amountKopecks int64) (*model.WithdrawalRequest, error) {
	if !validAddress(destAddr) {
		return nil, apperr.New(apperr.Validation, "invalid destination address format", nil)
	}
	if amountKopecks < s.minAmt {
		return nil, apperr.New(apperr.Validation, "amount below minimum withdrawal", map[string]any{"minimum": majorUnits(s.minAmt)})
	}

	total := amountKopecks + s.feeFlat

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()

	dailyTotal, err := store.DailyWithdrawalTotal(ctx, tx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "read daily withdrawal total", err)
	}
	if dailyTotal+amountKopecks > s.dailyCap {
		return nil, apperr.New(apperr.Validation, "daily withdrawal limit exceeded", map[string]any{
			"daily_cap":               majorUnits(s.dailyCap),
			"already_withdrawn_today": majorUnits(dailyTotal),
		})
	}

	if err := s.ldg.RequireSufficient(tx, userID, total); err != nil {
		return nil, err
	}

	entryID, err := s.ldg.Append(tx, userID, -total, model.EntryWithdrawalPending, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "append withdrawal lock entry", err)
	}

	w := &model.WithdrawalRequest{
		UserID:        userID,
		DestAddr:      destAddr,
		AmountKopecks: amountKopecks,
		Status:        model.WithdrawalPending,
		LedgerEntryID: &entryID,
	}
	if err := store.InsertWithdrawal(tx, w); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "insert withdrawal", err)
	}
	ref := w.ID
	if err := store.SetLedgerReference(tx, entryID, ref); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "set ledger reference", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return w, nil
}

// Cancel refunds a still-pending withdrawal's lock and marks it cancelled.
// Only the owner may cancel, and only while status is pending.
func (s *Service) Cancel(ctx context.Context, userID, withdrawalID string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()

	w, err := store.GetWithdrawalTx(tx, withdrawalID)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "load withdrawal", err)
	}
	if w == nil {
		return apperr.New(apperr.NotFound, "withdrawal not found", nil)
	}
	if w.UserID != userID {
		return apperr.New(apperr.Forbidden, "not your withdrawal", nil)
	}
	if w.Status != model.WithdrawalPending {
		return apperr.New(apperr.Conflict, "withdrawal is no longer pending", map[string]any{"status": w.Status})
	}

	refund := w.AmountKopecks + s.feeFlat
	ref := w.ID
	if _, err := s.ldg.Append(tx, userID, refund, model.EntryWithdrawalCancelled, &ref); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "append refund entry", err)
	}
	if err := store.SetWithdrawalStatus(tx, withdrawalID, model.WithdrawalCancelled); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "mark cancelled", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "commit", err)
	}
	return nil
}

// Get returns a single withdrawal owned by userID.
func (s *Service) Get(ctx context.Context, userID, withdrawalID string) (*model.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "load withdrawal", err)
	}
	if w == nil || w.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "withdrawal not found", nil)
	}
	return w, nil
}

// List returns the calling user's withdrawal history, most recent first.
func (s *Service) List(ctx context.Context, userID string) ([]model.WithdrawalRequest, error) {
	all, err := s.store.ListWithdrawals(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "list withdrawals", err)
	}
	return all, nil
}

// MarkProcessing/MarkCompleted/MarkFailed are the operator-facing
// transitions a chain-payout worker or admin endpoint drives.
// MarkProcessing and MarkCompleted do not touch the ledger — the lock
// already happened at Create; MarkFailed refunds the lock automatically.

func (s *Service) MarkProcessing(ctx context.Context, withdrawalID string) error {
	return s.setStatus(ctx, withdrawalID, model.WithdrawalProcessing)
}

func (s *Service) MarkCompleted(ctx context.Context, withdrawalID, chainTxHash string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()
	if err := store.SetWithdrawalChainTx(tx, withdrawalID, chainTxHash); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "set chain tx hash", err)
	}
	if err := store.SetWithdrawalStatus(tx, withdrawalID, model.WithdrawalCompleted); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "mark completed", err)
	}
	return tx.Commit()
}

// MarkFailed flags the withdrawal failed and refunds the original lock —
// a failed chain payout means the funds never left, so the user gets them
// back automatically.
func (s *Service) MarkFailed(ctx context.Context, withdrawalID string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()

	w, err := store.GetWithdrawalTx(tx, withdrawalID)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "load withdrawal", err)
	}
	if w == nil {
		return apperr.New(apperr.NotFound, "withdrawal not found", nil)
	}

	refund := w.AmountKopecks + s.feeFlat
	ref := w.ID
	if _, err := s.ldg.Append(tx, w.UserID, refund, model.EntryWithdrawalCancelled, &ref); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "append refund entry", err)
	}
	if err := store.SetWithdrawalStatus(tx, withdrawalID, model.WithdrawalFailed); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "mark failed", err)
	}
	return tx.Commit()
}

func (s *Service) setStatus(ctx context.Context, withdrawalID string, status model.WithdrawalStatus) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "begin tx", err)
	}
	defer tx.Rollback()
	if err := store.SetWithdrawalStatus(tx, withdrawalID, status); err != nil {
		return apperr.Wrap(apperr.StorageUnavailable, "set status", err)
	}
	return tx.Commit()
}
