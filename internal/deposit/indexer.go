package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/predikt/exchange/internal/ledger"
	"github.com/predikt/exchange/internal/model"
	"github.com/predikt/exchange/internal/store"
)

// Indexer polls a ChainClient for new incoming transfers on one address,
// decodes each deposit memo, credits the addressed user's ledger, and
// records the transaction hash so a re-poll never double-credits it.
type Indexer struct {
	client          *ChainClient
	st              *store.Store
	ldg             *ledger.Ledger
	address         string
	minDepositChain int64
	unitsPerKopeck  int64
	pollInterval    time.Duration
	log             *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewIndexer(client *ChainClient, st *store.Store, ldg *ledger.Ledger, address string, minDepositChain, unitsPerKopeck int64, pollInterval time.Duration, log *zap.Logger) *Indexer {
	return &Indexer{
		client:          client,
		st:              st,
		ldg:             ldg,
		address:         address,
		minDepositChain: minDepositChain,
		unitsPerKopeck:  unitsPerKopeck,
		pollInterval:    pollInterval,
		log:             log,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (ix *Indexer) Start(ctx context.Context) {
	go ix.loop(ctx)
}

func (ix *Indexer) Stop() {
	close(ix.stopCh)
	<-ix.doneCh
}

func (ix *Indexer) loop(ctx context.Context) {
	defer close(ix.doneCh)
	ticker := time.NewTicker(ix.pollInterval)
	defer ticker.Stop()

	backoff := ix.pollInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stopCh:
			return
		case <-ticker.C:
			if err := ix.pollOnce(ctx); err != nil {
				if errors.Is(err, errRateLimited) {
					backoff = minDuration(backoff*2, 5*time.Minute)
					ix.log.Warn("chain api rate limited, backing off", zap.Duration("backoff", backoff))
					time.Sleep(backoff)
					continue
				}
				ix.log.Error("deposit poll failed", zap.Error(err))
				continue
			}
			backoff = ix.pollInterval
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// pollOnce fetches recent transactions, filters for successful transfers
// addressed to this indexer's deposit address, and credits each new one
// exactly once.
func (ix *Indexer) pollOnce(ctx context.Context) error {
	raw, err := ix.client.GetTransactions(ctx, ix.address, 50)
	if err != nil {
		return err
	}

	for _, r := range raw {
		tx, err := ParseTransaction(r)
		if err != nil {
			ix.log.Warn("skipping malformed transaction", zap.String("hash", r.Hash), zap.Error(err))
			continue
		}
		if err := ix.processOne(ctx, tx); err != nil {
			ix.log.Error("failed to process deposit", zap.String("hash", tx.Hash), zap.Error(err))
		}
	}
	return nil
}

func (ix *Indexer) processOne(ctx context.Context, t *Transaction) error {
	if !t.Success {
		return nil
	}
	if t.ChainAmount < ix.minDepositChain {
		ix.log.Debug("deposit below minimum, ignoring", zap.String("hash", t.Hash), zap.Int64("amount", t.ChainAmount))
		return nil
	}

	exists, err := store.DepositExists(ctx, ix.st.DB, t.Hash)
	if err != nil {
		return fmt.Errorf("check existing deposit: %w", err)
	}
	if exists {
		return nil
	}

	chatID, ok := ParseDepositMemo(t.Body)
	if !ok {
		ix.log.Warn("deposit with unparseable memo, skipping", zap.String("hash", t.Hash))
		return nil
	}

	kopecks := t.ChainAmount / ix.unitsPerKopeck
	if kopecks <= 0 {
		return nil
	}

	dbTx, err := ix.st.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback()

	userID, err := store.FindOrCreateUserByChatID(ctx, dbTx, int64(chatID))
	if err != nil {
		return fmt.Errorf("find or create user: %w", err)
	}

	ref := t.Hash
	entryID, err := ix.ldg.Append(dbTx, userID, kopecks, model.EntryDeposit, &ref)
	if err != nil {
		return fmt.Errorf("append deposit ledger entry: %w", err)
	}

	record := &model.ChainDepositRecord{
		TxHash:        t.Hash,
		LogicalTime:   t.LogicalTime,
		SenderAddr:    t.SenderAddr,
		ChainAmount:   t.ChainAmount,
		UserID:        userID,
		Status:        model.DepositCredited,
		LedgerEntryID: &entryID,
	}
	if err := store.InsertDepositRecord(dbTx, record); err != nil {
		return fmt.Errorf("insert deposit record: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	ix.log.Info("credited deposit",
		zap.String("hash", t.Hash),
		zap.String("user_id", userID),
		zap.Int64("kopecks", kopecks),
	)
	return nil
}
