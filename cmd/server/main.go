// Command server is the composition root: it loads configuration, opens
// the database, migrates it, wires the ledger/engine/withdrawal/deposit
// packages together, and serves the HTTP+WebSocket API until told to stop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/predikt/exchange/internal/api"
	"github.com/predikt/exchange/internal/config"
	"github.com/predikt/exchange/internal/deposit"
	"github.com/predikt/exchange/internal/engine"
	"github.com/predikt/exchange/internal/ledger"
	"github.com/predikt/exchange/internal/logging"
	"github.com/predikt/exchange/internal/store"
	"github.com/predikt/exchange/internal/withdrawal"
	"github.com/predikt/exchange/internal/ws"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	if err := st.Migrate("migrations"); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	ldg := ledger.New(st.DB)
	hub := ws.NewHub(log)

	mgr := engine.NewManager(st, ldg, hub.Publish, cfg.FeeRateBp, log)
	ctx := context.Background()
	if err := mgr.Boot(ctx); err != nil {
		log.Fatal("boot market engines", zap.Error(err))
	}

	wd := withdrawal.New(st, ldg, cfg.WithdrawalFeeKopecks, cfg.MinWithdrawalKopecks, cfg.MaxWithdrawalPerDayKopecks)

	var indexer *deposit.Indexer
	if cfg.ChainAddress != "" {
		chainClient := deposit.NewChainClient(cfg.ChainAPIBaseURL, cfg.ChainAPIKey)
		indexer = deposit.NewIndexer(chainClient, st, ldg, cfg.ChainAddress, cfg.MinDepositChain, cfg.ChainUnitsPerKopeck, cfg.DepositPoll, log)
		indexer.Start(ctx)
		log.Info("deposit indexer started", zap.String("address", cfg.ChainAddress))
	} else {
		log.Warn("chain_address not configured, deposit indexer disabled")
	}

	srv := api.NewServer(st, ldg, mgr, wd, hub, cfg.JWTSecret, cfg.AdminToken, log)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: srv.Router(),
	}

	go func() {
		log.Info("listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	if indexer != nil {
		indexer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
