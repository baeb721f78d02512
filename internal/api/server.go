// Package api is the HTTP boundary: chi routing, JWT session minting,
// operator-token admin gating, and JSON (de)serialization around the core
// ledger/engine/withdrawal/deposit packages. Nothing here holds state of
// its own beyond the wiring passed in at construction — every mutation it
// accepts is handed straight to a core component, and every error crossing
// back out is an *apperr.Error translated to the stable JSON envelope.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/predikt/exchange/internal/apperr"
	"github.com/predikt/exchange/internal/engine"
	"github.com/predikt/exchange/internal/ledger"
	"github.com/predikt/exchange/internal/model"
	"github.com/predikt/exchange/internal/store"
	"github.com/predikt/exchange/internal/withdrawal"
	"github.com/predikt/exchange/internal/ws"
)

type Server struct {
	store      *store.Store
	ledger     *ledger.Ledger
	manager    *engine.Manager
	withdrawal *withdrawal.Service
	hub        *ws.Hub
	jwtSecret  []byte
	adminToken string
	log        *zap.Logger
}

func NewServer(st *store.Store, ldg *ledger.Ledger, mgr *engine.Manager, wd *withdrawal.Service, hub *ws.Hub, jwtSecret, adminToken string, log *zap.Logger) *Server {
	return &Server{
		store:      st,
		ledger:     ldg,
		manager:    mgr,
		withdrawal: wd,
		hub:        hub,
		jwtSecret:  []byte(jwtSecret),
		adminToken: adminToken,
		log:        log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Session: mints a JWT for a chat id this server trusts has already
	// been validated upstream (boundary concern — see spec §6). This
	// stands in for the Telegram-style "twa <initData>" verification the
	// original performed before ever reaching the core.
	r.Post("/api/auth/login", s.login)

	r.Get("/ws", s.hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/wallet", s.getWallet)
		r.Get("/api/ledger", s.getLedgerHistory)

		r.Get("/api/markets", s.listMarkets)
		r.Get("/api/markets/{id}", s.getMarket)
		r.Get("/api/markets/{id}/book", s.getBook)
		r.Get("/api/markets/{id}/trades", s.getTrades)
		r.Get("/api/markets/{id}/orders", s.listOrders)
		r.Post("/api/markets/{id}/orders", s.placeOrder)
		r.Delete("/api/orders/{id}", s.cancelOrder)

		r.Post("/api/withdrawals", s.createWithdrawal)
		r.Get("/api/withdrawals", s.listWithdrawals)
		r.Post("/api/withdrawals/{id}/cancel", s.cancelWithdrawal)

		r.Get("/api/deposits", s.listDeposits)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.adminOnly)

		r.Post("/api/admin/markets", s.createMarket)
		r.Delete("/api/admin/markets/{id}", s.deleteMarket)
		r.Post("/api/admin/markets/{id}/resolve", s.resolveMarket)

		r.Get("/api/admin/withdrawals", s.adminListWithdrawals)
		r.Post("/api/admin/withdrawals/{id}/processing", s.adminMarkProcessing)
		r.Post("/api/admin/withdrawals/{id}/complete", s.adminMarkCompleted)
		r.Post("/api/admin/withdrawals/{id}/fail", s.adminMarkFailed)
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID   int64   `json:"chat_id"`
		Username *string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.New(apperr.Validation, "invalid json", nil))
		return
	}
	if req.ChatID == 0 {
		writeAppErr(w, apperr.New(apperr.Validation, "chat_id is required", nil))
		return
	}

	user, err := s.store.GetUserByChatID(r.Context(), req.ChatID)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "look up user", err))
		return
	}
	if user == nil {
		user, err = s.store.CreateUser(r.Context(), req.ChatID, req.Username)
		if err != nil {
			writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "create user", err))
			return
		}
	} else if user.Username == nil && req.Username != nil {
		_ = s.store.SetUsername(r.Context(), user.ID, *req.Username)
		user.Username = req.Username
	}

	token := s.makeToken(user.ID, user.ChatID)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, chatID int64) string {
	claims := jwt.MapClaims{
		"sub":     userID,
		"chat_id": chatID,
		"exp":     time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	return t
}

// ── Middleware ───────────────────────────────────────

type ctxKey string

const ctxUserID ctxKey = "userID"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeAppErr(w, apperr.New(apperr.Unauthenticated, "missing bearer token", nil))
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			writeAppErr(w, apperr.New(apperr.Unauthenticated, "invalid token", nil))
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeAppErr(w, apperr.New(apperr.Unauthenticated, "invalid claims", nil))
			return
		}
		userID, _ := claims["sub"].(string)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, userID)))
	})
}

// adminOnly gates the operator surface with a standalone shared-secret
// token, never a JWT role claim — spec §6 calls for a distinct operator
// principal, not a bit on the user's session.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeAppErr(w, apperr.New(apperr.Forbidden, "access denied", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(ctxUserID).(string)
	return uid
}

// ── Wallet / Ledger ──────────────────────────────────

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	total, err := s.ledger.Balance(r.Context(), uid)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "read balance", err))
		return
	}
	available, err := s.ledger.Available(r.Context(), uid)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "read available", err))
		return
	}
	locked, err := s.ledger.Locked(r.Context(), uid)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "read locked", err))
		return
	}
	json200(w, walletDTO{
		Total:     toMajor(total),
		Available: toMajor(available),
		Locked:    toMajor(locked),
	})
}

func (s *Server) getLedgerHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	entries, err := s.store.ListLedgerEntries(r.Context(), userID(r), limit)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "list ledger entries", err))
		return
	}
	json200(w, newLedgerEntryDTOs(entries))
}

// ── Markets ──────────────────────────────────────────

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "list markets", err))
		return
	}
	json200(w, newMarketDTOs(markets))
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mkt, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "get market", err))
		return
	}
	if mkt == nil {
		writeAppErr(w, apperr.New(apperr.NotFound, "market not found", nil))
		return
	}
	json200(w, newMarketDTO(*mkt))
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	yes, no := s.manager.GetBook(id)
	json200(w, newBookSnapshotDTO(yes, no))
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseLimit(r, 50, 100)
	trades, err := s.store.ListTradesForUser(r.Context(), id, userID(r), limit)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "list trades", err))
		return
	}
	json200(w, newTradeDTOs(trades))
}

// ── Orders ───────────────────────────────────────────

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	uid := userID(r)

	var reqDTO placeOrderReqDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeAppErr(w, apperr.New(apperr.Validation, "invalid json", nil))
		return
	}
	req := reqDTO.toModel()

	mkt, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "get market", err))
		return
	}
	if mkt == nil {
		writeAppErr(w, apperr.New(apperr.NotFound, "market not found", nil))
		return
	}
	if mkt.Resolved {
		writeAppErr(w, apperr.New(apperr.Conflict, "market is resolved", nil))
		return
	}

	eng := s.manager.GetEngine(marketID)
	if eng == nil {
		writeAppErr(w, apperr.New(apperr.Conflict, "market engine is not running", nil))
		return
	}

	result, err := eng.PlaceOrder(uid, req)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, newPlaceOrderResultDTO(result))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	uid := userID(r)

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "get order", err))
		return
	}
	if order == nil {
		writeAppErr(w, apperr.New(apperr.NotFound, "order not found", nil))
		return
	}

	eng := s.manager.GetEngine(order.MarketID)
	if eng == nil {
		writeAppErr(w, apperr.New(apperr.Conflict, "market engine is not running", nil))
		return
	}
	if err := eng.CancelOrder(orderID, uid); err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "cancelled"})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	uid := userID(r)
	statusFilter := model.OrderStatus(strings.ToUpper(r.URL.Query().Get("status")))

	orders, err := s.store.GetUserOrders(r.Context(), marketID, uid)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "list orders", err))
		return
	}
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if statusFilter != "" && o.Status != statusFilter {
			continue
		}
		out = append(out, o)
	}
	json200(w, newOrderDTOs(out))
}

// ── Withdrawals ──────────────────────────────────────

func (s *Server) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req createWithdrawalReqDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.New(apperr.Validation, "invalid json", nil))
		return
	}
	wr, err := s.withdrawal.Create(r.Context(), userID(r), req.DestAddr, toMinor(req.Amount))
	if err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, newWithdrawalDTO(*wr))
}

func (s *Server) cancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.withdrawal.Cancel(r.Context(), userID(r), id); err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "cancelled"})
}

func (s *Server) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := s.withdrawal.List(r.Context(), userID(r))
	if err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, newWithdrawalDTOs(list))
}

func (s *Server) listDeposits(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	deposits, err := s.store.ListDeposits(r.Context(), userID(r), limit)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "list deposits", err))
		return
	}
	if deposits == nil {
		deposits = []model.ChainDepositRecord{}
	}
	json200(w, deposits)
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketReqDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.New(apperr.Validation, "invalid json", nil))
		return
	}
	if req.Title == "" {
		writeAppErr(w, apperr.New(apperr.Validation, "title is required", nil))
		return
	}
	if req.Deadline.IsZero() || !req.Deadline.After(time.Now()) {
		writeAppErr(w, apperr.New(apperr.Validation, "deadline must be in the future", nil))
		return
	}

	mkt, err := s.store.CreateMarket(r.Context(), req.Title, req.Description, req.Category, req.Deadline)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "create market", err))
		return
	}
	if req.InitialYesPrice > 0 {
		yesPriceBp := priceToBp(req.InitialYesPrice)
		_, _ = s.store.DB.ExecContext(r.Context(),
			`UPDATE markets SET yes_price_bp=$1, no_price_bp=$2 WHERE id=$3`,
			yesPriceBp, 10000-yesPriceBp, mkt.ID)
		mkt.YesPriceBp = yesPriceBp
		mkt.NoPriceBp = 10000 - yesPriceBp
	}

	if err := s.manager.StartEngine(r.Context(), mkt.ID); err != nil {
		s.log.Error("failed to start engine for new market", zap.String("market_id", mkt.ID), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(newMarketDTO(*mkt))
}

func (s *Server) deleteMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mkt, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "get market", err))
		return
	}
	if mkt == nil {
		writeAppErr(w, apperr.New(apperr.NotFound, "market not found", nil))
		return
	}
	count, err := s.store.CountOrdersForMarket(r.Context(), id)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "count orders", err))
		return
	}
	if count > 0 {
		writeAppErr(w, apperr.New(apperr.Conflict, "cannot delete a market with existing orders", map[string]any{"order_count": count}))
		return
	}
	if err := s.store.DeleteMarket(r.Context(), id); err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "delete market", err))
		return
	}
	json200(w, map[string]any{"deleted_market_id": id})
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	var req struct {
		Outcome model.MarketOutcome `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.New(apperr.Validation, "invalid json", nil))
		return
	}
	if req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo {
		writeAppErr(w, apperr.New(apperr.Validation, "outcome must be YES or NO", nil))
		return
	}

	eng := s.manager.GetEngine(marketID)
	if eng == nil {
		writeAppErr(w, apperr.New(apperr.NotFound, "market engine not running", nil))
		return
	}
	if err := eng.ResolveMarket(req.Outcome); err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "resolved", "outcome": string(req.Outcome)})
}

func (s *Server) adminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	list, err := s.store.ListAllWithdrawals(r.Context(), status)
	if err != nil {
		writeAppErr(w, apperr.Wrap(apperr.StorageUnavailable, "list withdrawals", err))
		return
	}
	json200(w, newWithdrawalDTOs(list))
}

func (s *Server) adminMarkProcessing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.withdrawal.MarkProcessing(r.Context(), id); err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "processing"})
}

func (s *Server) adminMarkCompleted(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		ChainTxHash string `json:"chain_tx_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, apperr.New(apperr.Validation, "invalid json", nil))
		return
	}
	if err := s.withdrawal.MarkCompleted(r.Context(), id, req.ChainTxHash); err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "completed"})
}

func (s *Server) adminMarkFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.withdrawal.MarkFailed(r.Context(), id); err != nil {
		writeAppErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "failed"})
}

// ── Helpers ──────────────────────────────────────────

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeAppErr translates any error into the stable {code, message, details}
// envelope. A non-*apperr.Error reaching here is itself a bug, so it is
// classified as Invariant and never leaks its underlying text to the
// caller — matching the "generic please try again" policy of spec §7.
func writeAppErr(w http.ResponseWriter, err error) {
	e, ok := apperr.Of(err)
	if !ok {
		e = apperr.New(apperr.Invariant, "an internal error occurred, please try again", nil)
	}
	msg := e.Message
	if e.Kind == apperr.Invariant {
		msg = "an internal error occurred, please try again"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(e.Kind))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    e.Kind,
			"message": msg,
			"details": e.Details,
		},
	})
}

func parseLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
