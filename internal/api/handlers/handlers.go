// Package handlers exposes the ledger over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dvloznov/donation-tracker/internal/api/middleware"
	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// maxNotificationBytes caps provider callback bodies.
const maxNotificationBytes = 1 << 20

// Ledger is the subset of ledger.Service the HTTP layer calls.
type Ledger interface {
	InitiateDonation(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Transaction, error)
	SendDistribution(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, metadata map[string]interface{}) (*domain.Transaction, error)
	HandleProviderNotification(ctx context.Context, providerName string, payload []byte) (*domain.Transaction, error)
	CheckUserTransactionStatus(ctx context.Context, userID, transactionID string) (*domain.Transaction, error)
	GetAllByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)
}

// TransactionsHandler handles donation, distribution and transaction endpoints.
type TransactionsHandler struct {
	ledger Ledger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(ledger Ledger) *TransactionsHandler {
	return &TransactionsHandler{ledger: ledger}
}

// RegisterRoutes mounts the transaction endpoints on r.
func (h *TransactionsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/donations", h.CreateDonation).Methods(http.MethodPost)
	r.HandleFunc("/api/distributions", h.CreateDistribution).Methods(http.MethodPost)
	r.HandleFunc("/api/transactions", h.ListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/api/providers/{provider}/notifications", h.HandleNotification).Methods(http.MethodPost)
}

// CreateDonation handles POST /api/donations
func (h *TransactionsHandler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.ledger.InitiateDonation(r.Context(), userID, req.Amount)
	if err != nil {
		writeFailure(r, w, err, "Failed to initiate donation")
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("transaction_id", tx.ID).
		Str("provider", tx.Provider).
		Str("status", string(tx.Status)).
		Msg("Donation initiated")

	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// CreateDistribution handles POST /api/distributions
func (h *TransactionsHandler) CreateDistribution(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		ToUserID string                 `json:"to_user_id"`
		Amount   decimal.Decimal        `json:"amount"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.ledger.SendDistribution(r.Context(), userID, req.ToUserID, req.Amount, req.Metadata)
	if err != nil {
		writeFailure(r, w, err, "Failed to send distribution")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	txs, err := h.ledger.GetAllByUser(r.Context(), userID)
	if err != nil {
		writeFailure(r, w, err, "Failed to list transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetTransaction handles GET /api/transactions/{id}. Non-final records are refreshed
// from the provider before they are returned.
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	tx, err := h.ledger.CheckUserTransactionStatus(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeFailure(r, w, err, "Failed to check transaction status")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// HandleNotification handles POST /api/providers/{provider}/notifications. The body is
// passed to the provider adapter untouched; authenticity is the adapter's concern.
func (h *TransactionsHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.ledger.HandleProviderNotification(r.Context(), providerName, payload)
	if err != nil {
		writeFailure(r, w, err, "Failed to handle provider notification")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// requireUser returns the caller id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		middleware.WriteAppError(w, apperr.Unauthenticated())
		return "", false
	}
	return userID, true
}

// writeFailure logs err at a level matching its status and writes the mapped response.
func writeFailure(r *http.Request, w http.ResponseWriter, err error, msg string) {
	log := logger.FromContext(r.Context())
	if middleware.StatusFor(err) >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).Msg(msg)
	} else {
		log.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg(msg)
	}
	middleware.WriteAppError(w, err)
}
