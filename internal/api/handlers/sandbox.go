package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dvloznov/donation-tracker/internal/api/middleware"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/provider/sandbox"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// SandboxHandler lets developers settle sandbox payments and deliver the resulting
// notification through the normal notification path.
type SandboxHandler struct {
	adapter *sandbox.Adapter
	ledger  Ledger
}

// NewSandboxHandler creates a new sandbox handler.
func NewSandboxHandler(adapter *sandbox.Adapter, ledger Ledger) *SandboxHandler {
	return &SandboxHandler{adapter: adapter, ledger: ledger}
}

// RegisterRoutes mounts the sandbox endpoints on r.
func (h *SandboxHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sandbox/transactions/{id}/settle", h.Settle).Methods(http.MethodPost)
}

// Settle handles POST /api/sandbox/transactions/{id}/settle where id is the sandbox
// provider transaction id.
func (h *SandboxHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status        domain.Status   `json:"status"`
		Amount        decimal.Decimal `json:"amount"`
		FailureReason string          `json:"failure_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payload, err := h.adapter.Settle(mux.Vars(r)["id"], req.Status, req.Amount, req.FailureReason)
	if err != nil {
		writeFailure(r, w, err, "Failed to settle sandbox transaction")
		return
	}

	tx, err := h.ledger.HandleProviderNotification(r.Context(), h.adapter.Name(), payload)
	if err != nil {
		writeFailure(r, w, err, "Failed to deliver sandbox notification")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}
