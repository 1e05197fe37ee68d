package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/service"
)

type WalletHandler struct {
	ledger *service.LedgerService
}

func NewWalletHandler(ledger *service.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

type walletResponse struct {
	WalletID      string `json:"wallet_id"`
	OwnerID       string `json:"owner_id"`
	BalanceMicros int64  `json:"balance_micros"`
	Balance       string `json:"balance"`
}

func walletToResponse(w *models.Wallet) walletResponse {
	return walletResponse{
		WalletID:      w.ID.String(),
		OwnerID:       w.OwnerID.String(),
		BalanceMicros: w.BalanceMicros,
		Balance:       domain.MicrosToDecimal(w.BalanceMicros).String(),
	}
}

// Provision creates a wallet for the authenticated user.
func (h *WalletHandler) Provision(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	wallet, err := h.ledger.ProvisionWallet(r.Context(), actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, walletToResponse(wallet))
}

// Close soft-deletes the caller's wallet once it has been emptied.
func (h *WalletHandler) Close(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	if err := h.ledger.CloseWallet(r.Context(), actorID); err != nil {
		RespondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balance returns the caller's wallet balance.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	wallet, err := h.ledger.GetBalance(r.Context(), actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, walletToResponse(wallet))
}

type transactionResponse struct {
	ID           string  `json:"id"`
	AmountMicros int64   `json:"amount_micros"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	ReferenceID  *string `json:"reference_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// Transactions lists the caller's ledger entries, newest first.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.ParseInt(q.Get("limit"), 10, 32)
	offset, _ := strconv.ParseInt(q.Get("offset"), 10, 32)

	filter := models.TransactionFilter{Type: q.Get("type")}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid from timestamp")
			return
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid to timestamp")
			return
		}
		filter.To = &t
	}

	txs, err := h.ledger.ListTransactions(r.Context(), actorID, filter, int32(limit), int32(offset))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:           tx.ID.String(),
			AmountMicros: tx.AmountMicros,
			Type:         tx.Type,
			Status:       tx.Status,
			ReferenceID:  tx.ReferenceID,
			CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
		})
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}

// Pay spends from the caller's wallet.
func (h *WalletHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}

	var req struct {
		AmountMicros int64   `json:"amount_micros"`
		Type         string  `json:"type"`
		ReferenceID  *string `json:"reference_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = domain.TxTypePay
	}

	tx, err := h.ledger.Spend(r.Context(), actorID, req.AmountMicros, req.Type, req.ReferenceID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, transactionResponse{
		ID:           tx.ID.String(),
		AmountMicros: tx.AmountMicros,
		Type:         tx.Type,
		Status:       tx.Status,
		ReferenceID:  tx.ReferenceID,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	})
}
