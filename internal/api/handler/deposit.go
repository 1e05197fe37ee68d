package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nivapay/settlement/internal/api/middleware"
	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/service"
)

type DepositHandler struct {
	dispatcher *service.PaymentDispatcher
	deposits   *service.DepositService
}

func NewDepositHandler(dispatcher *service.PaymentDispatcher, deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{dispatcher: dispatcher, deposits: deposits}
}

type depositResponse struct {
	OrderID         string  `json:"order_id"`
	OwnerID         string  `json:"owner_id"`
	AmountMicros    int64   `json:"amount_micros"`
	Status          string  `json:"status"`
	PaymentMethodID string  `json:"payment_method_id"`
	CheckoutURL     string  `json:"checkout_url,omitempty"`
	CreatedAt       string  `json:"created_at"`
	AcceptedBy      *string `json:"accepted_by,omitempty"`
}

func depositToResponse(dep *models.Deposit, checkoutURL string) depositResponse {
	return depositResponse{
		OrderID:         dep.OrderID,
		OwnerID:         dep.OwnerID.String(),
		AmountMicros:    dep.AmountMicros,
		Status:          dep.Status,
		PaymentMethodID: dep.PaymentMethodID,
		CheckoutURL:     checkoutURL,
		CreatedAt:       dep.CreatedAt.Format(time.RFC3339),
		AcceptedBy:      dep.AcceptedBy,
	}
}

// Create starts a deposit. Admins may deposit on behalf of another
// owner; everyone else deposits into their own wallet.
func (h *DepositHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}

	var req struct {
		OwnerID         string `json:"owner_id"`
		VoucherID       string `json:"voucher_id"`
		PackageID       string `json:"package_id"`
		AmountMicros    int64  `json:"amount_micros"`
		PaymentMethodID string `json:"payment_method_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	ownerID := actorID
	if req.OwnerID != "" {
		parsed, err := uuid.Parse(req.OwnerID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid owner_id")
			return
		}
		if parsed != actorID && !isAdmin {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "cannot deposit for another owner")
			return
		}
		ownerID = parsed
	}

	params := service.InitiateDepositParams{
		OwnerID:         ownerID,
		AmountMicros:    req.AmountMicros,
		PaymentMethodID: req.PaymentMethodID,
		ActorID:         actorID,
		ActorRole:       middleware.UserRoleFromContext(r.Context()),
	}
	if req.VoucherID != "" {
		id, err := uuid.Parse(req.VoucherID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid voucher_id")
			return
		}
		params.VoucherID = &id
	}
	if req.PackageID != "" {
		id, err := uuid.Parse(req.PackageID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid package_id")
			return
		}
		params.PackageID = &id
	}

	intent, err := h.dispatcher.Initiate(r.Context(), params)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, depositToResponse(intent.Deposit, intent.CheckoutURL))
}

// Get returns a deposit by order id. Owners see their own deposits,
// admins see all.
func (h *DepositHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}

	orderID := chi.URLParam(r, "orderID")
	dep, err := h.deposits.GetByOrderID(r.Context(), orderID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	if dep.OwnerID != actorID && !isAdmin {
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "resource not found")
		return
	}
	RespondJSON(w, http.StatusOK, depositToResponse(dep, ""))
}
