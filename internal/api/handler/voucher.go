package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/service"
)

type VoucherHandler struct {
	vouchers *service.VoucherService
}

func NewVoucherHandler(vouchers *service.VoucherService) *VoucherHandler {
	return &VoucherHandler{vouchers: vouchers}
}

type voucherResponse struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Title        string `json:"title"`
	AmountMicros int64  `json:"amount_micros"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at"`
}

func voucherToResponse(v *models.Voucher) voucherResponse {
	return voucherResponse{
		ID:           v.ID.String(),
		Code:         v.Code,
		Title:        v.Title,
		AmountMicros: v.AmountMicros,
		IsActive:     v.IsActive,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
	}
}

// Create mints a voucher. Admin only, enforced at the route level.
func (h *VoucherHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		AmountMicros int64  `json:"amount_micros"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	v, err := h.vouchers.Create(r.Context(), service.CreateVoucherParams{
		Title:        req.Title,
		AmountMicros: req.AmountMicros,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, voucherToResponse(v))
}

func (h *VoucherHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "voucherID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid voucher id")
		return
	}
	v, err := h.vouchers.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, voucherToResponse(v))
}
