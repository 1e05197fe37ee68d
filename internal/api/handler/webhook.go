package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/observability"
	"github.com/nivapay/settlement/internal/service"
	"github.com/nivapay/settlement/internal/signature"
)

const maxCallbackBody = 1 << 20 // 1 MiB

// WebhookHandler receives provider callbacks. Signature verification
// is per route: each provider signs the exact raw body with its own
// shared secret. Responses are plain text because the providers only
// look at the status code.
type WebhookHandler struct {
	dispatcher      *service.PaymentDispatcher
	invoiceVerifier *signature.Verifier
	linkVerifier    *signature.Verifier
}

func NewWebhookHandler(dispatcher *service.PaymentDispatcher, invoiceVerifier, linkVerifier *signature.Verifier) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:      dispatcher,
		invoiceVerifier: invoiceVerifier,
		linkVerifier:    linkVerifier,
	}
}

// Invoice handles crypto invoice callbacks.
func (h *WebhookHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "invoice", h.invoiceVerifier, h.dispatcher.HandleInvoiceCallback)
}

// PaymentLink handles QR payment link callbacks.
func (h *WebhookHandler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "payment-link", h.linkVerifier, h.dispatcher.HandleLinkCallback)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, route string, verifier *signature.Verifier, process func(ctx context.Context, raw []byte) (*models.Deposit, error)) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		respondPlain(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !verifier.Verify(raw, r.Header.Get("HMAC")) {
		observability.IncrementSignatureFailure(route)
		zap.L().Warn("webhook rejected",
			zap.String("route", route),
			zap.String("remote", r.RemoteAddr),
			zap.Error(models.ErrInvalidSignature))
		respondPlain(w, http.StatusBadRequest, models.ErrInvalidSignature.Error())
		return
	}

	dep, err := process(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrNotFound):
			respondPlain(w, http.StatusBadRequest, "rejected")
		default:
			zap.L().Error("webhook processing failed",
				zap.String("route", route), zap.Error(err))
			respondPlain(w, http.StatusInternalServerError, "error")
		}
		return
	}

	zap.L().Info("webhook accepted",
		zap.String("route", route),
		zap.String("order_id", dep.OrderID),
		zap.String("status", dep.Status))
	respondPlain(w, http.StatusOK, "ok")
}

func respondPlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
