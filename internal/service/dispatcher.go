package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/gateway"
	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/ordercode"
)

// DispatcherOptions carries the provider-facing knobs for outbound
// payment creation.
type DispatcherOptions struct {
	Currency              string
	InvoiceLifetimeMin    int
	FeePaidByPayer        bool
	UnderPaidCoverPercent float64
	InvoiceCallbackURL    string
	LinkCallbackURL       string
}

// PaymentDispatcher routes deposit requests to the payment method's
// gateway and turns provider callbacks into settlements.
type PaymentDispatcher struct {
	deposits *DepositService
	crypto   gateway.CryptoInvoicer
	links    gateway.LinkCreator
	opts     DispatcherOptions
}

func NewPaymentDispatcher(deposits *DepositService, crypto gateway.CryptoInvoicer, links gateway.LinkCreator, opts DispatcherOptions) *PaymentDispatcher {
	return &PaymentDispatcher{
		deposits: deposits,
		crypto:   crypto,
		links:    links,
		opts:     opts,
	}
}

type InitiateDepositParams struct {
	OwnerID         uuid.UUID
	VoucherID       *uuid.UUID
	PackageID       *uuid.UUID
	AmountMicros    int64
	PaymentMethodID string
	ActorID         uuid.UUID
	ActorRole       string
}

// DepositIntent is what the client needs to continue the payment.
// Settled is true only for internal credits, which complete inline.
type DepositIntent struct {
	Deposit     *models.Deposit
	CheckoutURL string
	Settled     bool
}

// Initiate validates the payment method up front: an unknown method
// creates no deposit record at all.
func (d *PaymentDispatcher) Initiate(ctx context.Context, p InitiateDepositParams) (*DepositIntent, error) {
	switch p.PaymentMethodID {
	case domain.MethodCryptoInvoice, domain.MethodQRInvoice:
	case domain.MethodInternalCredit:
		if p.ActorRole != domain.RoleAdmin {
			return nil, fmt.Errorf("%w: internal credit requires admin", models.ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidPaymentMethod, p.PaymentMethodID)
	}

	params := CreateDepositParams{
		OwnerID:         p.OwnerID,
		VoucherID:       p.VoucherID,
		PackageID:       p.PackageID,
		AmountMicros:    p.AmountMicros,
		PaymentMethodID: p.PaymentMethodID,
		CreatedBy:       p.ActorID,
	}

	if p.PaymentMethodID == domain.MethodInternalCredit {
		dep, err := d.deposits.GrantCredit(ctx, params)
		if err != nil {
			return nil, err
		}
		return &DepositIntent{Deposit: dep, Settled: true}, nil
	}

	dep, err := d.deposits.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	var checkoutURL string
	switch p.PaymentMethodID {
	case domain.MethodCryptoInvoice:
		checkoutURL, err = d.createInvoice(ctx, dep)
	case domain.MethodQRInvoice:
		checkoutURL, err = d.createPaymentLink(ctx, dep)
	}
	if err != nil {
		// The provider never saw a usable checkout, so the deposit can
		// be failed immediately instead of waiting for expiry.
		if _, settleErr := d.deposits.Settle(ctx, dep.OrderID, domain.DepositStatusFailed, domain.ActorSystemGateway); settleErr != nil {
			zap.L().Error("fail deposit after gateway error",
				zap.String("order_id", dep.OrderID), zap.Error(settleErr))
		}
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	return &DepositIntent{Deposit: dep, CheckoutURL: checkoutURL}, nil
}

func (d *PaymentDispatcher) createInvoice(ctx context.Context, dep *models.Deposit) (string, error) {
	token, err := ordercode.Encode(ordercode.Intent{
		OwnerID:   dep.OwnerID,
		VoucherID: dep.VoucherID,
		PackageID: dep.PackageID,
	})
	if err != nil {
		return "", fmt.Errorf("encode order token: %w", err)
	}
	inv, err := d.crypto.CreateInvoice(ctx, gateway.InvoiceRequest{
		OrderID:               dep.OrderID,
		OrderToken:            token,
		AmountMicros:          dep.AmountMicros,
		Currency:              d.opts.Currency,
		LifetimeMinutes:       d.opts.InvoiceLifetimeMin,
		FeePaidByPayer:        d.opts.FeePaidByPayer,
		UnderPaidCoverPercent: d.opts.UnderPaidCoverPercent,
		CallbackURL:           d.opts.InvoiceCallbackURL,
	})
	if err != nil {
		return "", err
	}
	return inv.CheckoutURL, nil
}

func (d *PaymentDispatcher) createPaymentLink(ctx context.Context, dep *models.Deposit) (string, error) {
	link, err := d.links.CreatePaymentLink(ctx, gateway.LinkRequest{
		OrderID:      dep.OrderID,
		OrderCode:    ordercode.NumericCode(dep.OrderID),
		AmountMicros: dep.AmountMicros,
		CallbackURL:  d.opts.LinkCallbackURL,
	})
	if err != nil {
		return "", err
	}
	return link.CheckoutURL, nil
}

// CallbackPayload is the provider's settlement report. Both providers
// send the same envelope; the invoice provider additionally echoes the
// order token it received at invoice creation.
type CallbackPayload struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OrderID    string          `json:"order_id"`
	TrackID    string          `json:"track_id"`
	Status     string          `json:"status"`
	OrderToken string          `json:"description,omitempty"`
}

func parseCallback(raw []byte) (*CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed callback body", models.ErrValidation)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: callback missing order_id", models.ErrValidation)
	}
	return &p, nil
}

// mapProviderStatus translates provider status strings onto the
// deposit state machine's terminal outcomes.
func mapProviderStatus(status string) (string, error) {
	switch status {
	case "paid", "confirmed", "complete", "success":
		return domain.DepositStatusCompleted, nil
	case "failed", "expired", "canceled":
		return domain.DepositStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown provider status %q", models.ErrValidation, status)
	}
}

// HandleInvoiceCallback settles a crypto invoice deposit. The echoed
// order token must decode cleanly and agree with the stored deposit,
// otherwise the callback is rejected without touching the deposit.
func (d *PaymentDispatcher) HandleInvoiceCallback(ctx context.Context, raw []byte) (*models.Deposit, error) {
	payload, err := parseCallback(raw)
	if err != nil {
		return nil, err
	}
	intent, err := ordercode.Decode(payload.OrderToken)
	if err != nil {
		return nil, fmt.Errorf("%w: bad order token", models.ErrValidation)
	}
	dep, err := d.deposits.GetByOrderID(ctx, payload.OrderID)
	if err != nil {
		return nil, err
	}
	if dep.OwnerID != intent.OwnerID {
		return nil, fmt.Errorf("%w: order token does not match deposit", models.ErrValidation)
	}
	return d.settleFromCallback(ctx, dep, payload)
}

// HandleLinkCallback settles a QR link deposit. The link provider
// carries no token; the order id it echoes is trusted because the
// request signature already proved provenance.
func (d *PaymentDispatcher) HandleLinkCallback(ctx context.Context, raw []byte) (*models.Deposit, error) {
	payload, err := parseCallback(raw)
	if err != nil {
		return nil, err
	}
	dep, err := d.deposits.GetByOrderID(ctx, payload.OrderID)
	if err != nil {
		return nil, err
	}
	return d.settleFromCallback(ctx, dep, payload)
}

func (d *PaymentDispatcher) settleFromCallback(ctx context.Context, dep *models.Deposit, payload *CallbackPayload) (*models.Deposit, error) {
	outcome, err := mapProviderStatus(payload.Status)
	if err != nil {
		return nil, err
	}
	if outcome == domain.DepositStatusCompleted && !payload.Amount.IsZero() {
		if domain.FromDecimal(payload.Amount) != dep.AmountMicros {
			return nil, fmt.Errorf("%w: callback amount disagrees with deposit", models.ErrValidation)
		}
	}
	acceptedBy := domain.ActorSystemGateway
	if payload.TrackID != "" {
		acceptedBy = "provider:" + payload.TrackID
	}
	return d.deposits.Settle(ctx, dep.OrderID, outcome, acceptedBy)
}
