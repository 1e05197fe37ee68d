package gateway

import (
	"context"
	"time"
)

// Invoice is a provider-hosted crypto checkout.
type Invoice struct {
	TrackID     string
	CheckoutURL string
	ExpiresAt   time.Time
}

type InvoiceRequest struct {
	OrderID               string
	OrderToken            string
	AmountMicros          int64
	Currency              string
	LifetimeMinutes       int
	FeePaidByPayer        bool
	UnderPaidCoverPercent float64
	CallbackURL           string
}

// CryptoInvoicer creates hosted crypto invoices. CreateInvoice is not
// idempotent on the provider side and is never retried; status reads
// are safe to retry.
type CryptoInvoicer interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	GetInvoiceStatus(ctx context.Context, trackID string) (string, error)
}

// PaymentLink is a provider-hosted QR checkout page.
type PaymentLink struct {
	Reference   string
	CheckoutURL string
}

type LinkRequest struct {
	OrderID      string
	OrderCode    int64
	AmountMicros int64
	Description  string
	CallbackURL  string
}

type LinkCreator interface {
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*PaymentLink, error)
}
