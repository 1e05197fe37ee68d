package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockCryptoGateway simulates the crypto invoice provider for local
// runs and tests. It fails a configurable fraction of calls.
type MockCryptoGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
}

func NewMockCryptoGateway() *MockCryptoGateway {
	return &MockCryptoGateway{FailureRate: 0}
}

func (g *MockCryptoGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gateway call canceled: %w", err)
	}
	if rand.Float64() < g.FailureRate {
		return nil, fmt.Errorf("gateway temporarily unavailable")
	}
	track := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	return &Invoice{
		TrackID:     track,
		CheckoutURL: "https://pay.example.test/invoice/" + track,
		ExpiresAt:   time.Now().Add(time.Duration(req.LifetimeMinutes) * time.Minute),
	}, nil
}

func (g *MockCryptoGateway) GetInvoiceStatus(ctx context.Context, trackID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("gateway call canceled: %w", err)
	}
	return "waiting", nil
}

// MockLinkGateway simulates the QR payment link provider.
type MockLinkGateway struct {
	FailureRate float64
}

func NewMockLinkGateway() *MockLinkGateway {
	return &MockLinkGateway{FailureRate: 0}
}

func (g *MockLinkGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*PaymentLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gateway call canceled: %w", err)
	}
	if rand.Float64() < g.FailureRate {
		return nil, fmt.Errorf("gateway temporarily unavailable")
	}
	ref := fmt.Sprintf("MOCK-%012d", req.OrderCode)
	return &PaymentLink{
		Reference:   ref,
		CheckoutURL: fmt.Sprintf("https://qr.example.test/pay/%d", req.OrderCode),
	}, nil
}
