package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/domain"
)

const (
	cryptoRequestTimeout = 15 * time.Second
	statusReadAttempts   = 3
)

// CryptoClient talks to the hosted crypto invoice provider.
type CryptoClient struct {
	baseURL     string
	merchantKey string
	http        *http.Client
}

func NewCryptoClient(baseURL, merchantKey string) *CryptoClient {
	return &CryptoClient{
		baseURL:     baseURL,
		merchantKey: merchantKey,
		http:        &http.Client{Timeout: cryptoRequestTimeout},
	}
}

type cryptoInvoiceRequest struct {
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	Lifetime        int     `json:"lifetime"`
	FeePaidByPayer  int     `json:"fee_paid_by_payer"`
	UnderPaidCover  float64 `json:"under_paid_cover"`
	OrderID         string  `json:"order_id"`
	Description     string  `json:"description,omitempty"`
	CallbackURL     string  `json:"callback_url"`
	ReturnURL       string  `json:"return_url,omitempty"`
}

type cryptoInvoiceResponse struct {
	Result    int    `json:"result"`
	Message   string `json:"message"`
	TrackID   string `json:"track_id"`
	PayLink   string `json:"pay_link"`
	ExpiredAt int64  `json:"expired_at"`
}

// CreateInvoice asks the provider for a hosted checkout. The order
// token rides along in the description so callbacks can recover the
// original intent without a server-side lookup.
func (c *CryptoClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	feeFlag := 0
	if req.FeePaidByPayer {
		feeFlag = 1
	}
	body := cryptoInvoiceRequest{
		Amount:         domain.MicrosToDecimal(req.AmountMicros).String(),
		Currency:       req.Currency,
		Lifetime:       req.LifetimeMinutes,
		FeePaidByPayer: feeFlag,
		UnderPaidCover: req.UnderPaidCoverPercent,
		OrderID:        req.OrderID,
		Description:    req.OrderToken,
		CallbackURL:    req.CallbackURL,
	}

	var resp cryptoInvoiceResponse
	if err := c.post(ctx, "/merchants/request", body, &resp); err != nil {
		return nil, err
	}
	if resp.Result != 100 {
		return nil, fmt.Errorf("crypto gateway rejected invoice: %s", resp.Message)
	}
	return &Invoice{
		TrackID:     resp.TrackID,
		CheckoutURL: resp.PayLink,
		ExpiresAt:   time.Unix(resp.ExpiredAt, 0),
	}, nil
}

type cryptoStatusResponse struct {
	Result  int    `json:"result"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GetInvoiceStatus reads the provider-side invoice state. Reads are
// idempotent, so transient failures are retried with a short backoff.
func (c *CryptoClient) GetInvoiceStatus(ctx context.Context, trackID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < statusReadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		var resp cryptoStatusResponse
		err := c.post(ctx, "/merchants/inquiry", map[string]string{"track_id": trackID}, &resp)
		if err != nil {
			lastErr = err
			zap.L().Warn("crypto status read failed",
				zap.String("track_id", trackID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if resp.Result != 100 {
			return "", fmt.Errorf("crypto gateway inquiry: %s", resp.Message)
		}
		return resp.Status, nil
	}
	return "", fmt.Errorf("crypto status read: %w", lastErr)
}

func (c *CryptoClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("merchant", c.merchantKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call crypto gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("crypto gateway returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
