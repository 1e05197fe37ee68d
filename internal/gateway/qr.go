package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nivapay/settlement/internal/domain"
)

const qrRequestTimeout = 10 * time.Second

// QRClient talks to the QR payment link provider.
type QRClient struct {
	baseURL  string
	merchant string
	http     *http.Client
}

func NewQRClient(baseURL, merchant string) *QRClient {
	return &QRClient{
		baseURL:  baseURL,
		merchant: merchant,
		http:     &http.Client{Timeout: qrRequestTimeout},
	}
}

type qrLinkRequest struct {
	Merchant    string `json:"merchant"`
	OrderCode   int64  `json:"order_code"`
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url"`
}

type qrLinkResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
	PayURL    string `json:"pay_url"`
}

// CreatePaymentLink requests a hosted QR checkout. The provider keys
// the payment on the numeric order code and echoes our order id back
// in the callback.
func (c *QRClient) CreatePaymentLink(ctx context.Context, req LinkRequest) (*PaymentLink, error) {
	body := qrLinkRequest{
		Merchant:    c.merchant,
		OrderCode:   req.OrderCode,
		OrderID:     req.OrderID,
		Amount:      domain.MicrosToDecimal(req.AmountMicros).String(),
		Description: req.Description,
		CallbackURL: req.CallbackURL,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode link request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/pay-links", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build link request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call qr gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qr gateway returned status %d", resp.StatusCode)
	}
	var out qrLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode link response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("qr gateway rejected link: %s", out.Message)
	}
	return &PaymentLink{Reference: out.Reference, CheckoutURL: out.PayURL}, nil
}
