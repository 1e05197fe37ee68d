package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/models"
)

const (
	voucherCodeLength   = 8
	voucherCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	voucherCodeAttempts = 10
)

// VoucherService mints redeemable vouchers with unique short codes.
type VoucherService struct {
	vouchers VoucherStore
}

func NewVoucherService(vouchers VoucherStore) *VoucherService {
	return &VoucherService{vouchers: vouchers}
}

type CreateVoucherParams struct {
	Title        string
	AmountMicros int64
}

func (s *VoucherService) Create(ctx context.Context, p CreateVoucherParams) (*models.Voucher, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	if p.AmountMicros <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}
	v := &models.Voucher{
		ID:           uuid.New(),
		Code:         code,
		Title:        p.Title,
		AmountMicros: p.AmountMicros,
		IsActive:     true,
	}
	if err := s.vouchers.CreateVoucher(ctx, v); err != nil {
		return nil, fmt.Errorf("create voucher: %w", err)
	}
	zap.L().Info("voucher created",
		zap.String("voucher_id", v.ID.String()),
		zap.String("code", v.Code))
	return v, nil
}

func (s *VoucherService) Get(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return s.vouchers.GetVoucher(ctx, id)
}

// generateUniqueCode draws random codes and checks them against the
// store. Attempts are bounded; exhaustion surfaces as ErrDuplicate
// rather than looping forever.
func (s *VoucherService) generateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < voucherCodeAttempts; attempt++ {
		code, err := randomCode(voucherCodeLength)
		if err != nil {
			return "", fmt.Errorf("generate voucher code: %w", err)
		}
		exists, err := s.vouchers.VoucherCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check voucher code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", models.ErrDuplicate
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(voucherCodeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = voucherCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
