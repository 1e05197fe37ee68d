package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/observability"
	"github.com/nivapay/settlement/internal/ordercode"
	"github.com/nivapay/settlement/internal/repository"
)

// orderIDAttempts bounds how many times deposit creation retries a
// colliding order id before giving up.
const orderIDAttempts = 10

type DepositService struct {
	deposits DepositStore
	packages PackageStore
	vouchers VoucherStore
	notifier Notifier
}

func NewDepositService(deposits DepositStore, packages PackageStore, vouchers VoucherStore, notifier Notifier) *DepositService {
	return &DepositService{
		deposits: deposits,
		packages: packages,
		vouchers: vouchers,
		notifier: notifier,
	}
}

type CreateDepositParams struct {
	OwnerID         uuid.UUID
	VoucherID       *uuid.UUID
	PackageID       *uuid.UUID
	AmountMicros    int64
	PaymentMethodID string
	CreatedBy       uuid.UUID
}

func (p *CreateDepositParams) validate() error {
	if p.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner id is required", models.ErrValidation)
	}
	if p.PackageID == nil && p.AmountMicros <= 0 {
		return fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	return nil
}

// createdBy defaults to the owner when no separate actor is recorded.
func (p *CreateDepositParams) createdBy() uuid.UUID {
	if p.CreatedBy != uuid.Nil {
		return p.CreatedBy
	}
	return p.OwnerID
}

// resolveAmount returns the charge amount, taking it from the package
// when one is referenced so clients cannot understate the price.
func (s *DepositService) resolveAmount(ctx context.Context, p *CreateDepositParams) (int64, error) {
	if p.PackageID != nil {
		pkg, err := s.packages.GetPackage(ctx, *p.PackageID)
		if err != nil {
			return 0, fmt.Errorf("resolve package: %w", err)
		}
		return pkg.AmountMicros, nil
	}
	return p.AmountMicros, nil
}

// Create records a PENDING deposit under a fresh collision-free order
// id. Order id generation is retried a bounded number of times; if the
// space is exhausted the caller gets models.ErrDuplicate.
func (s *DepositService) Create(ctx context.Context, p CreateDepositParams) (*models.Deposit, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	amount, err := s.resolveAmount(ctx, &p)
	if err != nil {
		return nil, err
	}
	if p.VoucherID != nil {
		if _, err := s.vouchers.GetVoucher(ctx, *p.VoucherID); err != nil {
			return nil, fmt.Errorf("resolve voucher: %w", err)
		}
	}

	for attempt := 0; attempt < orderIDAttempts; attempt++ {
		orderID, err := ordercode.NewOrderID()
		if err != nil {
			return nil, fmt.Errorf("generate order id: %w", err)
		}
		dep := &models.Deposit{
			ID:              uuid.New(),
			OrderID:         orderID,
			OwnerID:         p.OwnerID,
			VoucherID:       p.VoucherID,
			PackageID:       p.PackageID,
			PaymentMethodID: p.PaymentMethodID,
			AmountMicros:    amount,
			Status:          domain.DepositStatusPending,
			CreatedBy:       p.createdBy(),
		}
		err = s.deposits.CreateDeposit(ctx, dep)
		if err == nil {
			zap.L().Info("deposit created",
				zap.String("order_id", dep.OrderID),
				zap.String("owner_id", dep.OwnerID.String()),
				zap.Int64("amount_micros", dep.AmountMicros),
				zap.String("method", dep.PaymentMethodID))
			return dep, nil
		}
		if !errors.Is(err, repository.ErrUniqueViolation) {
			return nil, fmt.Errorf("create deposit: %w", err)
		}
		zap.L().Warn("order id collision, retrying",
			zap.String("order_id", dep.OrderID),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: order id space", models.ErrDuplicate)
}

// GrantCredit records an already-settled deposit and posts the matching
// wallet charge in one transaction. Used for internal credits where no
// external money movement happens.
func (s *DepositService) GrantCredit(ctx context.Context, p CreateDepositParams) (*models.Deposit, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	amount, err := s.resolveAmount(ctx, &p)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < orderIDAttempts; attempt++ {
		orderID, err := ordercode.NewOrderID()
		if err != nil {
			return nil, fmt.Errorf("generate order id: %w", err)
		}
		dep := &models.Deposit{
			ID:              uuid.New(),
			OrderID:         orderID,
			OwnerID:         p.OwnerID,
			VoucherID:       p.VoucherID,
			PackageID:       p.PackageID,
			PaymentMethodID: p.PaymentMethodID,
			AmountMicros:    amount,
			Status:          domain.DepositStatusCompleted,
			CreatedBy:       p.createdBy(),
		}
		_, err = s.deposits.CreateSettledDeposit(ctx, dep)
		if err == nil {
			observability.IncrementSettlement("completed")
			s.notifier.NotifyCredit(ctx, dep.OwnerID, dep.AmountMicros, dep.OrderID)
			zap.L().Info("internal credit granted",
				zap.String("order_id", dep.OrderID),
				zap.String("owner_id", dep.OwnerID.String()),
				zap.Int64("amount_micros", dep.AmountMicros),
				zap.String("created_by", dep.CreatedBy.String()))
			return dep, nil
		}
		if !errors.Is(err, repository.ErrUniqueViolation) {
			return nil, fmt.Errorf("grant credit: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: order id space", models.ErrDuplicate)
}

func (s *DepositService) GetByOrderID(ctx context.Context, orderID string) (*models.Deposit, error) {
	return s.deposits.GetDepositByOrderID(ctx, orderID)
}

// Settle drives a deposit to a terminal state. Replays against a
// terminal deposit are no-ops, so callbacks may be delivered any
// number of times in any order.
func (s *DepositService) Settle(ctx context.Context, orderID, outcome, acceptedBy string) (*models.Deposit, error) {
	out, err := s.deposits.SettleDeposit(ctx, orderID, outcome, acceptedBy)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("order_id", orderID),
		zap.String("outcome", outcome),
		zap.String("accepted_by", acceptedBy))

	switch {
	case out.WalletMissing:
		observability.IncrementSettlement("wallet_missing")
		log.Error("deposit failed: owner has no wallet",
			zap.String("owner_id", out.Deposit.OwnerID.String()))
	case !out.Applied:
		observability.IncrementSettlement("replay")
		log.Info("settlement replay ignored",
			zap.String("status", out.Deposit.Status))
	case out.Deposit.Status == domain.DepositStatusCompleted:
		observability.IncrementSettlement("completed")
		s.notifier.NotifyCredit(ctx, out.Deposit.OwnerID, out.Deposit.AmountMicros, orderID)
		log.Info("deposit completed",
			zap.Int64("amount_micros", out.Deposit.AmountMicros))
	default:
		observability.IncrementSettlement("failed")
		log.Info("deposit failed")
	}
	return out.Deposit, nil
}

// ExpireStale fails PENDING deposits older than the cutoff. Each
// deposit goes through the normal settlement path, so a callback
// racing the sweep still resolves to exactly one terminal state.
func (s *DepositService) ExpireStale(ctx context.Context, olderThan time.Time, batch int32) (int, error) {
	orderIDs, err := s.deposits.ListExpiredPendingOrderIDs(ctx, olderThan, batch)
	if err != nil {
		return 0, fmt.Errorf("list expired deposits: %w", err)
	}
	expired := 0
	for _, orderID := range orderIDs {
		if _, err := s.Settle(ctx, orderID, domain.DepositStatusFailed, domain.ActorSystemExpiry); err != nil {
			zap.L().Error("expire deposit", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
