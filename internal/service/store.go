package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/repository"
)

// Narrow views over the repository so services can be unit tested
// against in-memory fakes.

type LedgerStore interface {
	CreateWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	SoftDeleteWallet(ctx context.Context, walletID uuid.UUID) (int64, error)
	PostTransaction(ctx context.Context, walletID uuid.UUID, amountMicros int64, txType string, referenceID *string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int32) ([]models.Transaction, error)
}

type DepositStore interface {
	CreateDeposit(ctx context.Context, dep *models.Deposit) error
	CreateSettledDeposit(ctx context.Context, dep *models.Deposit) (*models.Transaction, error)
	GetDepositByOrderID(ctx context.Context, orderID string) (*models.Deposit, error)
	SettleDeposit(ctx context.Context, orderID, outcome, acceptedBy string) (*repository.SettleOutcome, error)
	ListExpiredPendingOrderIDs(ctx context.Context, olderThan time.Time, limit int32) ([]string, error)
}

type VoucherStore interface {
	CreateVoucher(ctx context.Context, v *models.Voucher) error
	GetVoucher(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	VoucherCodeExists(ctx context.Context, code string) (bool, error)
}

type PackageStore interface {
	GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error)
}

type ReconciliationStore interface {
	ListLedgerDrift(ctx context.Context, limit int32) ([]repository.WalletDrift, error)
}

// Notifier announces settled credits to interested consumers.
// Delivery is best effort and must never fail the settlement.
type Notifier interface {
	NotifyCredit(ctx context.Context, ownerID uuid.UUID, amountMicros int64, orderID string)
}
