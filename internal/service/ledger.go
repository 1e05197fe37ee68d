package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// LedgerService exposes wallet balances and the transaction ledger.
// All mutations go through the repository's locked posting path.
type LedgerService struct {
	store LedgerStore
}

func NewLedgerService(store LedgerStore) *LedgerService {
	return &LedgerService{store: store}
}

// ProvisionWallet creates an empty wallet for an owner. Wallets are
// provisioned explicitly, never as a side effect of settlement.
func (s *LedgerService) ProvisionWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", models.ErrValidation)
	}
	w, err := s.store.CreateWallet(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("provision wallet: %w", err)
	}
	zap.L().Info("wallet provisioned",
		zap.String("wallet_id", w.ID.String()),
		zap.String("owner_id", ownerID.String()))
	return w, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", models.ErrValidation)
	}
	return s.store.GetWalletByOwner(ctx, ownerID)
}

// Spend debits the owner's wallet. The balance check and the debit
// happen under the same row lock, so a rejected spend leaves no trace.
func (s *LedgerService) Spend(ctx context.Context, ownerID uuid.UUID, amountMicros int64, txType string, referenceID *string) (*models.Transaction, error) {
	if !domain.IsSpendType(txType) {
		return nil, fmt.Errorf("%w: %q is not a spend type", models.ErrValidation, txType)
	}
	wallet, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.store.PostTransaction(ctx, wallet.ID, amountMicros, txType, referenceID)
}

// Credit increments the owner's wallet outside the deposit flow,
// for refunds and manual corrections.
func (s *LedgerService) Credit(ctx context.Context, ownerID uuid.UUID, amountMicros int64, txType string, referenceID *string) (*models.Transaction, error) {
	if !domain.IsValidTxType(txType) || domain.IsSpendType(txType) {
		return nil, fmt.Errorf("%w: %q is not a credit type", models.ErrValidation, txType)
	}
	wallet, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.store.PostTransaction(ctx, wallet.ID, amountMicros, txType, referenceID)
}

// CloseWallet soft-deletes the owner's wallet. A wallet holding funds
// cannot be closed; the balance has to reach zero first.
func (s *LedgerService) CloseWallet(ctx context.Context, ownerID uuid.UUID) error {
	wallet, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if wallet.BalanceMicros != 0 {
		return fmt.Errorf("%w: wallet balance must be zero to close", models.ErrValidation)
	}
	rows, err := s.store.SoftDeleteWallet(ctx, wallet.ID)
	if err != nil {
		return fmt.Errorf("close wallet: %w", err)
	}
	if rows == 0 {
		return models.ErrWalletNotFound
	}
	zap.L().Info("wallet closed",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("owner_id", ownerID.String()))
	return nil
}

// ListTransactions returns the owner's ledger entries newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, ownerID uuid.UUID, filter models.TransactionFilter, limit, offset int32) ([]models.Transaction, error) {
	wallet, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	filter.WalletID = &wallet.ID
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTransactions(ctx, filter, limit, offset)
}
