package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
)

// PostTransaction applies a ledger entry to a wallet. Balance check, balance
// mutation, and transaction insert happen inside one database transaction
// holding the wallet row lock, so two concurrent PAYs against the same wallet
// cannot both pass the check.
func (s *Store) PostTransaction(ctx context.Context, walletID uuid.UUID, amountMicros int64, txType string, referenceID *string) (*models.Transaction, error) {
	if amountMicros <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if !domain.IsValidTxType(txType) {
		return nil, fmt.Errorf("%w: unknown transaction type %q", models.ErrValidation, txType)
	}

	tx := &models.Transaction{
		ID:           uuid.New(),
		WalletID:     walletID,
		AmountMicros: amountMicros,
		Status:       domain.TxStatusCompleted,
		Type:         txType,
		ReferenceID:  referenceID,
	}

	err := s.RunInTx(ctx, func(q *Queries) error {
		wallet, err := q.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		return postLocked(ctx, q, wallet, tx)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// postLocked finishes a ledger posting against an already-locked wallet row.
func postLocked(ctx context.Context, q *Queries, wallet *models.Wallet, tx *models.Transaction) error {
	delta := tx.AmountMicros
	if domain.IsSpendType(tx.Type) {
		if wallet.BalanceMicros < tx.AmountMicros {
			return models.ErrInsufficientFunds
		}
		delta = -tx.AmountMicros
	}

	rows, err := q.AdjustWalletBalance(ctx, wallet.ID, delta)
	if err != nil {
		return err
	}
	if rows != 1 {
		return fmt.Errorf("adjust wallet balance affected %d rows", rows)
	}
	return q.CreateTransaction(ctx, tx)
}

// SettleOutcome carries the result of an idempotent settlement attempt.
type SettleOutcome struct {
	Deposit *models.Deposit
	// Applied is false when the deposit was already terminal (a replay) or
	// when the transition itself could not charge a wallet.
	Applied bool
	// Transaction is the CHARGE posted on a first COMPLETED transition.
	Transaction *models.Transaction
	// WalletMissing is set when the deposit had to be failed because its
	// owner has no wallet. The deposit transition is still durable.
	WalletMissing bool
}

// SettleDeposit transitions a deposit to a terminal state exactly once.
// Replays observe the existing terminal record and mutate nothing. On the
// first COMPLETED transition the CHARGE transaction and the deposit status
// update commit together or not at all. If the owner wallet cannot be
// resolved, the deposit is durably marked FAILED instead of staying PENDING.
func (s *Store) SettleDeposit(ctx context.Context, orderID, outcome, acceptedBy string) (*SettleOutcome, error) {
	if outcome != domain.DepositStatusCompleted && outcome != domain.DepositStatusFailed {
		return nil, fmt.Errorf("%w: settle outcome %q", models.ErrValidation, outcome)
	}

	result := &SettleOutcome{}
	err := s.RunInTx(ctx, func(q *Queries) error {
		dep, err := q.GetDepositByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		result.Deposit = dep

		if domain.IsTerminalDepositStatus(dep.Status) {
			return nil
		}

		status := outcome
		if outcome == domain.DepositStatusCompleted {
			wallet, err := q.GetWalletByOwnerForUpdate(ctx, dep.OwnerID)
			switch {
			case err == nil:
				ref := dep.OrderID
				tx := &models.Transaction{
					ID:           uuid.New(),
					WalletID:     wallet.ID,
					AmountMicros: dep.AmountMicros,
					Status:       domain.TxStatusCompleted,
					Type:         domain.TxTypeCharge,
					ReferenceID:  &ref,
				}
				if err := postLocked(ctx, q, wallet, tx); err != nil {
					return err
				}
				result.Transaction = tx
				result.Applied = true
			case errors.Is(err, models.ErrWalletNotFound):
				// A deposit without a resolvable wallet cannot be charged;
				// fail it durably rather than leaving it PENDING forever.
				status = domain.DepositStatusFailed
				result.WalletMissing = true
			default:
				return err
			}
		} else {
			result.Applied = true
		}

		rows, err := q.UpdateDepositStatus(ctx, orderID, status, acceptedBy)
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("update deposit status affected %d rows", rows)
		}
		dep.Status = status
		dep.AcceptedBy = &acceptedBy
		dep.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSettledDeposit persists an internal-credit deposit already in
// COMPLETED state and posts its CHARGE in the same commit. Used by the
// instant grant path, which has no external round trip.
func (s *Store) CreateSettledDeposit(ctx context.Context, dep *models.Deposit) (*models.Transaction, error) {
	var charge *models.Transaction
	err := s.RunInTx(ctx, func(q *Queries) error {
		wallet, err := q.GetWalletByOwnerForUpdate(ctx, dep.OwnerID)
		if err != nil {
			return err
		}
		if err := q.CreateDeposit(ctx, dep); err != nil {
			return err
		}
		ref := dep.OrderID
		charge = &models.Transaction{
			ID:           uuid.New(),
			WalletID:     wallet.ID,
			AmountMicros: dep.AmountMicros,
			Status:       domain.TxStatusCompleted,
			Type:         domain.TxTypeCharge,
			ReferenceID:  &ref,
		}
		return postLocked(ctx, q, wallet, charge)
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

// Pass-through query helpers so services depend on one store value.

func (s *Store) CreateWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	wallet := &models.Wallet{ID: uuid.New(), OwnerID: ownerID}
	if err := s.queries.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Store) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	return s.queries.GetWalletByOwner(ctx, ownerID)
}

func (s *Store) SoftDeleteWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	return s.queries.SoftDeleteWallet(ctx, walletID)
}

func (s *Store) ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int32) ([]models.Transaction, error) {
	return s.queries.ListTransactions(ctx, filter, limit, offset)
}

func (s *Store) CreateDeposit(ctx context.Context, dep *models.Deposit) error {
	return s.queries.CreateDeposit(ctx, dep)
}

func (s *Store) GetDepositByOrderID(ctx context.Context, orderID string) (*models.Deposit, error) {
	return s.queries.GetDepositByOrderID(ctx, orderID)
}

func (s *Store) ListExpiredPendingOrderIDs(ctx context.Context, olderThan time.Time, limit int32) ([]string, error) {
	return s.queries.ListExpiredPendingOrderIDs(ctx, olderThan, limit)
}

func (s *Store) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	return s.queries.CreateVoucher(ctx, v)
}

func (s *Store) GetVoucher(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return s.queries.GetVoucher(ctx, id)
}

func (s *Store) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	return s.queries.VoucherCodeExists(ctx, code)
}

func (s *Store) GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	return s.queries.GetPackage(ctx, id)
}

func (s *Store) ListLedgerDrift(ctx context.Context, limit int32) ([]WalletDrift, error) {
	return s.queries.ListLedgerDrift(ctx, limit)
}
