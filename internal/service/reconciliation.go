package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/observability"
)

// ReconciliationService audits wallet balances against the sum of
// their completed transactions. Drift means a bug or manual tampering;
// it is reported, never silently repaired.
type ReconciliationService struct {
	store ReconciliationStore
}

func NewReconciliationService(store ReconciliationStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run returns the number of drifting wallets found.
func (s *ReconciliationService) Run(ctx context.Context, limit int32) (int, error) {
	drifts, err := s.store.ListLedgerDrift(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list ledger drift: %w", err)
	}
	for _, d := range drifts {
		observability.IncrementLedgerImbalance()
		zap.L().Error("wallet balance drift",
			zap.String("wallet_id", d.WalletID.String()),
			zap.Int64("balance_micros", d.BalanceMicros),
			zap.Int64("ledger_micros", d.LedgerMicros),
			zap.Int64("drift_micros", d.BalanceMicros-d.LedgerMicros))
	}
	return len(drifts), nil
}
