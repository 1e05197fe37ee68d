package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/testutil/dblock"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

// setupTestDB connects to the local Postgres instance, ensures the schema,
// and truncates all tables. Tests are skipped when DATABASE_URL is unset.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set; skipping repository integration tests")
	}

	db, err := pgxpool.New(context.Background(), connString)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))
	ensureSchema(t, db)

	_, err = db.Exec(ctx, `TRUNCATE TABLE transactions, deposits, vouchers, packages, wallets, idempotency_keys CASCADE`)
	require.NoError(t, err)

	return NewStore(db)
}

func ensureSchema(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	schema := `
		CREATE TABLE IF NOT EXISTS wallets (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL UNIQUE,
			balance_micros BIGINT NOT NULL DEFAULT 0 CHECK (balance_micros >= 0),
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS vouchers (
			id UUID PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			amount_micros BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS packages (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			amount_micros BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			wallet_id UUID REFERENCES wallets(id) ON DELETE SET NULL,
			amount_micros BIGINT NOT NULL CHECK (amount_micros > 0),
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			reference_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS deposits (
			id UUID PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			owner_id UUID NOT NULL,
			voucher_id UUID REFERENCES vouchers(id) ON DELETE SET NULL,
			package_id UUID REFERENCES packages(id) ON DELETE SET NULL,
			payment_method_id TEXT NOT NULL,
			amount_micros BIGINT NOT NULL CHECK (amount_micros > 0),
			status TEXT NOT NULL,
			accepted_by TEXT,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			idempotency_key TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL DEFAULT TRUE,
			response_status INT,
			response_body BYTEA,
			content_type TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := db.Exec(context.Background(), schema)
	require.NoError(t, err)
}

func createFundedWallet(t *testing.T, store *Store, balanceMicros int64) *models.Wallet {
	t.Helper()

	wallet, err := store.CreateWallet(context.Background(), uuid.New())
	require.NoError(t, err)
	if balanceMicros > 0 {
		_, err = store.PostTransaction(context.Background(), wallet.ID, balanceMicros, domain.TxTypeCharge, nil)
		require.NoError(t, err)
		wallet.BalanceMicros = balanceMicros
	}
	return wallet
}

func TestPostTransactionPayScenario(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// Balance 100.00; PAY 30.00 -> 70.00; PAY 100.00 -> insufficient, still 70.00.
	wallet := createFundedWallet(t, store, 100_000_000)

	tx, err := store.PostTransaction(ctx, wallet.ID, 30_000_000, domain.TxTypePay, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000_000), got.BalanceMicros)

	_, err = store.PostTransaction(ctx, wallet.ID, 100_000_000, domain.TxTypePay, nil)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	got, err = store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000_000), got.BalanceMicros)

	// The failed PAY must leave no partial write.
	txs, err := store.ListTransactions(ctx, models.TransactionFilter{WalletID: &wallet.ID, Type: domain.TxTypePay}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestPostTransactionRefundAlwaysIncrements(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 0)

	_, err := store.PostTransaction(ctx, wallet.ID, 5_000_000, domain.TxTypeRefund, nil)
	require.NoError(t, err)

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), got.BalanceMicros)
}

func TestPostTransactionRejectsUnknownWallet(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.PostTransaction(context.Background(), uuid.New(), 1_000_000, domain.TxTypeCharge, nil)
	require.ErrorIs(t, err, models.ErrWalletNotFound)
}

func TestConcurrentPaysNeverOverspend(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 100_000_000)

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.PostTransaction(ctx, wallet.ID, 30_000_000, domain.TxTypePay, nil)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, models.ErrInsufficientFunds)
		}
	}
	// 100.00 funds 3 spends of 30.00 at most.
	assert.Equal(t, 3, succeeded)

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), got.BalanceMicros)
}

func newPendingDeposit(ownerID uuid.UUID, orderID string, amountMicros int64) *models.Deposit {
	return &models.Deposit{
		ID:              uuid.New(),
		OrderID:         orderID,
		OwnerID:         ownerID,
		PaymentMethodID: domain.MethodCryptoInvoice,
		AmountMicros:    amountMicros,
		Status:          domain.DepositStatusPending,
		CreatedBy:       ownerID,
	}
}

func TestSettleDepositIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 0)
	dep := newPendingDeposit(wallet.OwnerID, "abc123", 50_000_000)
	require.NoError(t, store.CreateDeposit(ctx, dep))

	first, err := store.SettleDeposit(ctx, "abc123", domain.DepositStatusCompleted, "provider")
	require.NoError(t, err)
	assert.True(t, first.Applied)
	require.NotNil(t, first.Transaction)

	second, err := store.SettleDeposit(ctx, "abc123", domain.DepositStatusCompleted, "provider")
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Nil(t, second.Transaction)
	assert.Equal(t, domain.DepositStatusCompleted, second.Deposit.Status)

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), got.BalanceMicros)

	txs, err := store.ListTransactions(ctx, models.TransactionFilter{WalletID: &wallet.ID, Type: domain.TxTypeCharge}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSettleDepositConcurrentCallbacks(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 0)
	dep := newPendingDeposit(wallet.OwnerID, "race-1", 50_000_000)
	require.NoError(t, store.CreateDeposit(ctx, dep))

	type result struct {
		applied bool
		err     error
	}
	var wg sync.WaitGroup
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := store.SettleDeposit(ctx, "race-1", domain.DepositStatusCompleted, "provider")
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{applied: out.Applied}
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for r := range results {
		require.NoError(t, r.err)
		if r.applied {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one callback wins")

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), got.BalanceMicros)
}

func TestSettleDepositFailsDurablyWithoutWallet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	ownerWithoutWallet := uuid.New()
	dep := newPendingDeposit(ownerWithoutWallet, "orphan-1", 10_000_000)
	require.NoError(t, store.CreateDeposit(ctx, dep))

	out, err := store.SettleDeposit(ctx, "orphan-1", domain.DepositStatusCompleted, "provider")
	require.NoError(t, err)
	assert.True(t, out.WalletMissing)
	assert.False(t, out.Applied)
	assert.Equal(t, domain.DepositStatusFailed, out.Deposit.Status)

	stored, err := store.GetDepositByOrderID(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusFailed, stored.Status)
}

func TestSettleDepositFailedOutcome(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 0)
	dep := newPendingDeposit(wallet.OwnerID, "exp-1", 10_000_000)
	require.NoError(t, store.CreateDeposit(ctx, dep))

	out, err := store.SettleDeposit(ctx, "exp-1", domain.DepositStatusFailed, domain.ActorSystemExpiry)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Nil(t, out.Transaction)

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.BalanceMicros)
}

func TestCreateDepositDuplicateOrderID(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	ownerID := uuid.New()
	require.NoError(t, store.CreateDeposit(ctx, newPendingDeposit(ownerID, "dup-1", 1_000_000)))

	err := store.CreateDeposit(ctx, newPendingDeposit(ownerID, "dup-1", 1_000_000))
	require.ErrorIs(t, err, ErrUniqueViolation)
}

func TestCreateSettledDepositPostsChargeAtomically(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 0)
	dep := newPendingDeposit(wallet.OwnerID, "gift-1", 25_000_000)
	dep.Status = domain.DepositStatusCompleted
	dep.PaymentMethodID = domain.MethodInternalCredit

	charge, err := store.CreateSettledDeposit(ctx, dep)
	require.NoError(t, err)
	require.NotNil(t, charge)
	assert.Equal(t, domain.TxTypeCharge, charge.Type)

	got, err := store.GetWalletByOwner(ctx, wallet.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), got.BalanceMicros)
}

func TestListTransactionsOrderingAndFilters(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 100_000_000)
	_, err := store.PostTransaction(ctx, wallet.ID, 10_000_000, domain.TxTypePay, nil)
	require.NoError(t, err)
	_, err = store.PostTransaction(ctx, wallet.ID, 20_000_000, domain.TxTypeRefund, nil)
	require.NoError(t, err)

	all, err := store.ListTransactions(ctx, models.TransactionFilter{WalletID: &wallet.ID}, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].CreatedAt.Before(all[i].CreatedAt), "newest first")
	}

	pays, err := store.ListTransactions(ctx, models.TransactionFilter{WalletID: &wallet.ID, Type: domain.TxTypePay}, 10, 0)
	require.NoError(t, err)
	require.Len(t, pays, 1)
	assert.Equal(t, int64(10_000_000), pays[0].AmountMicros)
}

func TestLedgerDriftDetection(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	wallet := createFundedWallet(t, store, 40_000_000)

	drift, err := store.ListLedgerDrift(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, drift)

	// Corrupt the balance outside the ledger path to prove detection.
	_, err = store.Queries().db.Exec(ctx, `UPDATE wallets SET balance_micros = balance_micros + 1 WHERE id = $1`, wallet.ID)
	require.NoError(t, err)

	drift, err = store.ListLedgerDrift(ctx, 10)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, wallet.ID, drift[0].WalletID)
	assert.Equal(t, drift[0].LedgerMicros+1, drift[0].BalanceMicros)
}

func TestVoucherCodeExists(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	v := &models.Voucher{ID: uuid.New(), Code: "AB12CD34", Title: "starter", AmountMicros: 10_000_000, IsActive: true}
	require.NoError(t, store.CreateVoucher(ctx, v))

	exists, err := store.VoucherCodeExists(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.VoucherCodeExists(ctx, "ZZ99ZZ99")
	require.NoError(t, err)
	assert.False(t, exists)
}
