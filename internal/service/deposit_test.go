package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
)

func newDepositService(store *fakeStore) (*DepositService, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return NewDepositService(store, store, store, notifier), notifier
}

func TestCreateDeposit(t *testing.T) {
	store := newFakeStore()
	svc, _ := newDepositService(store)
	owner := uuid.New()

	dep, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         owner,
		AmountMicros:    5_000_000,
		PaymentMethodID: domain.MethodCryptoInvoice,
		CreatedBy:       owner,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusPending, dep.Status)
	assert.Len(t, dep.OrderID, 16)
	assert.Equal(t, int64(5_000_000), dep.AmountMicros)
}

func TestCreateDepositPackagePriceWins(t *testing.T) {
	store := newFakeStore()
	svc, _ := newDepositService(store)
	pkg := &models.Package{ID: uuid.New(), Title: "starter", AmountMicros: 10_000_000}
	store.packages[pkg.ID] = pkg

	dep, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         uuid.New(),
		PackageID:       &pkg.ID,
		AmountMicros:    1, // client-supplied amount must be ignored
		PaymentMethodID: domain.MethodQRInvoice,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), dep.AmountMicros)
}

func TestCreateDepositValidation(t *testing.T) {
	store := newFakeStore()
	svc, _ := newDepositService(store)

	_, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         uuid.Nil,
		AmountMicros:    100,
		PaymentMethodID: domain.MethodCryptoInvoice,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         uuid.New(),
		AmountMicros:    0,
		PaymentMethodID: domain.MethodCryptoInvoice,
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateDepositRetriesOrderIDCollisions(t *testing.T) {
	store := newFakeStore()
	store.collideNext = 3
	svc, _ := newDepositService(store)

	dep, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         uuid.New(),
		AmountMicros:    1_000_000,
		PaymentMethodID: domain.MethodCryptoInvoice,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, dep.OrderID)
}

func TestCreateDepositCollisionExhaustion(t *testing.T) {
	store := newFakeStore()
	store.alwaysCollide = true
	svc, _ := newDepositService(store)

	_, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         uuid.New(),
		AmountMicros:    1_000_000,
		PaymentMethodID: domain.MethodCryptoInvoice,
	})
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestSettleCompletedCreditsOnce(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newDepositService(store)
	owner := uuid.New()
	_, err := store.CreateWallet(context.Background(), owner)
	require.NoError(t, err)

	dep, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         owner,
		AmountMicros:    2_500_000,
		PaymentMethodID: domain.MethodCryptoInvoice,
	})
	require.NoError(t, err)

	settled, err := svc.Settle(context.Background(), dep.OrderID, domain.DepositStatusCompleted, "provider:t1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusCompleted, settled.Status)

	// Replay: the flipped outcome must not take either.
	for _, outcome := range []string{domain.DepositStatusCompleted, domain.DepositStatusFailed} {
		again, err := svc.Settle(context.Background(), dep.OrderID, outcome, "provider:t2")
		require.NoError(t, err)
		assert.Equal(t, domain.DepositStatusCompleted, again.Status)
	}

	wallet, err := store.GetWalletByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), wallet.BalanceMicros)
	assert.Equal(t, 1, notifier.count())
}

func TestSettleWithoutWalletFailsDurably(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newDepositService(store)

	dep, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID:         uuid.New(), // no wallet provisioned
		AmountMicros:    1_000_000,
		PaymentMethodID: domain.MethodQRInvoice,
	})
	require.NoError(t, err)

	settled, err := svc.Settle(context.Background(), dep.OrderID, domain.DepositStatusCompleted, "provider:t1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusFailed, settled.Status)
	assert.Zero(t, notifier.count())
}

func TestSettleUnknownOrder(t *testing.T) {
	store := newFakeStore()
	svc, _ := newDepositService(store)

	_, err := svc.Settle(context.Background(), "missing0000order", domain.DepositStatusCompleted, "provider:t1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGrantCreditSettlesInline(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newDepositService(store)
	owner := uuid.New()
	_, err := store.CreateWallet(context.Background(), owner)
	require.NoError(t, err)

	dep, err := svc.GrantCredit(context.Background(), CreateDepositParams{
		OwnerID:         owner,
		AmountMicros:    7_000_000,
		PaymentMethodID: domain.MethodInternalCredit,
		CreatedBy:       uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusCompleted, dep.Status)

	wallet, err := store.GetWalletByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(7_000_000), wallet.BalanceMicros)
	assert.Equal(t, 1, notifier.count())
}

func TestExpireStaleFailsOnlyOldPending(t *testing.T) {
	store := newFakeStore()
	svc, _ := newDepositService(store)
	owner := uuid.New()
	_, err := store.CreateWallet(context.Background(), owner)
	require.NoError(t, err)

	stale, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID: owner, AmountMicros: 1_000_000, PaymentMethodID: domain.MethodCryptoInvoice,
	})
	require.NoError(t, err)
	store.deposits[stale.OrderID].CreatedAt = time.Now().Add(-2 * time.Hour)

	fresh, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID: owner, AmountMicros: 1_000_000, PaymentMethodID: domain.MethodCryptoInvoice,
	})
	require.NoError(t, err)

	expired, err := svc.ExpireStale(context.Background(), time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := svc.GetByOrderID(context.Background(), stale.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusFailed, got.Status)

	got, err = svc.GetByOrderID(context.Background(), fresh.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusPending, got.Status)
}

func TestExpiredThenCallbackStaysFailed(t *testing.T) {
	store := newFakeStore()
	svc, _ := newDepositService(store)
	owner := uuid.New()
	_, err := store.CreateWallet(context.Background(), owner)
	require.NoError(t, err)

	dep, err := svc.Create(context.Background(), CreateDepositParams{
		OwnerID: owner, AmountMicros: 3_000_000, PaymentMethodID: domain.MethodCryptoInvoice,
	})
	require.NoError(t, err)
	store.deposits[dep.OrderID].CreatedAt = time.Now().Add(-2 * time.Hour)

	_, err = svc.ExpireStale(context.Background(), time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)

	// The late success callback must not resurrect the deposit.
	got, err := svc.Settle(context.Background(), dep.OrderID, domain.DepositStatusCompleted, "provider:late")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusFailed, got.Status)

	wallet, err := store.GetWalletByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Zero(t, wallet.BalanceMicros)
}
