package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nivapay/settlement/internal/domain"
	"github.com/nivapay/settlement/internal/models"
	"github.com/nivapay/settlement/internal/repository"
)

// fakeStore is an in-memory stand-in for repository.Store with the
// same locking-free observable semantics: balance checks and deposit
// transitions are atomic under a single mutex.
type fakeStore struct {
	mu sync.Mutex

	walletsByID    map[uuid.UUID]*models.Wallet
	walletsByOwner map[uuid.UUID]*models.Wallet
	deposits       map[string]*models.Deposit
	transactions   []models.Transaction
	vouchers       map[uuid.UUID]*models.Voucher
	voucherCodes   map[string]bool
	packages       map[uuid.UUID]*models.Package

	// alwaysCollide makes every deposit insert report a duplicate
	// order id, for exercising bounded retries.
	alwaysCollide bool
	// collideNext fails the next N deposit inserts before succeeding.
	collideNext int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		walletsByID:    make(map[uuid.UUID]*models.Wallet),
		walletsByOwner: make(map[uuid.UUID]*models.Wallet),
		deposits:       make(map[string]*models.Deposit),
		vouchers:       make(map[uuid.UUID]*models.Voucher),
		voucherCodes:   make(map[string]bool),
		packages:       make(map[uuid.UUID]*models.Package),
	}
}

func (f *fakeStore) CreateWallet(_ context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &models.Wallet{ID: uuid.New(), OwnerID: ownerID, CreatedAt: time.Now()}
	f.walletsByID[w.ID] = w
	f.walletsByOwner[ownerID] = w
	return w, nil
}

func (f *fakeStore) GetWalletByOwner(_ context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.walletsByOwner[ownerID]
	if !ok {
		return nil, models.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeStore) SoftDeleteWallet(_ context.Context, walletID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.walletsByID[walletID]
	if !ok {
		return 0, nil
	}
	delete(f.walletsByID, walletID)
	delete(f.walletsByOwner, w.OwnerID)
	return 1, nil
}

func (f *fakeStore) PostTransaction(_ context.Context, walletID uuid.UUID, amountMicros int64, txType string, referenceID *string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.walletsByID[walletID]
	if !ok {
		return nil, models.ErrWalletNotFound
	}
	return f.postLocked(w, amountMicros, txType, referenceID)
}

func (f *fakeStore) postLocked(w *models.Wallet, amountMicros int64, txType string, referenceID *string) (*models.Transaction, error) {
	if domain.IsSpendType(txType) {
		if w.BalanceMicros < amountMicros {
			return nil, models.ErrInsufficientFunds
		}
		w.BalanceMicros -= amountMicros
	} else {
		w.BalanceMicros += amountMicros
	}
	tx := models.Transaction{
		ID:           uuid.New(),
		WalletID:     w.ID,
		AmountMicros: amountMicros,
		Status:       domain.TxStatusCompleted,
		Type:         txType,
		ReferenceID:  referenceID,
		CreatedAt:    time.Now(),
	}
	f.transactions = append(f.transactions, tx)
	return &tx, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, filter models.TransactionFilter, limit, offset int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.transactions {
		if filter.WalletID != nil && tx.WalletID != *filter.WalletID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int(offset) >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CreateDeposit(_ context.Context, dep *models.Deposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysCollide {
		return repository.ErrUniqueViolation
	}
	if f.collideNext > 0 {
		f.collideNext--
		return repository.ErrUniqueViolation
	}
	if _, exists := f.deposits[dep.OrderID]; exists {
		return repository.ErrUniqueViolation
	}
	dep.CreatedAt = time.Now()
	cp := *dep
	f.deposits[dep.OrderID] = &cp
	return nil
}

func (f *fakeStore) CreateSettledDeposit(_ context.Context, dep *models.Deposit) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysCollide {
		return nil, repository.ErrUniqueViolation
	}
	if _, exists := f.deposits[dep.OrderID]; exists {
		return nil, repository.ErrUniqueViolation
	}
	w, ok := f.walletsByOwner[dep.OwnerID]
	if !ok {
		return nil, models.ErrWalletNotFound
	}
	dep.CreatedAt = time.Now()
	cp := *dep
	f.deposits[dep.OrderID] = &cp
	ref := dep.OrderID
	return f.postLocked(w, dep.AmountMicros, domain.TxTypeCharge, &ref)
}

func (f *fakeStore) GetDepositByOrderID(_ context.Context, orderID string) (*models.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deposits[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *dep
	return &cp, nil
}

func (f *fakeStore) SettleDeposit(_ context.Context, orderID, outcome, acceptedBy string) (*repository.SettleOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deposits[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if domain.IsTerminalDepositStatus(dep.Status) {
		cp := *dep
		return &repository.SettleOutcome{Deposit: &cp}, nil
	}
	out := &repository.SettleOutcome{}
	if outcome == domain.DepositStatusCompleted {
		w, ok := f.walletsByOwner[dep.OwnerID]
		if !ok {
			dep.Status = domain.DepositStatusFailed
			dep.AcceptedBy = &acceptedBy
			out.WalletMissing = true
			cp := *dep
			out.Deposit = &cp
			return out, nil
		}
		ref := orderID
		tx, err := f.postLocked(w, dep.AmountMicros, domain.TxTypeCharge, &ref)
		if err != nil {
			return nil, err
		}
		out.Transaction = tx
	}
	dep.Status = outcome
	dep.AcceptedBy = &acceptedBy
	out.Applied = true
	cp := *dep
	out.Deposit = &cp
	return out, nil
}

func (f *fakeStore) ListExpiredPendingOrderIDs(_ context.Context, olderThan time.Time, limit int32) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for orderID, dep := range f.deposits {
		if dep.Status == domain.DepositStatusPending && dep.CreatedAt.Before(olderThan) {
			out = append(out, orderID)
		}
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CreateVoucher(_ context.Context, v *models.Voucher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vouchers[v.ID] = v
	f.voucherCodes[v.Code] = true
	return nil
}

func (f *fakeStore) GetVoucher(_ context.Context, id uuid.UUID) (*models.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) VoucherCodeExists(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voucherCodes[code], nil
}

func (f *fakeStore) GetPackage(_ context.Context, id uuid.UUID) (*models.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListLedgerDrift(_ context.Context, limit int32) ([]repository.WalletDrift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sums := make(map[uuid.UUID]int64)
	for _, tx := range f.transactions {
		if domain.IsSpendType(tx.Type) {
			sums[tx.WalletID] -= tx.AmountMicros
		} else {
			sums[tx.WalletID] += tx.AmountMicros
		}
	}
	var out []repository.WalletDrift
	for id, w := range f.walletsByID {
		if w.BalanceMicros != sums[id] {
			out = append(out, repository.WalletDrift{
				WalletID:      id,
				BalanceMicros: w.BalanceMicros,
				LedgerMicros:  sums[id],
			})
		}
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// fakeNotifier records credit notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) NotifyCredit(_ context.Context, _ uuid.UUID, _ int64, orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, orderID)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
