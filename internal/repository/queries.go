package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nivapay/settlement/internal/models"
)

// ErrUniqueViolation marks an insert that hit a unique constraint. Callers
// generating random identifiers treat it as a collision and retry.
var ErrUniqueViolation = errors.New("unique constraint violation")

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

// --- wallets ---

func (q *Queries) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	query := `
		INSERT INTO wallets (id, owner_id, balance_micros, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query, wallet.ID, wallet.OwnerID, wallet.BalanceMicros).
		Scan(&wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create wallet: %w", mapError(err))
	}
	return nil
}

const walletColumns = `id, owner_id, balance_micros, is_deleted, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := row.Scan(&w.ID, &w.OwnerID, &w.BalanceMicros, &w.IsDeleted, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return w, nil
}

func (q *Queries) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND is_deleted = FALSE`
	return scanWallet(q.db.QueryRow(ctx, query, ownerID))
}

// GetWalletByOwnerForUpdate locks the wallet row for the rest of the
// transaction. All balance mutation goes through this lock.
func (q *Queries) GetWalletByOwnerForUpdate(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND is_deleted = FALSE FOR UPDATE`
	return scanWallet(q.db.QueryRow(ctx, query, ownerID))
}

func (q *Queries) GetWalletForUpdate(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	return scanWallet(q.db.QueryRow(ctx, query, walletID))
}

// AdjustWalletBalance applies a signed delta to a wallet balance. The row
// must already be locked by the caller; the CHECK constraint on the column
// is the last line of defense against a negative balance.
func (q *Queries) AdjustWalletBalance(ctx context.Context, walletID uuid.UUID, deltaMicros int64) (int64, error) {
	query := `UPDATE wallets SET balance_micros = balance_micros + $1, updated_at = NOW() WHERE id = $2 AND is_deleted = FALSE`
	tag, err := q.db.Exec(ctx, query, deltaMicros, walletID)
	if err != nil {
		return 0, fmt.Errorf("adjust wallet balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) SoftDeleteWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	query := `UPDATE wallets SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`
	tag, err := q.db.Exec(ctx, query, walletID)
	if err != nil {
		return 0, fmt.Errorf("soft delete wallet: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- transactions ---

func (q *Queries) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, wallet_id, amount_micros, status, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query, tx.ID, tx.WalletID, tx.AmountMicros, tx.Status, tx.Type, tx.ReferenceID).
		Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", mapError(err))
	}
	return nil
}

// ListTransactions returns a page of ledger entries, newest first.
func (q *Queries) ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int32) ([]models.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.WalletID != nil {
		add("wallet_id = $%d", *filter.WalletID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	query := `SELECT id, wallet_id, amount_micros, status, type, reference_id, created_at FROM transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.AmountMicros, &t.Status, &t.Type, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- deposits ---

const depositColumns = `id, order_id, owner_id, voucher_id, package_id, payment_method_id,
	amount_micros, status, accepted_by, created_by, created_at, updated_at`

func scanDeposit(row pgx.Row) (*models.Deposit, error) {
	d := &models.Deposit{}
	err := row.Scan(&d.ID, &d.OrderID, &d.OwnerID, &d.VoucherID, &d.PackageID, &d.PaymentMethodID,
		&d.AmountMicros, &d.Status, &d.AcceptedBy, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan deposit: %w", err)
	}
	return d, nil
}

func (q *Queries) CreateDeposit(ctx context.Context, dep *models.Deposit) error {
	query := `
		INSERT INTO deposits (id, order_id, owner_id, voucher_id, package_id, payment_method_id,
			amount_micros, status, accepted_by, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := q.db.QueryRow(ctx, query, dep.ID, dep.OrderID, dep.OwnerID, dep.VoucherID, dep.PackageID,
		dep.PaymentMethodID, dep.AmountMicros, dep.Status, dep.AcceptedBy, dep.CreatedBy).
		Scan(&dep.CreatedAt, &dep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create deposit: %w", mapError(err))
	}
	return nil
}

func (q *Queries) GetDepositByOrderID(ctx context.Context, orderID string) (*models.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE order_id = $1`
	return scanDeposit(q.db.QueryRow(ctx, query, orderID))
}

// GetDepositByOrderIDForUpdate locks the deposit row, serializing racing
// callbacks for the same order id.
func (q *Queries) GetDepositByOrderIDForUpdate(ctx context.Context, orderID string) (*models.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE order_id = $1 FOR UPDATE`
	return scanDeposit(q.db.QueryRow(ctx, query, orderID))
}

func (q *Queries) UpdateDepositStatus(ctx context.Context, orderID, status, acceptedBy string) (int64, error) {
	query := `UPDATE deposits SET status = $1, accepted_by = $2, updated_at = NOW() WHERE order_id = $3`
	tag, err := q.db.Exec(ctx, query, status, acceptedBy, orderID)
	if err != nil {
		return 0, fmt.Errorf("update deposit status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListExpiredPendingOrderIDs returns order ids of deposits still PENDING past
// the cutoff. The expiry sweep settles them through the normal settle path.
func (q *Queries) ListExpiredPendingOrderIDs(ctx context.Context, olderThan time.Time, limit int32) ([]string, error) {
	query := `
		SELECT order_id FROM deposits
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := q.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending deposits: %w", err)
	}
	defer rows.Close()

	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		orderIDs = append(orderIDs, id)
	}
	return orderIDs, rows.Err()
}

// --- vouchers and packages ---

func (q *Queries) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	query := `
		INSERT INTO vouchers (id, code, title, amount_micros, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	err := q.db.QueryRow(ctx, query, v.ID, v.Code, v.Title, v.AmountMicros, v.IsActive).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create voucher: %w", mapError(err))
	}
	return nil
}

func (q *Queries) GetVoucher(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	v := &models.Voucher{}
	query := `SELECT id, code, title, amount_micros, is_active, created_at FROM vouchers WHERE id = $1`
	err := q.db.QueryRow(ctx, query, id).Scan(&v.ID, &v.Code, &v.Title, &v.AmountMicros, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	return v, nil
}

func (q *Queries) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vouchers WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check voucher code: %w", err)
	}
	return exists, nil
}

func (q *Queries) GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	p := &models.Package{}
	query := `SELECT id, title, amount_micros, created_at FROM packages WHERE id = $1`
	err := q.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Title, &p.AmountMicros, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return p, nil
}

// --- reconciliation ---

// WalletDrift reports a wallet whose stored balance diverges from the sum of
// its completed ledger entries.
type WalletDrift struct {
	WalletID      uuid.UUID
	BalanceMicros int64
	LedgerMicros  int64
}

// ListLedgerDrift compares each wallet balance against
// sum(CHARGE+REFUND) - sum(PAY+PAY_SERVICE) over COMPLETED transactions.
func (q *Queries) ListLedgerDrift(ctx context.Context, limit int32) ([]WalletDrift, error) {
	query := `
		SELECT w.id, w.balance_micros, COALESCE(SUM(
			CASE
				WHEN t.type IN ('CHARGE', 'REFUND') THEN t.amount_micros
				WHEN t.type IN ('PAY', 'PAY_SERVICE') THEN -t.amount_micros
				ELSE 0
			END), 0) AS ledger_micros
		FROM wallets w
		LEFT JOIN transactions t ON t.wallet_id = w.id AND t.status = 'COMPLETED'
		GROUP BY w.id, w.balance_micros
		HAVING w.balance_micros <> COALESCE(SUM(
			CASE
				WHEN t.type IN ('CHARGE', 'REFUND') THEN t.amount_micros
				WHEN t.type IN ('PAY', 'PAY_SERVICE') THEN -t.amount_micros
				ELSE 0
			END), 0)
		LIMIT $1
	`
	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger drift: %w", err)
	}
	defer rows.Close()

	var out []WalletDrift
	for rows.Next() {
		var d WalletDrift
		if err := rows.Scan(&d.WalletID, &d.BalanceMicros, &d.LedgerMicros); err != nil {
			return nil, fmt.Errorf("scan ledger drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
