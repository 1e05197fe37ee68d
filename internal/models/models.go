package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a per-owner monetary balance in micros. The balance is only
// ever mutated through a posted Transaction inside the ledger transaction
// boundary. Wallets are soft-deleted; history keeps referencing them.
type Wallet struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	BalanceMicros int64     `json:"balance_micros"`
	IsDeleted     bool      `json:"is_deleted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transaction is an append-only ledger entry. Once COMPLETED it is immutable;
// corrections happen through later compensating transactions.
type Transaction struct {
	ID           uuid.UUID `json:"id"`
	WalletID     uuid.UUID `json:"wallet_id"`
	AmountMicros int64     `json:"amount_micros"`
	Status       string    `json:"status"`
	Type         string    `json:"type"` // PAY, REFUND, CHARGE, PAY_SERVICE
	ReferenceID  *string   `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Deposit tracks a funding request from creation through settlement.
// OrderID is globally unique and is the sole callback dedup key.
type Deposit struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         string     `json:"order_id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	VoucherID       *uuid.UUID `json:"voucher_id,omitempty"`
	PackageID       *uuid.UUID `json:"package_id,omitempty"`
	PaymentMethodID string     `json:"payment_method_id"`
	AmountMicros    int64      `json:"amount_micros"`
	Status          string     `json:"status"`
	AcceptedBy      *string    `json:"accepted_by,omitempty"`
	CreatedBy       uuid.UUID  `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Voucher is a redeemable offer referenced by deposits.
type Voucher struct {
	ID           uuid.UUID `json:"id"`
	Code         string    `json:"code"`
	Title        string    `json:"title"`
	AmountMicros int64     `json:"amount_micros"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Package is a bundled offer that prices a deposit.
type Package struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	AmountMicros int64     `json:"amount_micros"`
	CreatedAt    time.Time `json:"created_at"`
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	WalletID *uuid.UUID
	Status   string
	Type     string
	From     *time.Time
	To       *time.Time
}
