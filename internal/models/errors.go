package models

import "errors"

var (
	// ErrValidation marks bad client input. No mutation happens.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing wallet, voucher, package, or deposit.
	ErrNotFound = errors.New("not found")
	// ErrWalletNotFound marks a wallet that could not be resolved for an owner.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientFunds marks a PAY that would drive the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicate marks exhausted unique code generation. This is an
	// operational capacity problem, not a client error.
	ErrDuplicate = errors.New("unique code generation exhausted")
	// ErrInvalidSignature marks a webhook whose HMAC did not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPaymentMethod marks an unknown payment method selector.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrForbidden marks an actor lacking the required role.
	ErrForbidden = errors.New("forbidden")
)
