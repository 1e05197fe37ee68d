package domain

// Transaction types. PAY and PAY_SERVICE spend from a wallet,
// REFUND and CHARGE always credit it.
const (
	TxTypePay        = "PAY"
	TxTypeRefund     = "REFUND"
	TxTypeCharge     = "CHARGE"
	TxTypePayService = "PAY_SERVICE"
)

const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Deposit statuses. COMPLETED and FAILED are terminal.
const (
	DepositStatusPending   = "PENDING"
	DepositStatusCompleted = "COMPLETED"
	DepositStatusFailed    = "FAILED"
)

// Payment method selectors accepted by the dispatcher.
const (
	MethodCryptoInvoice  = "crypto_invoice"
	MethodQRInvoice      = "qr_invoice"
	MethodInternalCredit = "internal_credit"
)

// Actors recorded on deposits resolved without an operator.
const (
	ActorSystemExpiry  = "system:expiry"
	ActorSystemGateway = "system:gateway"
)

// RoleAdmin gates internal credit grants and voucher minting.
const RoleAdmin = "admin"

// IsSpendType reports whether a transaction type decrements the balance.
func IsSpendType(txType string) bool {
	return txType == TxTypePay || txType == TxTypePayService
}

// IsValidTxType reports whether the type is one of the ledger's four types.
func IsValidTxType(txType string) bool {
	switch txType {
	case TxTypePay, TxTypeRefund, TxTypeCharge, TxTypePayService:
		return true
	default:
		return false
	}
}

// IsTerminalDepositStatus reports whether a deposit status permits no further transition.
func IsTerminalDepositStatus(status string) bool {
	return status == DepositStatusCompleted || status == DepositStatusFailed
}
