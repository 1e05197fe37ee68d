package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "USD") // 10.50 USD
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	micros := FromDecimal(d)
	assert.Equal(t, int64(10_500_000), micros)
}

func TestMicrosToDecimal(t *testing.T) {
	d := MicrosToDecimal(70_000_000)
	assert.Equal(t, "70", d.String())
}

func TestMoney_String(t *testing.T) {
	m := NewMoney(100_000_000, "USD")
	assert.Equal(t, "100.00 USD", m.String())
}

func TestIsSpendType(t *testing.T) {
	assert.True(t, IsSpendType(TxTypePay))
	assert.True(t, IsSpendType(TxTypePayService))
	assert.False(t, IsSpendType(TxTypeCharge))
	assert.False(t, IsSpendType(TxTypeRefund))
}

func TestIsTerminalDepositStatus(t *testing.T) {
	assert.True(t, IsTerminalDepositStatus(DepositStatusCompleted))
	assert.True(t, IsTerminalDepositStatus(DepositStatusFailed))
	assert.False(t, IsTerminalDepositStatus(DepositStatusPending))
}
