package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

type fakeLedger struct {
	balance  decimal.Decimal
	debits   []decimal.Decimal
	debitErr error
}

func (l *fakeLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return l.balance, nil
}

func (l *fakeLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	if l.debitErr != nil {
		return nil, l.debitErr
	}
	before := l.balance
	l.balance = l.balance.Sub(amount)
	l.debits = append(l.debits, amount)
	return &wallet.Entry{
		ID: "entry-1", UserID: userID, Type: wallet.EntryDebit, Amount: amount,
		BalanceBefore: before, BalanceAfter: l.balance, Reason: reason, Correlation: correlation,
		CreatedAt: time.Now(),
	}, nil
}

func (l *fakeLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	l.balance = l.balance.Add(amount)
	return &wallet.Entry{ID: "credit-1", Amount: amount}, nil
}

func dptr(s string) *decimal.Decimal {
	d := money.MustParse(s)
	return &d
}

func TestSplitPlan_DefaultsToCash(t *testing.T) {
	plan, err := SplitPlan(context.Background(), &fakeLedger{}, "u1", "g1", money.MustParse("50"), nil)
	require.NoError(t, err)
	assert.Equal(t, MethodCash, plan.PrimaryMethod)
	assert.Equal(t, orders.PaymentPending, plan.PaymentStatus)
	assert.Equal(t, "50.00", plan.DeferredAmount.StringFixed(2))
	assert.False(t, plan.NeedsGateway())
}

func TestSplitPlan_GatewayDefersEverything(t *testing.T) {
	plan, err := SplitPlan(context.Background(), &fakeLedger{}, "u1", "g1", money.MustParse("80"), &Instruction{Method: MethodGateway})
	require.NoError(t, err)
	assert.True(t, plan.NeedsGateway())
	assert.True(t, plan.WalletAmount.IsZero())
	assert.Nil(t, plan.WalletEntry)
}

func TestSplitPlan_WalletCoversTotal(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("150")}
	plan, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{Method: MethodWallet})
	require.NoError(t, err)

	assert.Equal(t, orders.PaymentPaid, plan.PaymentStatus)
	assert.Equal(t, "100.00", plan.WalletAmount.StringFixed(2))
	require.NotNil(t, plan.WalletEntry)
	assert.Equal(t, "g1", plan.WalletEntry.Correlation)
	assert.Equal(t, wallet.ReasonOrderPayment, plan.WalletEntry.Reason)
	assert.Equal(t, "50.00", ledger.balance.StringFixed(2))
}

func TestSplitPlan_PartialWalletNeedsSecondary(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("40")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method: MethodWallet,
		Wallet: &WalletInstruction{UseFullBalance: true},
	})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSecondaryMethodRequired))
	assert.Empty(t, ledger.debits, "no debit when the plan is rejected")
}

func TestSplitPlan_WalletDefaultsToAvailableBalance(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("40")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{Method: MethodWallet})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSecondaryMethodRequired))
	assert.Empty(t, ledger.debits)
	assert.Equal(t, "40.00", ledger.balance.StringFixed(2))
}

func TestSplitPlan_EmptyWalletDefersToSecondary(t *testing.T) {
	ledger := &fakeLedger{balance: decimal.Zero}
	plan, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method:          MethodWallet,
		Wallet:          &WalletInstruction{UseFullBalance: true},
		SecondaryMethod: MethodGateway,
	})
	require.NoError(t, err)
	assert.True(t, plan.WalletAmount.IsZero())
	assert.Nil(t, plan.WalletEntry)
	assert.Equal(t, "100.00", plan.DeferredAmount.StringFixed(2))
	assert.Equal(t, orders.PaymentPending, plan.PaymentStatus)
	assert.Empty(t, ledger.debits)
}

func TestSplitPlan_ExplicitZeroAmountRejected(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("40")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method:          MethodWallet,
		Wallet:          &WalletInstruction{Amount: dptr("0")},
		SecondaryMethod: MethodCash,
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidRequest))
}

func TestSplitPlan_PartialWalletWithGateway(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("40")}
	plan, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method:          MethodWallet,
		Wallet:          &WalletInstruction{UseFullBalance: true},
		SecondaryMethod: MethodGateway,
		SecondaryAmount: dptr("60"),
	})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, plan.PaymentStatus)
	assert.Equal(t, "40.00", plan.WalletAmount.StringFixed(2))
	assert.Equal(t, "60.00", plan.DeferredAmount.StringFixed(2))
	assert.True(t, plan.NeedsGateway())
}

func TestSplitPlan_InsufficientBalanceNamesBalance(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("12.5")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method: MethodWallet,
		Wallet: &WalletInstruction{Amount: dptr("20")},
	})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInsufficientBalance))
	assert.Contains(t, err.Error(), "12.50")
}

func TestSplitPlan_OverpaymentRejected(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("500")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method: MethodWallet,
		Wallet: &WalletInstruction{Amount: dptr("120")},
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeOverpaymentRejected))
}

func TestSplitPlan_SecondaryAmountMismatch(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("40")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{
		Method:          MethodWallet,
		Wallet:          &WalletInstruction{Amount: dptr("40")},
		SecondaryMethod: MethodCard,
		SecondaryAmount: dptr("10"),
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidRequest))
}

func TestSplitPlan_LedgerFailureIsExternal(t *testing.T) {
	ledger := &fakeLedger{balance: money.MustParse("100"), debitErr: errors.New("timeout")}
	_, err := SplitPlan(context.Background(), ledger, "u1", "g1", money.MustParse("100"), &Instruction{Method: MethodWallet})
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeLedgerFailure))
}
