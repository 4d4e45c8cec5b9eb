package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

// DefaultMethod is used when a checkout carries no payment instruction.
const DefaultMethod = MethodCash

// WalletInstruction selects how much balance to spend.
type WalletInstruction struct {
	Amount         *decimal.Decimal
	UseFullBalance bool
}

// Instruction is the payment part of a checkout request.
type Instruction struct {
	Method          Method
	Wallet          *WalletInstruction
	SecondaryMethod Method
	SecondaryAmount *decimal.Decimal
}

// Plan is the outcome of splitting a total across wallet and a deferred leg.
type Plan struct {
	PrimaryMethod  Method
	PaymentStatus  orders.PaymentStatus
	WalletAmount   decimal.Decimal
	WalletEntry    *wallet.Entry
	DeferredMethod Method
	DeferredAmount decimal.Decimal
}

// NeedsGateway reports whether the deferred leg goes to the external gateway.
func (p *Plan) NeedsGateway() bool {
	return p.DeferredMethod.ViaGateway() && p.DeferredAmount.IsPositive()
}

// SplitPlan decides the wallet and deferred legs for totalDue and debits the
// wallet through ledger. ledger must be bound to the checkout transaction so
// a later failure discards the debit.
func SplitPlan(ctx context.Context, ledger wallet.Ledger, userID, correlation string, totalDue decimal.Decimal, in *Instruction) (*Plan, error) {
	totalDue = money.Round(totalDue)
	if in == nil {
		in = &Instruction{Method: DefaultMethod}
	}
	if in.Method == "" {
		in.Method = DefaultMethod
	}
	if !in.Method.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidRequest, "unknown payment method %q", in.Method)
	}

	if in.Method != MethodWallet {
		return &Plan{
			PrimaryMethod:  in.Method,
			PaymentStatus:  orders.PaymentPending,
			WalletAmount:   decimal.Zero,
			DeferredMethod: in.Method,
			DeferredAmount: totalDue,
		}, nil
	}

	balance, err := ledger.Balance(ctx, userID)
	if err != nil {
		return nil, apperr.External(apperr.CodeLedgerFailure, err, "read wallet balance")
	}

	// without an explicit amount the wallet pays what it can
	amount := money.Round(money.Min(balance, totalDue))
	explicit := in.Wallet != nil && in.Wallet.Amount != nil
	if explicit {
		amount = money.Round(*in.Wallet.Amount)
		if !amount.IsPositive() {
			return nil, apperr.Validation(apperr.CodeInvalidRequest, "wallet amount must be greater than zero")
		}
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if balance.LessThan(amount) {
		return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInsufficientBalance,
			"insufficient wallet balance: available %s, requested %s", balance.StringFixed(money.Places), amount.StringFixed(money.Places))
	}
	if amount.GreaterThan(totalDue) {
		return nil, apperr.Newf(apperr.KindValidation, apperr.CodeOverpaymentRejected,
			"wallet amount %s exceeds total due %s", amount.StringFixed(money.Places), totalDue.StringFixed(money.Places))
	}

	plan := &Plan{
		PrimaryMethod: MethodWallet,
		WalletAmount:  amount,
	}
	remaining := totalDue.Sub(amount)
	if remaining.IsPositive() {
		if in.SecondaryMethod == "" {
			return nil, apperr.Newf(apperr.KindValidation, apperr.CodeSecondaryMethodRequired,
				"wallet covers %s of %s; a secondary payment method is required",
				amount.StringFixed(money.Places), totalDue.StringFixed(money.Places))
		}
		if !in.SecondaryMethod.Valid() || in.SecondaryMethod == MethodWallet {
			return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidRequest,
				"invalid secondary payment method %q", in.SecondaryMethod)
		}
		if in.SecondaryAmount != nil && money.Round(*in.SecondaryAmount).Sub(remaining).Abs().GreaterThan(money.Tolerance) {
			return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidRequest,
				"secondary amount %s does not match remaining %s",
				in.SecondaryAmount.StringFixed(money.Places), remaining.StringFixed(money.Places))
		}
		plan.DeferredMethod = in.SecondaryMethod
		plan.DeferredAmount = remaining
		plan.PaymentStatus = orders.PaymentPending
	} else {
		plan.DeferredAmount = decimal.Zero
		plan.PaymentStatus = orders.PaymentPaid
	}
	if !amount.IsPositive() {
		// empty wallet: the secondary method carries the whole total
		return plan, nil
	}

	entry, err := ledger.Debit(ctx, userID, amount, wallet.ReasonOrderPayment, correlation)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInsufficientBalance,
				"insufficient wallet balance: available %s, requested %s", balance.StringFixed(money.Places), amount.StringFixed(money.Places))
		}
		return nil, apperr.External(apperr.CodeLedgerFailure, err, "debit wallet")
	}
	plan.WalletEntry = entry
	return plan, nil
}
