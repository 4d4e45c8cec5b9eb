package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})
	v.RegisterStructValidation(paymentStructValidation, PaymentRequest{})

	return v
}

// checkoutStructValidation rejects negative shared charges.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)

	if req.TipAmount.IsNegative() {
		sl.ReportError(req.TipAmount, "tip_amount", "TipAmount", "non_negative", "")
	}
	if req.DeliveryFee.IsNegative() {
		sl.ReportError(req.DeliveryFee, "delivery_fee", "DeliveryFee", "non_negative", "")
	}
}

// paymentStructValidation checks the wallet block against the method.
func paymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PaymentRequest)

	if req.Wallet != nil {
		if req.Method != "wallet" {
			sl.ReportError(req.Wallet, "wallet", "Wallet", "wallet_method_only", req.Method)
		}
		if req.Wallet.Amount != nil && req.Wallet.UseFullBalance {
			sl.ReportError(req.Wallet, "wallet", "Wallet", "amount_or_full_balance", "")
		}
		if req.Wallet.Amount != nil && !req.Wallet.Amount.IsPositive() {
			sl.ReportError(req.Wallet.Amount, "amount", "Amount", "gt_zero", "")
		}
	}
	if req.SecondaryMethod != "" && req.Method != "wallet" {
		sl.ReportError(req.SecondaryMethod, "secondary_method", "SecondaryMethod", "wallet_primary_only", req.Method)
	}
	if req.SecondaryAmount != nil {
		if req.SecondaryMethod == "" {
			sl.ReportError(req.SecondaryAmount, "secondary_amount", "SecondaryAmount", "required_with_secondary_method", "")
		}
		if req.SecondaryAmount.IsNegative() {
			sl.ReportError(req.SecondaryAmount, "secondary_amount", "SecondaryAmount", "non_negative", "")
		}
	}
}
