/*
policy.go - Credit rules shared by accrual and conversion

PURPOSE:
  Collects the numbers that govern leave credits in one value so they
  can come from configuration and be handed to the ledger and workflows:

  - AccrualIncrement: credited per earnable code each month (1.25)
  - EarnableCodes:    codes that accrue monthly (SL, VL)
  - ConversionCode:   the only code that can be converted to cash (VL)
  - ConversionMinimum: smallest single conversion (10)
  - ConversionAnnualCap: per employee per calendar year across all
                         non-rejected conversions (10)

  With the minimum equal to the cap, an employee gets at most one
  successful conversion per calendar year.

SEE ALSO:
  - accrual.go: Uses AccrualIncrement and EarnableCodes
  - conversion/workflow.go: Uses the conversion limits
  - config/config.go: Loads these values
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type CreditPolicy struct {
	AccrualIncrement    decimal.Decimal
	EarnableCodes       []LeaveCode
	ConversionCode      LeaveCode
	ConversionMinimum   decimal.Decimal
	ConversionAnnualCap decimal.Decimal
}

// DefaultCreditPolicy returns the standard rules.
func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		AccrualIncrement:    Days("1.25"),
		EarnableCodes:       []LeaveCode{LeaveSL, LeaveVL},
		ConversionCode:      LeaveVL,
		ConversionMinimum:   Days("10"),
		ConversionAnnualCap: Days("10"),
	}
}

// IsEarnable reports whether code accrues monthly.
func (p CreditPolicy) IsEarnable(code LeaveCode) bool {
	for _, c := range p.EarnableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Validate checks the policy is internally consistent.
func (p CreditPolicy) Validate() error {
	if !p.AccrualIncrement.IsPositive() {
		return fmt.Errorf("accrual increment must be positive, got %s", p.AccrualIncrement)
	}
	if len(p.EarnableCodes) == 0 {
		return fmt.Errorf("at least one earnable leave code is required")
	}
	if p.ConversionCode == "" {
		return fmt.Errorf("conversion leave code is required")
	}
	if !p.ConversionMinimum.IsPositive() {
		return fmt.Errorf("conversion minimum must be positive, got %s", p.ConversionMinimum)
	}
	if p.ConversionAnnualCap.LessThan(p.ConversionMinimum) {
		return fmt.Errorf("conversion annual cap %s is below the minimum %s", p.ConversionAnnualCap, p.ConversionMinimum)
	}
	return nil
}
