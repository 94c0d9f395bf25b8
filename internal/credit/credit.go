// Package credit validates account-based payment against a customer's
// credit line.
package credit

import (
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
	"cajapos/terminal/internal/fault"
)

// CheckCapacity fails when charging amount to the customer's account would
// push the balance past the credit limit. Walk-in customers are always
// rejected for this method.
func CheckCapacity(customer domain.Customer, amount decimal.Decimal) error {
	if customer.IsWalkIn() {
		return fault.Preconditionf(fault.CodeWalkInAccount, "walk-in customers cannot pay on account")
	}
	projected := customer.CurrentBalance.Add(amount)
	if projected.GreaterThan(customer.CreditLimit) {
		available := customer.CreditLimit.Sub(customer.CurrentBalance)
		return fault.Preconditionf(fault.CodeCreditLimitExceeded,
			"credit limit exceeded for %s: requested %s, available %s",
			customer.Name, amount.String(), available.String())
	}
	return nil
}

// AccountExposure sums account allocations per customer. Aggregating before
// checking matters: two allocations that individually fit under the limit can
// jointly exceed it.
func AccountExposure(allocations []domain.PaymentAllocation) map[string]decimal.Decimal {
	exposure := make(map[string]decimal.Decimal)
	for _, alloc := range allocations {
		if alloc.Method != domain.MethodAccount || alloc.Account == nil {
			continue
		}
		exposure[alloc.Account.CustomerID] = exposure[alloc.Account.CustomerID].Add(alloc.Amount)
	}
	return exposure
}
