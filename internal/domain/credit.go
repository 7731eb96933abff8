package domain

import "time"

// CreditBalance is a driver's prepaid ride-credit balance.
type CreditBalance struct {
	DriverID       string
	RidesRemaining int
	RidesUsed      int
	PlanStartsAt   time.Time
	PlanEndsAt     time.Time
}

// Eligible reports whether the balance allows new assignments at now.
func (b CreditBalance) Eligible(now time.Time) bool {
	if b.RidesRemaining <= 0 {
		return false
	}
	if !b.PlanStartsAt.IsZero() && now.Before(b.PlanStartsAt) {
		return false
	}
	if !b.PlanEndsAt.IsZero() && now.After(b.PlanEndsAt) {
		return false
	}
	return true
}

// CreditConsumption is the audit record of one spent credit.
type CreditConsumption struct {
	ID            string
	DriverID      string
	RequestID     string
	BalanceBefore int
	BalanceAfter  int
	CreatedAt     time.Time
}
