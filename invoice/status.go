package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculateStatus derives an invoice's status from its payment state and the clock.
//
//	paid     a paid date is set, or a positive payment covers the total
//	overdue  the due date has passed and money is still owed
//	pending  money is owed (or partly paid) and the due date has not passed
//	draft    nothing owed, nothing paid, not yet due
//
// A nil due date is never past. Cancelled is never derived; it is only set
// explicitly.
func CalculateStatus(totalAmount, totalPaid decimal.Decimal, dueDate, paidDate *time.Time, now time.Time) Status {
	if paidDate != nil {
		return StatusPaid
	}
	if totalPaid.IsPositive() && totalPaid.GreaterThanOrEqual(totalAmount) {
		return StatusPaid
	}

	pastDue := dueDate != nil && dueDate.Before(now)
	switch {
	case pastDue:
		return StatusOverdue
	case totalPaid.IsPositive(), totalAmount.IsPositive():
		return StatusPending
	default:
		return StatusDraft
	}
}
