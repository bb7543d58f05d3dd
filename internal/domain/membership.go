/**
 * @description
 * This file defines the membership domain models and the pure business rules
 * that govern them: converting a paid amount into months of validity,
 * extending a validity window, and classifying a membership's payment state.
 *
 * The rules live here (rather than in the service layer) because both the
 * application service and the store's atomic transactions need them; keeping
 * a single implementation means the referral settlement path and the direct
 * payment path can never disagree about the months-granted math.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit (US cents), which avoids floating-point inaccuracies with
 *   financial data. One month of membership costs MonthlyFeeCents.
 * - All timestamps are UTC instants supplied by the caller; nothing in this
 *   package reads the wall clock.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the derived payment state of a membership.
type PaymentStatus string

const (
	StatusCurrent   PaymentStatus = "current"
	StatusOverdue   PaymentStatus = "overdue"
	StatusSuspended PaymentStatus = "suspended"
	StatusCancelled PaymentStatus = "cancelled"
)

// PaymentMethod enumerates the accepted ways a member can pay.
type PaymentMethod string

const (
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

// ValidPaymentMethod reports whether m is one of the accepted payment methods.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodMobileMoney, MethodBankTransfer, MethodCash:
		return true
	}
	return false
}

// Membership represents a subject's paid access window.
// This struct maps directly to the `memberships` table in the database.
type Membership struct {
	ID             uuid.UUID `json:"id"`
	SubjectID      string    `json:"subject_id"`
	FullName       string    `json:"full_name"`
	Phone          string    `json:"phone"`
	MonthlyFee     int64     `json:"monthly_fee"` // in cents
	ValidUntil     time.Time `json:"valid_until"`
	NextPaymentDue time.Time `json:"next_payment_due"`
	Cancelled      bool      `json:"cancelled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PaymentRecord is one immutable entry in a membership's payment history.
// Records are only ever appended, never mutated or deleted.
type PaymentRecord struct {
	ID              uuid.UUID     `json:"id"`
	MembershipID    uuid.UUID     `json:"membership_id"`
	PaidAt          time.Time     `json:"paid_at"`
	Amount          int64         `json:"amount"` // in cents
	Method          PaymentMethod `json:"method"`
	TransactionID   *string       `json:"transaction_id,omitempty"`
	MonthsGranted   int           `json:"months_granted"`
	ValidUntilAfter time.Time     `json:"valid_until_after"`
}

// MonthsGranted computes how many whole months an amount buys at the given
// monthly fee. Integer division gives the required floor semantics; any
// remainder below one month's fee is not converted into time.
func MonthsGranted(amountCents, monthlyFeeCents int64) int {
	if monthlyFeeCents <= 0 {
		return 0
	}
	return int(amountCents / monthlyFeeCents)
}

// ExtendValidUntil returns the new expiry when months of validity are added.
// Extension starts from the later of now and the current expiry: a lapsed
// membership restarts from now instead of compounding a stale expiry, while
// an active membership keeps its unexpired time.
func ExtendValidUntil(now, currentValidUntil time.Time, months int) time.Time {
	start := currentValidUntil
	if now.After(start) {
		start = now
	}
	return start.AddDate(0, months, 0)
}

// NextDueAfterStandard truncates a new expiry to the standard billing day
// boundary (midnight UTC) for the reminder marker used by standard payments.
func NextDueAfterStandard(validUntil time.Time) time.Time {
	u := validUntil.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ClassifyStatus derives the payment status of a membership at the given
// instant. Rules are evaluated in order: an administrative cancellation wins
// over everything; an unexpired membership is current; an expired one is
// overdue until the grace period elapses, then suspended.
func ClassifyStatus(m *Membership, now time.Time, gracePeriod time.Duration) PaymentStatus {
	if m.Cancelled {
		return StatusCancelled
	}
	if !now.After(m.ValidUntil) {
		return StatusCurrent
	}
	if now.Sub(m.ValidUntil) <= gracePeriod {
		return StatusOverdue
	}
	return StatusSuspended
}

// DaysUntilDue returns the signed number of whole days between now and the
// membership's expiry. Negative values mean the membership is overdue.
func DaysUntilDue(m *Membership, now time.Time) int {
	return int(m.ValidUntil.Sub(now).Hours() / 24)
}
