/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the membership and referral
 * settlement engines. By defining an interface, we decouple the business
 * logic from the specific database implementation (PostgreSQL), making the
 * code more modular and easier to test with stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iheykal/maandhise-sub000/internal/domain"
)

// PaymentMode selects how a paid amount converts into membership time.
type PaymentMode string

const (
	// ModeFlexible grants floor(amount / monthlyFee) months.
	ModeFlexible PaymentMode = "flexible"
	// ModeStandard grants exactly one month regardless of overpayment.
	ModeStandard PaymentMode = "standard"
)

// ApplyPaymentParams carries everything the store needs to apply a payment
// inside one transaction. Validation that depends on the membership row
// (months band, fee) is re-run under the row lock.
type ApplyPaymentParams struct {
	Now           time.Time
	Amount        int64 // in cents
	Method        domain.PaymentMethod
	TransactionID *string
	Mode          PaymentMode
	MinMonths     int
	MaxMonths     int
}

// ApproveReferralParams carries the settlement inputs for an atomic
// referral approval.
type ApproveReferralParams struct {
	Now               time.Time
	ReviewerID        string
	MonthlyFeeCents   int64 // fee for a newly created membership
	CommissionRateBps int64
	MinMonths         int
	MaxMonths         int
}

// ApproveReferralResult bundles the records committed by one approval.
type ApproveReferralResult struct {
	Referral   *domain.PendingReferral
	Membership *domain.Membership
	Payment    *domain.PaymentRecord
	Credit     *domain.CommissionCredit
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Membership ledger methods
	FindMembershipByID(ctx context.Context, membershipID uuid.UUID) (*domain.Membership, error)
	ApplyPayment(ctx context.Context, membershipID uuid.UUID, params ApplyPaymentParams) (*domain.Membership, *domain.PaymentRecord, error)
	ListPaymentsByMembershipID(ctx context.Context, membershipID uuid.UUID) ([]domain.PaymentRecord, error)
	FindMembershipsDueBetween(ctx context.Context, from, until time.Time) ([]domain.Membership, error)

	// Referral methods
	CreatePendingReferral(ctx context.Context, referral *domain.PendingReferral) error
	FindReferralByID(ctx context.Context, referralID uuid.UUID) (*domain.PendingReferral, error)
	ListReferralsByStatus(ctx context.Context, status domain.ReferralStatus, limit, offset int) ([]domain.PendingReferral, error)
	ApproveReferralAtomic(ctx context.Context, referralID uuid.UUID, params ApproveReferralParams) (*ApproveReferralResult, error)
	RejectReferral(ctx context.Context, referralID uuid.UUID, reviewerID string, reason *string, reviewedAt time.Time) (*domain.PendingReferral, error)

	// Commission ledger methods
	CreateCommissionCredit(ctx context.Context, credit *domain.CommissionCredit) error
	GetMarketerEarnings(ctx context.Context, marketerID string) (*domain.MarketerEarningsSummary, error)
}
