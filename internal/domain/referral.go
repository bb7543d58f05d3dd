/**
 * @description
 * This file defines the domain models for the marketer referral program:
 * pending referrals awaiting review, commission credits earned on approval,
 * and the aggregated earnings view exposed to marketers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReferralStatus is the review state of a pending referral. Transitions are
// one-way: pending to approved, or pending to rejected. Both outcomes are
// terminal and no record may be reviewed twice.
type ReferralStatus string

const (
	ReferralPending  ReferralStatus = "pending"
	ReferralApproved ReferralStatus = "approved"
	ReferralRejected ReferralStatus = "rejected"
)

// Candidate carries the prospective member's details as submitted by the
// marketer. The engine treats these as opaque except when creating the
// underlying membership on approval.
type Candidate struct {
	FullName string  `json:"full_name"`
	Phone    string  `json:"phone"`
	IDNumber *string `json:"id_number,omitempty"`
	Location *string `json:"location,omitempty"`
	PhotoRef *string `json:"photo_ref,omitempty"`
}

// PendingReferral represents a marketer-submitted candidate membership
// awaiting administrative approval. Maps to the `pending_referrals` table.
type PendingReferral struct {
	ID              uuid.UUID      `json:"id"`
	Candidate       Candidate      `json:"candidate"`
	Amount          int64          `json:"amount"` // in cents
	SubmittedBy     string         `json:"submitted_by"`
	Status          ReferralStatus `json:"status"`
	ReviewedBy      *string        `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	MembershipID    *uuid.UUID     `json:"membership_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CommissionCredit is one marketer commission earned from one approved
// referral. At most one credit ever exists per referral; this is the
// central anti-double-pay guarantee.
type CommissionCredit struct {
	ID         uuid.UUID `json:"id"`
	MarketerID string    `json:"marketer_id"`
	ReferralID uuid.UUID `json:"referral_id"`
	Amount     int64     `json:"amount"` // in cents
	CreditedAt time.Time `json:"credited_at"`
}

// MarketerEarningsSummary aggregates a marketer's committed commission
// credits and approved referral count.
type MarketerEarningsSummary struct {
	MarketerID            string `json:"marketer_id"`
	TotalEarnings         int64  `json:"total_earnings"` // in cents
	ApprovedCustomerCount int    `json:"approved_customer_count"`
}

// CommissionFor computes the marketer commission for a referral amount at
// the configured rate in basis points. Integer math keeps the result exact.
func CommissionFor(amountCents int64, rateBps int64) int64 {
	return amountCents * rateBps / 10000
}
