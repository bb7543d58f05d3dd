/**
 * @description
 * Membership engine operations: applying flexible and standard payments,
 * deriving payment status, and reading payment history. Payment application
 * is delegated to the repository's transactional path; this layer validates
 * caller input up front (before any store access), rejects loudly instead of
 * clamping, and publishes the payment event after commit.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/iheykal/maandhise-sub000/internal/domain"
	"github.com/iheykal/maandhise-sub000/internal/store"
	"github.com/iheykal/maandhise-sub000/pkg/rabbitmq"
)

// MembershipStatusView is the read model returned for status queries.
type MembershipStatusView struct {
	MembershipID   uuid.UUID            `json:"membership_id"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status"`
	ValidUntil     time.Time            `json:"valid_until"`
	NextPaymentDue time.Time            `json:"next_payment_due"`
	DaysUntilDue   int                  `json:"days_until_due"`
}

// ApplyFlexiblePayment converts a dollar amount directly into months of
// validity: floor(amount / monthlyFee) months, bounded by the configured
// band. One dollar buys one month at the default fee.
func (s *Service) ApplyFlexiblePayment(ctx context.Context, membershipID uuid.UUID, amountCents int64, method domain.PaymentMethod, transactionID *string) (*domain.Membership, *domain.PaymentRecord, error) {
	return s.applyPayment(ctx, membershipID, amountCents, method, transactionID, store.ModeFlexible)
}

// ApplyStandardPayment grants exactly one month of validity for the paid
// amount regardless of overpayment.
func (s *Service) ApplyStandardPayment(ctx context.Context, membershipID uuid.UUID, amountCents int64, method domain.PaymentMethod, transactionID *string) (*domain.Membership, *domain.PaymentRecord, error) {
	return s.applyPayment(ctx, membershipID, amountCents, method, transactionID, store.ModeStandard)
}

func (s *Service) applyPayment(ctx context.Context, membershipID uuid.UUID, amountCents int64, method domain.PaymentMethod, transactionID *string, mode store.PaymentMode) (*domain.Membership, *domain.PaymentRecord, error) {
	// Input validation happens before any store access. Invalid amounts are
	// rejected, never clamped, so an operator sees the real problem.
	if amountCents <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}
	if !domain.ValidPaymentMethod(method) {
		return nil, nil, domain.ErrInvalidPaymentMethod
	}

	membership, record, err := s.repo.ApplyPayment(ctx, membershipID, store.ApplyPaymentParams{
		Now:           s.clock.Now(),
		Amount:        amountCents,
		Method:        method,
		TransactionID: transactionID,
		Mode:          mode,
		MinMonths:     s.rules.FlexibleMinMonths,
		MaxMonths:     s.rules.FlexibleMaxMonths,
	})
	if err != nil {
		return nil, nil, err
	}

	// The payment is committed; a failed publish must not undo it.
	event := rabbitmq.PaymentAppliedEvent{
		MembershipID:  membership.ID,
		PaymentID:     record.ID,
		Amount:        record.Amount,
		MonthsGranted: record.MonthsGranted,
		ValidUntil:    record.ValidUntilAfter,
		Timestamp:     record.PaidAt,
	}
	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RoutingKeyPaymentApplied, event); err != nil {
		log.Printf("level=warn component=app msg=\"payment applied event publish failed\" membership_id=%s err=%v", membership.ID, err)
	}

	return membership, record, nil
}

// Classify derives a membership's payment status at the current instant
// using the configured grace period.
func (s *Service) Classify(m *domain.Membership) domain.PaymentStatus {
	return domain.ClassifyStatus(m, s.clock.Now(), s.rules.GracePeriod)
}

// MembershipStatus classifies a membership's payment state at the current
// instant and reports the signed days-until-due marker.
func (s *Service) MembershipStatus(ctx context.Context, membershipID uuid.UUID) (*MembershipStatusView, error) {
	membership, err := s.repo.FindMembershipByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	return &MembershipStatusView{
		MembershipID:   membership.ID,
		PaymentStatus:  domain.ClassifyStatus(membership, now, s.rules.GracePeriod),
		ValidUntil:     membership.ValidUntil.UTC(),
		NextPaymentDue: membership.NextPaymentDue.UTC(),
		DaysUntilDue:   domain.DaysUntilDue(membership, now),
	}, nil
}

// PaymentHistory returns a membership's append-only payment records in
// insertion order.
func (s *Service) PaymentHistory(ctx context.Context, membershipID uuid.UUID) ([]domain.PaymentRecord, error) {
	if _, err := s.repo.FindMembershipByID(ctx, membershipID); err != nil {
		return nil, err
	}
	records, err := s.repo.ListPaymentsByMembershipID(ctx, membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}
	return records, nil
}
