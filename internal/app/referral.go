/**
 * @description
 * Referral settlement engine operations: submitting a candidate for review,
 * approving a pending referral (membership extension + commission credit as
 * one atomic unit, delegated to the repository transaction), rejecting a
 * referral, and reading the marketer earnings ledger.
 *
 * State machine per referral: pending -> approved | rejected, both terminal.
 * A retried approve on a settled referral is rejected with AlreadyReviewed,
 * never re-applied — that plus the store's unique credit constraint is the
 * exactly-once commission guarantee.
 */

package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iheykal/maandhise-sub000/internal/domain"
	"github.com/iheykal/maandhise-sub000/internal/store"
	"github.com/iheykal/maandhise-sub000/pkg/rabbitmq"
)

// minimum referral amount: one dollar, matching one month at the default fee.
const minReferralAmountCents = 100

// SettlementResult bundles everything a successful approval produced.
type SettlementResult struct {
	Referral   *domain.PendingReferral  `json:"referral"`
	Membership *domain.Membership       `json:"membership"`
	Credit     *domain.CommissionCredit `json:"commission_credited"`
}

// SubmitReferral records a marketer's candidate as a pending review request.
// No membership or commission exists until an admin approves it.
func (s *Service) SubmitReferral(ctx context.Context, candidate domain.Candidate, amountCents int64, marketerID string) (*domain.PendingReferral, error) {
	if amountCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if amountCents < minReferralAmountCents {
		return nil, domain.ErrAmountOutOfRange
	}
	candidate.FullName = strings.TrimSpace(candidate.FullName)
	candidate.Phone = strings.TrimSpace(candidate.Phone)
	if candidate.FullName == "" || candidate.Phone == "" {
		return nil, ErrMissingCandidateDetails
	}

	if err := s.consumeReferralRateLimit(ctx, marketerID); err != nil {
		return nil, err
	}

	referral := &domain.PendingReferral{
		ID:          uuid.New(),
		Candidate:   candidate,
		Amount:      amountCents,
		SubmittedBy: marketerID,
		Status:      domain.ReferralPending,
		CreatedAt:   s.clock.Now(),
	}
	referral.UpdatedAt = referral.CreatedAt

	if err := s.repo.CreatePendingReferral(ctx, referral); err != nil {
		return nil, err
	}
	return referral, nil
}

// ApproveReferral settles a pending referral: it creates or extends the
// candidate's membership with a flexible payment of the submitted amount,
// credits the marketer's commission, and closes the referral — all as one
// atomic unit. Concurrent or repeated approvals observe AlreadyReviewed.
func (s *Service) ApproveReferral(ctx context.Context, referralID uuid.UUID, reviewerID string) (*SettlementResult, error) {
	result, err := s.repo.ApproveReferralAtomic(ctx, referralID, store.ApproveReferralParams{
		Now:               s.clock.Now(),
		ReviewerID:        reviewerID,
		MonthlyFeeCents:   s.rules.MonthlyFeeCents,
		CommissionRateBps: s.rules.CommissionRateBps,
		MinMonths:         s.rules.FlexibleMinMonths,
		MaxMonths:         s.rules.FlexibleMaxMonths,
	})
	if err != nil {
		return nil, err
	}

	event := rabbitmq.ReferralApprovedEvent{
		ReferralID:   result.Referral.ID,
		MembershipID: result.Membership.ID,
		MarketerID:   result.Credit.MarketerID,
		Amount:       result.Referral.Amount,
		Commission:   result.Credit.Amount,
		ValidUntil:   result.Membership.ValidUntil,
		Timestamp:    result.Credit.CreditedAt,
	}
	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RoutingKeyReferralApproved, event); err != nil {
		log.Printf("level=warn component=app msg=\"referral approved event publish failed\" referral_id=%s err=%v", result.Referral.ID, err)
	}

	return &SettlementResult{
		Referral:   result.Referral,
		Membership: result.Membership,
		Credit:     result.Credit,
	}, nil
}

// RejectReferral closes a pending referral without any membership or
// commission side effects.
func (s *Service) RejectReferral(ctx context.Context, referralID uuid.UUID, reviewerID string, reason *string) (*domain.PendingReferral, error) {
	referral, err := s.repo.RejectReferral(ctx, referralID, reviewerID, reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	event := rabbitmq.ReferralRejectedEvent{
		ReferralID: referral.ID,
		MarketerID: referral.SubmittedBy,
		Reason:     reason,
		Timestamp:  s.clock.Now(),
	}
	if err := s.events.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RoutingKeyReferralRejected, event); err != nil {
		log.Printf("level=warn component=app msg=\"referral rejected event publish failed\" referral_id=%s err=%v", referral.ID, err)
	}

	return referral, nil
}

// ListReferrals returns referrals in the given review state for the admin
// review queue.
func (s *Service) ListReferrals(ctx context.Context, status domain.ReferralStatus, limit, offset int) ([]domain.PendingReferral, error) {
	return s.repo.ListReferralsByStatus(ctx, status, limit, offset)
}

// MarketerEarnings aggregates a marketer's committed commission credits and
// approved referral count.
func (s *Service) MarketerEarnings(ctx context.Context, marketerID string) (*domain.MarketerEarningsSummary, error) {
	return s.repo.GetMarketerEarnings(ctx, marketerID)
}

// consumeReferralRateLimit enforces the per-marketer submission limit. A
// limiter failure is logged and waved through rather than blocking business.
func (s *Service) consumeReferralRateLimit(ctx context.Context, marketerID string) error {
	if s.referralLimiter == nil || s.referralSubmitLimit <= 0 {
		return nil
	}
	count, _, err := s.referralLimiter.ConsumeRateLimit(ctx, "referral_submit", marketerID, s.referralSubmitLimit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=app msg=\"referral rate limiter unavailable\" marketer_id=%s err=%v", marketerID, err)
		return nil
	}
	if count > s.referralSubmitLimit {
		return ErrRateLimited
	}
	return nil
}
