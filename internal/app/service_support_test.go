package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iheykal/maandhise-sub000/internal/clock"
	"github.com/iheykal/maandhise-sub000/internal/domain"
	"github.com/iheykal/maandhise-sub000/internal/store"
)

var testRules = RuleConfig{
	MonthlyFeeCents:   100,
	CommissionRateBps: 4000,
	GracePeriod:       30 * 24 * time.Hour,
	FlexibleMinMonths: 1,
	FlexibleMaxMonths: 120,
}

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(repo store.Repository, events *capturePublisher) *Service {
	return &Service{
		repo:   repo,
		events: events,
		clock:  clock.Fixed(testNow),
		rules:  testRules,
	}
}

// capturePublisher records every published event so tests can assert on
// routing keys and payloads.
type capturePublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies []interface{}
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.bodies = append(p.bodies, body)
	return p.err
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// memoryRepo is an in-memory store.Repository with the same transactional
// semantics as the PostgreSQL implementation: a single mutex stands in for
// row locks, approvals re-check the pending status under the lock, and at
// most one commission credit ever exists per referral.
type memoryRepo struct {
	mu          sync.Mutex
	memberships map[uuid.UUID]*domain.Membership
	payments    map[uuid.UUID][]domain.PaymentRecord
	referrals   map[uuid.UUID]*domain.PendingReferral
	credits     map[uuid.UUID]*domain.CommissionCredit // keyed by referral ID
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		memberships: make(map[uuid.UUID]*domain.Membership),
		payments:    make(map[uuid.UUID][]domain.PaymentRecord),
		referrals:   make(map[uuid.UUID]*domain.PendingReferral),
		credits:     make(map[uuid.UUID]*domain.CommissionCredit),
	}
}

func (r *memoryRepo) addMembership(m *domain.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.memberships[m.ID] = &cp
}

func (r *memoryRepo) FindMembershipByID(ctx context.Context, membershipID uuid.UUID) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memberships[membershipID]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memoryRepo) ApplyPayment(ctx context.Context, membershipID uuid.UUID, params store.ApplyPaymentParams) (*domain.Membership, *domain.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyPaymentLocked(membershipID, params)
}

func (r *memoryRepo) applyPaymentLocked(membershipID uuid.UUID, params store.ApplyPaymentParams) (*domain.Membership, *domain.PaymentRecord, error) {
	m, ok := r.memberships[membershipID]
	if !ok {
		return nil, nil, domain.ErrMembershipNotFound
	}

	var months int
	switch params.Mode {
	case store.ModeStandard:
		months = 1
	case store.ModeFlexible:
		months = domain.MonthsGranted(params.Amount, m.MonthlyFee)
		if months < params.MinMonths || months > params.MaxMonths {
			return nil, nil, domain.ErrAmountOutOfRange
		}
	}

	newValidUntil := domain.ExtendValidUntil(params.Now, m.ValidUntil, months)
	nextDue := newValidUntil
	if params.Mode == store.ModeStandard {
		nextDue = domain.NextDueAfterStandard(newValidUntil)
	}

	record := domain.PaymentRecord{
		ID:              uuid.New(),
		MembershipID:    m.ID,
		PaidAt:          params.Now,
		Amount:          params.Amount,
		Method:          params.Method,
		TransactionID:   params.TransactionID,
		MonthsGranted:   months,
		ValidUntilAfter: newValidUntil,
	}
	r.payments[m.ID] = append(r.payments[m.ID], record)

	m.ValidUntil = newValidUntil
	m.NextPaymentDue = nextDue
	m.UpdatedAt = params.Now

	cp := *m
	return &cp, &record, nil
}

func (r *memoryRepo) ListPaymentsByMembershipID(ctx context.Context, membershipID uuid.UUID) ([]domain.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PaymentRecord(nil), r.payments[membershipID]...), nil
}

func (r *memoryRepo) FindMembershipsDueBetween(ctx context.Context, from, until time.Time) ([]domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Membership
	for _, m := range r.memberships {
		if m.Cancelled {
			continue
		}
		if !m.NextPaymentDue.Before(from) && !m.NextPaymentDue.After(until) {
			due = append(due, *m)
		}
	}
	return due, nil
}

func (r *memoryRepo) CreatePendingReferral(ctx context.Context, referral *domain.PendingReferral) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *referral
	r.referrals[referral.ID] = &cp
	return nil
}

func (r *memoryRepo) FindReferralByID(ctx context.Context, referralID uuid.UUID) (*domain.PendingReferral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.referrals[referralID]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	cp := *ref
	return &cp, nil
}

func (r *memoryRepo) ListReferralsByStatus(ctx context.Context, status domain.ReferralStatus, limit, offset int) ([]domain.PendingReferral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingReferral
	for _, ref := range r.referrals {
		if ref.Status == status {
			out = append(out, *ref)
		}
	}
	return out, nil
}

func (r *memoryRepo) ApproveReferralAtomic(ctx context.Context, referralID uuid.UUID, params store.ApproveReferralParams) (*store.ApproveReferralResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[referralID]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	if ref.Status != domain.ReferralPending {
		return nil, domain.ErrAlreadyReviewed
	}

	membershipID := r.resolveMembershipLocked(ref.Candidate, params)

	membership, payment, err := r.applyPaymentLocked(membershipID, store.ApplyPaymentParams{
		Now:       params.Now,
		Amount:    ref.Amount,
		Method:    domain.MethodMobileMoney,
		Mode:      store.ModeFlexible,
		MinMonths: params.MinMonths,
		MaxMonths: params.MaxMonths,
	})
	if err != nil {
		return nil, err
	}

	if _, exists := r.credits[ref.ID]; exists {
		return nil, domain.ErrDuplicateCredit
	}
	credit := &domain.CommissionCredit{
		ID:         uuid.New(),
		MarketerID: ref.SubmittedBy,
		ReferralID: ref.ID,
		Amount:     domain.CommissionFor(ref.Amount, params.CommissionRateBps),
		CreditedAt: params.Now,
	}
	r.credits[ref.ID] = credit

	reviewer := params.ReviewerID
	reviewedAt := params.Now
	ref.Status = domain.ReferralApproved
	ref.ReviewedBy = &reviewer
	ref.ReviewedAt = &reviewedAt
	ref.MembershipID = &membership.ID
	ref.UpdatedAt = params.Now

	refCopy := *ref
	creditCopy := *credit
	return &store.ApproveReferralResult{
		Referral:   &refCopy,
		Membership: membership,
		Payment:    payment,
		Credit:     &creditCopy,
	}, nil
}

func (r *memoryRepo) resolveMembershipLocked(candidate domain.Candidate, params store.ApproveReferralParams) uuid.UUID {
	for id, m := range r.memberships {
		if m.Phone == candidate.Phone {
			return id
		}
	}
	m := &domain.Membership{
		ID:             uuid.New(),
		SubjectID:      candidate.Phone,
		FullName:       candidate.FullName,
		Phone:          candidate.Phone,
		MonthlyFee:     params.MonthlyFeeCents,
		ValidUntil:     params.Now,
		NextPaymentDue: params.Now,
		CreatedAt:      params.Now,
		UpdatedAt:      params.Now,
	}
	r.memberships[m.ID] = m
	return m.ID
}

func (r *memoryRepo) RejectReferral(ctx context.Context, referralID uuid.UUID, reviewerID string, reason *string, reviewedAt time.Time) (*domain.PendingReferral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[referralID]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	if ref.Status != domain.ReferralPending {
		return nil, domain.ErrAlreadyReviewed
	}

	ref.Status = domain.ReferralRejected
	ref.ReviewedBy = &reviewerID
	ref.ReviewedAt = &reviewedAt
	ref.RejectionReason = reason
	ref.UpdatedAt = reviewedAt

	cp := *ref
	return &cp, nil
}

func (r *memoryRepo) CreateCommissionCredit(ctx context.Context, credit *domain.CommissionCredit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.credits[credit.ReferralID]; exists {
		return domain.ErrDuplicateCredit
	}
	cp := *credit
	r.credits[credit.ReferralID] = &cp
	return nil
}

func (r *memoryRepo) GetMarketerEarnings(ctx context.Context, marketerID string) (*domain.MarketerEarningsSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &domain.MarketerEarningsSummary{MarketerID: marketerID}
	for _, c := range r.credits {
		if c.MarketerID == marketerID {
			summary.TotalEarnings += c.Amount
			summary.ApprovedCustomerCount++
		}
	}
	return summary, nil
}
