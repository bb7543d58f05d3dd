/**
 * @description
 * This file defines the application `Service`, which orchestrates the
 * membership lifecycle and referral settlement engines. The service holds
 * the business-rule configuration (monthly fee, commission rate, grace
 * period, flexible-payment band), delegates persistence to the repository,
 * and publishes domain events after successful financial mutations.
 *
 * All date math flows through the injected Clock so the engine can be
 * tested against a frozen instant.
 *
 * @dependencies
 * - internal/clock, internal/domain, internal/store: Engine building blocks.
 * - pkg/rabbitmq: Event publishing to downstream consumers.
 */

package app

import (
	"context"
	"errors"
	"time"

	"github.com/iheykal/maandhise-sub000/internal/clock"
	"github.com/iheykal/maandhise-sub000/internal/store"
	"github.com/iheykal/maandhise-sub000/pkg/rabbitmq"
)

var (
	// ErrMissingCandidateDetails is returned when a referral submission
	// lacks the candidate name or phone needed to create a membership later.
	ErrMissingCandidateDetails = errors.New("candidate name and phone are required")
	// ErrRateLimited is returned when a marketer exceeds the referral
	// submission rate limit.
	ErrRateLimited = errors.New("too many referral submissions; slow down")
)

// RateLimiter counts an attempt for subject within scope and reports how
// many attempts the current window has seen. Implementations that are
// unavailable report zero and the caller proceeds.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RuleConfig captures the business-rule constants the engines evaluate.
type RuleConfig struct {
	MonthlyFeeCents   int64
	CommissionRateBps int64
	GracePeriod       time.Duration
	FlexibleMinMonths int
	FlexibleMaxMonths int
}

// Service provides the core business logic for memberships and referrals.
type Service struct {
	repo   store.Repository
	events rabbitmq.Publisher
	clock  clock.Clock
	rules  RuleConfig

	referralLimiter     RateLimiter
	referralSubmitLimit int
}

// NewService creates a new service instance. A nil events publisher is
// replaced with the no-op fallback; a nil clk falls back to the system clock.
func NewService(repo store.Repository, events rabbitmq.Publisher, clk clock.Clock, rules RuleConfig) *Service {
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		repo:   repo,
		events: events,
		clock:  clk,
		rules:  rules,
	}
}

// SetReferralRateLimiter installs a distributed rate limiter for referral
// submissions. limitPerMinute <= 0 disables limiting.
func (s *Service) SetReferralRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.referralLimiter = limiter
	s.referralSubmitLimit = limitPerMinute
}
