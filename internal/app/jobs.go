/**
 * @description
 * Scheduled job implementations for the membership service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/iheykal/maandhise-sub000/internal/clock"
	"github.com/iheykal/maandhise-sub000/internal/store"
	"github.com/iheykal/maandhise-sub000/pkg/rabbitmq"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo   store.Repository
	events rabbitmq.Publisher
	clock  clock.Clock
	logger *slog.Logger
	window time.Duration
}

// NewJobs creates a new Jobs runner. window controls how far ahead of the
// next payment marker a reminder fires.
func NewJobs(repo store.Repository, events rabbitmq.Publisher, clk clock.Clock, logger *slog.Logger, window time.Duration) *Jobs {
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Jobs{
		repo:   repo,
		events: events,
		clock:  clk,
		logger: logger,
		window: window,
	}
}

// ProcessPaymentReminders publishes a reminder event for every membership
// whose next payment marker falls inside the look-ahead window. Delivery to
// members (SMS, WhatsApp) is handled by a downstream consumer; this job only
// decides who is due.
func (j *Jobs) ProcessPaymentReminders() {
	j.logger.Info("starting payment reminder job")
	ctx := context.Background()

	now := j.clock.Now()
	memberships, err := j.repo.FindMembershipsDueBetween(ctx, now, now.Add(j.window))
	if err != nil {
		j.logger.Error("failed to find memberships due for reminder", "error", err)
		return
	}

	if len(memberships) == 0 {
		j.logger.Info("no memberships due for reminder")
		return
	}

	j.logger.Info("found memberships due for reminder", "count", len(memberships))

	published := 0
	for _, m := range memberships {
		event := rabbitmq.PaymentReminderEvent{
			MembershipID:   m.ID,
			Phone:          m.Phone,
			FullName:       m.FullName,
			NextPaymentDue: m.NextPaymentDue,
			Timestamp:      now,
		}
		if err := j.events.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RoutingKeyPaymentReminder, event); err != nil {
			j.logger.Error("failed to publish payment reminder", "membership_id", m.ID, "error", err)
			continue
		}
		published++
	}

	j.logger.Info("payment reminder job finished", "published", published)
}
