/**
 * @description
 * This package provides a simple producer for publishing membership and
 * referral events to RabbitMQ. It encapsulates the logic for connecting to
 * RabbitMQ and publishing a message to a durable topic exchange.
 *
 * Downstream consumers (notification/reporting services) subscribe to the
 * routing keys published here; this service never blocks a financial
 * mutation on a publish.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the durable topic exchange all service events flow through.
const EventsExchange = "maandhise.events"

// Routing keys for the published event kinds.
const (
	RoutingKeyReferralApproved = "referral.approved"
	RoutingKeyReferralRejected = "referral.rejected"
	RoutingKeyPaymentApplied   = "payment.applied"
	RoutingKeyPaymentReminder  = "payment.reminder"
)

// ReferralApprovedEvent is published after a referral settles: membership
// extended, commission credited, referral closed.
type ReferralApprovedEvent struct {
	ReferralID   uuid.UUID `json:"referral_id"`
	MembershipID uuid.UUID `json:"membership_id"`
	MarketerID   string    `json:"marketer_id"`
	Amount       int64     `json:"amount"` // in cents
	Commission   int64     `json:"commission"`
	ValidUntil   time.Time `json:"valid_until"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReferralRejectedEvent is published when a reviewer rejects a referral.
type ReferralRejectedEvent struct {
	ReferralID uuid.UUID `json:"referral_id"`
	MarketerID string    `json:"marketer_id"`
	Reason     *string   `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PaymentAppliedEvent is published after a payment extends a membership.
type PaymentAppliedEvent struct {
	MembershipID  uuid.UUID `json:"membership_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	Amount        int64     `json:"amount"` // in cents
	MonthsGranted int       `json:"months_granted"`
	ValidUntil    time.Time `json:"valid_until"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentReminderEvent is published by the reminder job for memberships
// whose next payment marker is approaching. Actual SMS/WhatsApp delivery is
// the consumer's concern.
type PaymentReminderEvent struct {
	MembershipID   uuid.UUID `json:"membership_id"`
	Phone          string    `json:"phone"`
	FullName       string    `json:"full_name"`
	NextPaymentDue time.Time `json:"next_payment_due"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup, so the engine keeps serving requests.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", exchange, err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			ch, chErr := p.conn.Channel()
			if chErr != nil {
				return chErr
			}
			p.channel = ch
			if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
				return err2
			}
		} else {
			return err
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.channel.PublishWithContext(publishCtx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         payload,
		},
	)
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
