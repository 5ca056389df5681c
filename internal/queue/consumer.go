package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clubops/training-ops/internal/logger"
)

// StartNotificationConsumer drains the notification queues and logs each
// event. It stands in for the external notification service (mail/SMS
// delivery itself is out of scope). The function runs a reconnect loop with
// exponential backoff and never returns under normal operation; run it in
// its own goroutine.
func StartNotificationConsumer() {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(brokerURL())
		if err != nil {
			logger.Get().Warn().Err(err).Dur("retry_in", backoff).Msg("notification consumer dial failed")
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn); err != nil {
			logger.Get().Warn().Err(err).Msg("notification consume loop ended, reconnecting")
			_ = conn.Close()
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Get().Warn().Err(err).Msg("set QoS failed")
	}

	for _, q := range []string{EnrollmentConfirmedQueue, LeadConvertedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
	}

	enrollments, err := ch.Consume(EnrollmentConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", EnrollmentConfirmedQueue, err)
	}
	conversions, err := ch.Consume(LeadConvertedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", LeadConvertedQueue, err)
	}

	for {
		select {
		case d, ok := <-enrollments:
			if !ok {
				return errors.New("enrollment deliveries channel closed")
			}
			handleDelivery(d, EnrollmentConfirmedQueue)
		case d, ok := <-conversions:
			if !ok {
				return errors.New("conversion deliveries channel closed")
			}
			handleDelivery(d, LeadConvertedQueue)
		}
	}
}

func handleDelivery(d amqp.Delivery, queueName string) {
	if err := notify(queueName, d.Body); err != nil {
		logger.Get().Warn().Err(err).Str("queue", queueName).Msg("handle message failed")
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
		return
	}
	_ = d.Ack(false)
}

func notify(queueName string, body []byte) error {
	switch queueName {
	case EnrollmentConfirmedQueue:
		var ev EnrollmentConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		logger.Get().Info().
			Uint64("enrollment_id", ev.EnrollmentID).
			Uint64("user_id", ev.UserID).
			Uint64("cycle_id", ev.CycleID).
			Str("cycle", ev.CycleName).
			Msg("notify: enrollment confirmed")
	case LeadConvertedQueue:
		var ev LeadConvertedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		logger.Get().Info().
			Uint64("lead_id", ev.LeadID).
			Uint64("deal_id", ev.DealID).
			Str("program", ev.ProgramName).
			Msg("notify: lead converted")
	}
	return nil
}
