package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"hotelperhour/internal/domain"
)

// Handler delivers one event. A returned error rejects the message without
// requeueing it.
type Handler func(ctx context.Context, ev domain.Event) error

type Consumer struct {
	url      string
	queue    string
	prefetch int
}

func NewConsumer(url, queue string, prefetch int) *Consumer {
	if queue == "" {
		queue = DefaultQueue
	}
	if prefetch <= 0 {
		prefetch = 20
	}
	return &Consumer{url: url, queue: queue, prefetch: prefetch}
}

// Run consumes until ctx is cancelled, reconnecting with capped exponential
// backoff whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("notifier: dial failed")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn, h)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("notifier: consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, h Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		log.Warn().Err(err).Msg("notifier: set QoS failed")
	}
	if err := declare(ch, c.queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d, h)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	ev, err := decode(d.Body)
	if err != nil {
		log.Error().Err(err).Str("message_id", d.MessageId).Msg("notifier: undecodable message dropped")
		_ = d.Nack(false, false)
		return
	}
	lg := log.With().Str("event_id", ev.ID).Str("type", string(ev.Type)).Str("reference", ev.Reference).Logger()
	if err := h(lg.WithContext(ctx), ev); err != nil {
		// rejected without requeue to avoid tight redelivery loops
		lg.Error().Err(err).Msg("notifier: delivery failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
