// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package bus is the event spine of Calyx: topic-based publish/subscribe
// built on Watermill, with an in-process GoChannel transport by default
// and NATS JetStream as the brokered option.
//
// Two consumer kinds exist per topic:
//
//   - Subscribers: live listeners on the transport (the realtime bridge,
//     subscription-query listeners). Each subscription drains its own
//     channel in a single goroutine, so one subscription sees events in
//     publish order. A transport failure on publish surfaces to the
//     caller, because it changes delivery guarantees for live
//     subscribers.
//
//   - Fan-out handlers: always-run consumers invoked on every publish
//     regardless of live subscribers (counter maintenance, notification
//     creation). Each runs on its own goroutine; a failure or panic is
//     caught, logged with topic and event id, counted, and never reaches
//     the publisher or sibling handlers.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/metrics"
)

// Handler consumes an event. Used for both subscriptions and fan-out
// registrations.
type Handler func(ctx context.Context, evt *Event) error

// SubscriptionID identifies a live subscription for Unsubscribe.
type SubscriptionID string

// Bus routes events between producers and consumers.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	breaker *gobreaker.CircuitBreaker[any]

	mu     sync.RWMutex
	fanout map[Topic][]Handler
	subs   map[SubscriptionID]context.CancelFunc
	closed bool

	// inflight tracks fan-out goroutines so Close can drain them.
	inflight sync.WaitGroup
}

// New creates a Bus over the given transport. pub and sub may be the
// same object (GoChannel) or distinct (NATS). A circuit breaker guards
// transport publishes; when it is open, Publish fails fast instead of
// stacking goroutines behind a dead broker.
func New(pub message.Publisher, sub message.Subscriber) *Bus {
	settings := gobreaker.Settings{
		Name: "bus-publish",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("publish circuit breaker state change")
		},
	}
	return &Bus{
		pub:     pub,
		sub:     sub,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		fanout:  make(map[Topic][]Handler),
		subs:    make(map[SubscriptionID]context.CancelFunc),
	}
}

// Publish delivers the payload synchronously to the transport, then
// invokes every registered fan-out handler for the topic asynchronously
// and independently. The caller sees only transport failures; fan-out
// handler failures are swallowed and logged. Publish does not await
// fan-out completion.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish %s: bus closed", topic)
	}
	handlers := make([]Handler, len(b.fanout[topic]))
	copy(handlers, b.fanout[topic])
	b.mu.RUnlock()

	evt, err := NewEvent(topic, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", topic, err)
	}

	msg := message.NewMessage(evt.ID, raw)
	msg.SetContext(ctx)

	if _, err := b.breaker.Execute(func() (any, error) {
		return nil, b.pub.Publish(string(topic), msg)
	}); err != nil {
		metrics.PublishErrors.WithLabelValues(string(topic)).Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(string(topic)).Inc()

	for _, h := range handlers {
		b.inflight.Add(1)
		go b.runFanOut(topic, evt, h)
	}
	return nil
}

// runFanOut executes a single fan-out handler with panic isolation.
// Fan-out runs detached from the publisher's request context: the
// publisher returning must not cancel counter maintenance mid-flight.
func (b *Bus) runFanOut(topic Topic, evt *Event, h Handler) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.FanOutFailures.WithLabelValues(string(topic)).Inc()
			logging.Error().
				Str("topic", string(topic)).
				Str("event_id", evt.ID).
				Interface("panic", r).
				Msg("fan-out handler panicked")
		}
	}()

	if err := h(context.Background(), evt); err != nil {
		metrics.FanOutFailures.WithLabelValues(string(topic)).Inc()
		logging.Error().
			Err(err).
			Str("topic", string(topic)).
			Str("event_id", evt.ID).
			Msg("fan-out handler failed")
	}
}

// AddFanOut registers a handler invoked on every publish for the topic,
// in addition to transport subscribers. Registration order is preserved
// but handlers run concurrently with each other.
func (b *Bus) AddFanOut(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fanout[topic] = append(b.fanout[topic], h)
}

// Subscribe registers a handler on the transport channel for the topic.
// The handler processes events for the topic in publish order
// (single-consumer FIFO per subscription). Messages are acked on
// receipt, before the handler runs: the transport orders delivery by
// ack, and handler errors are logged without retry either way,
// matching the at-least-once, no-retry delivery contract.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, h Handler) (SubscriptionID, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("subscribe %s: bus closed", topic)
	}
	subCtx, cancel := context.WithCancel(ctx)
	id := SubscriptionID(uuid.New().String())
	b.subs[id] = cancel
	b.mu.Unlock()

	ch, err := b.sub.Subscribe(subCtx, string(topic))
	if err != nil {
		cancel()
		b.removeSub(id)
		return "", fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		defer b.removeSub(id)
		for msg := range ch {
			// Ack first. The GoChannel transport blocks the
			// publisher until every subscriber acks, so holding the
			// ack through handler execution would serialize Publish
			// behind the slowest handler.
			msg.Ack()

			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				logging.Error().
					Err(err).
					Str("topic", string(topic)).
					Str("message_id", msg.UUID).
					Msg("dropping undecodable bus message")
				continue
			}
			if err := h(subCtx, &evt); err != nil {
				logging.Error().
					Err(err).
					Str("topic", string(topic)).
					Str("event_id", evt.ID).
					Msg("subscription handler failed")
			}
		}
	}()

	return id, nil
}

// Unsubscribe cancels the subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	cancel, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

func (b *Bus) removeSub(id SubscriptionID) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Close cancels all subscriptions, waits for in-flight fan-out handlers
// to drain, and closes the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := make([]context.CancelFunc, 0, len(b.subs))
	for _, cancel := range b.subs {
		cancels = append(cancels, cancel)
	}
	b.subs = make(map[SubscriptionID]context.CancelFunc)
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.inflight.Wait()

	if err := b.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	// GoChannel is both publisher and subscriber; avoid double close.
	if any(b.sub) != any(b.pub) {
		if err := b.sub.Close(); err != nil {
			return fmt.Errorf("close subscriber: %w", err)
		}
	}
	return nil
}
