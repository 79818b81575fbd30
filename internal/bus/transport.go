// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package bus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
)

// GoChannelConfig tunes the in-process transport.
type GoChannelConfig struct {
	// Buffer is the per-subscription output channel buffer.
	// Default: 256
	Buffer int
}

// NewGoChannelTransport returns the in-process transport. The returned
// publisher and subscriber are the same object; events reach only
// subscribers inside this process. This is the default deployment mode.
func NewGoChannelTransport(cfg GoChannelConfig) (message.Publisher, message.Subscriber) {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	// BlockPublishUntilSubscriberAck keeps publishes in order per
	// subscriber: without it the GoChannel hands each message to its
	// subscribers on a fresh goroutine and delivery order is a
	// scheduler race. Subscription drain loops ack on receipt, so a
	// publish waits for handoff, not for handler execution.
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(buffer),
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger())
	return ch, ch
}

// NATSConfig configures the brokered transport.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	QueueGroupBase  string
	SubscribersPool int
}

// NewNATSTransport returns a JetStream-backed publisher and subscriber.
// Use this when multiple Calyx processes must share one event stream.
func NewNATSTransport(cfg NATSConfig) (message.Publisher, message.Subscriber, error) {
	logger := NewWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", map[string]any{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:   false,
			TrackMsgId: true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		QueueGroupPrefix: cfg.QueueGroupBase,
		SubscribersCount: cfg.SubscribersPool,
		JetStream:        wmNats.JetStreamConfig{Disabled: false},
	}, logger)
	if err != nil {
		pub.Close()
		return nil, nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return pub, sub, nil
}
