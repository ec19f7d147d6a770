package event

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/logger"
)

// Bus is a configured publisher plus the function that releases it.
type Bus struct {
	Publisher Publisher
	close     func() error
}

// Close releases the bus connection.
func (b *Bus) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// NewBus builds the publisher selected by cfg.Events.Backend, wrapped in a
// circuit breaker when enabled.
// Parameters:
//   - ctx: context for client setup and in-process subscribers.
//   - cfg: full configuration; events and aws sections are used.
//   - log: logger for connection and delivery logs.
// Returns:
//   - *Bus: ready publisher.
//   - error: non-nil for an unknown backend or a failed connection.
func NewBus(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Bus, error) {
	var (
		pub     Publisher
		closeFn func() error
	)

	switch cfg.Events.Backend {
	case "eventbridge":
		client, err := NewEventBridgeClient(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		pub = NewEventBridgePublisher(client, cfg.Events.EventBus)
	case "nats":
		natsPub, err := NewNATSPublisher(cfg.Events.NATSURL, log)
		if err != nil {
			return nil, err
		}
		wp := NewWatermillPublisher(natsPub, "dishrank.")
		pub, closeFn = wp, wp.Close
	case "kafka":
		producer, err := NewKafkaProducer(cfg.Events.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		kp := NewKafkaPublisher(producer, cfg.Events.KafkaTopic)
		pub, closeFn = kp, kp.Close
	case "memory":
		ch := NewGoChannel(log)
		if err := LogDeliveries(ctx, ch, log, TypeImportBatchCompleted, TypeImportBatchFailed); err != nil {
			_ = ch.Close()
			return nil, err
		}
		wp := NewWatermillPublisher(ch, "")
		pub, closeFn = wp, wp.Close
	case "none", "":
		return &Bus{Publisher: Nop}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}

	if cfg.Events.Breaker.Enabled {
		pub = NewBreakerPublisher(pub, BreakerConfig{
			Name:             "events-" + cfg.Events.Backend,
			MaxFailures:      cfg.Events.Breaker.MaxFailures,
			OpenTimeout:      cfg.Events.Breaker.OpenTimeout,
			HalfOpenRequests: cfg.Events.Breaker.HalfOpenRequests,
		})
	}
	return &Bus{Publisher: pub, close: closeFn}, nil
}

// LogDeliveries subscribes to topics and logs every delivered envelope until
// ctx ends. It stands in for downstream consumers of an in-process bus.
func LogDeliveries(ctx context.Context, sub message.Subscriber, log *logger.Logger, topics ...string) error {
	for _, topic := range topics {
		msgs, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		go func(topic string, msgs <-chan *message.Message) {
			for msg := range msgs {
				log.WithFields(logger.Fields{
					"topic":             topic,
					logger.FieldTraceID: msg.Metadata.Get(MetadataTraceID),
				}).Infof("Event delivered: %s", string(msg.Payload))
				msg.Ack()
			}
		}(topic, msgs)
	}
	return nil
}
