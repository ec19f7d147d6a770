package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/timmy/dishrank/internal/logger"
)

// Message metadata keys set on every watermill message.
const (
	MetadataType    = "type"
	MetadataSource  = "source"
	MetadataTraceID = "trace_id"
)

// WatermillPublisher publishes envelopes through any watermill
// message.Publisher. The envelope type is used as the topic.
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string
}

// NewWatermillPublisher wraps pub. prefix is prepended to every topic.
func NewWatermillPublisher(pub message.Publisher, prefix string) *WatermillPublisher {
	return &WatermillPublisher{publisher: pub, prefix: prefix}
}

// Topic returns the topic an envelope of eventType is published to.
func (p *WatermillPublisher) Topic(eventType string) string {
	return p.prefix + eventType
}

// Publish marshals env and publishes it to its topic.
func (p *WatermillPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataType, env.Type)
	msg.Metadata.Set(MetadataSource, env.Source)
	msg.Metadata.Set(MetadataTraceID, env.Metadata.TraceID)

	if err := p.publisher.Publish(p.Topic(env.Type), msg); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// NewGoChannel creates an in-process pub/sub. Subscribers must subscribe
// before events are published; nothing is persisted.
func NewGoChannel(log *logger.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, NewWatermillLogger(log))
}

// NewNATSPublisher connects a core NATS publisher (JetStream disabled).
// Parameters:
//   - url: NATS server URL.
//   - log: logger for connection events.
// Returns:
//   - message.Publisher: watermill publisher; close it on shutdown.
//   - error: non-nil if the connection cannot be set up.
func NewNATSPublisher(url string, log *logger.Logger) (message.Publisher, error) {
	wlog := NewWatermillLogger(log)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				wlog.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wlog.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream:   wmnats.JetStreamConfig{Disabled: true},
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return pub, nil
}

// watermillLogger routes watermill's logs into our logger.
type watermillLogger struct {
	log *logger.Logger
}

// NewWatermillLogger adapts log to watermill.LoggerAdapter. A nil log uses
// the default logger.
func NewWatermillLogger(log *logger.Logger) watermill.LoggerAdapter {
	if log == nil {
		log = logger.GetDefault()
	}
	return &watermillLogger{log: log.WithField(logger.FieldComponent, "watermill")}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.WithFields(logger.Fields(fields)).WithError(err).Error(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.WithFields(logger.Fields(fields)).Info(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.WithFields(logger.Fields(fields)).Debug(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.WithFields(logger.Fields(fields)).Trace(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log.WithFields(logger.Fields(fields))}
}
