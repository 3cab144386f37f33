// Package messaging forwards workflow events to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/event"
)

const defaultSubjectPrefix = "booking"

type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Config configures the NATS publisher
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSPublisher implements port.EventPublisher. Each event is published
// as JSON on <prefix>.<event type>, e.g. booking.workflow.finalized.
type NATSPublisher struct {
	conn   conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to the server in cfg.URL
func NewNATSPublisher(cfg Config, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "booking-approval"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.URL))
	return newNATSPublisher(nc, cfg.SubjectPrefix, logger), nil
}

func newNATSPublisher(c conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: c, prefix: prefix, logger: logger}
}

// Register subscribes the publisher to every event type
func (p *NATSPublisher) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, "nats", p.Publish)
}

// Publish sends the event. NATS publish does not take a context, so it is
// only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, evt *event.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("workflow_id", evt.WorkflowID),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subject returns the subject an event type is published on
func (p *NATSPublisher) Subject(t event.Type) string {
	return p.prefix + "." + t.String()
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Verify interface compliance
var _ port.EventPublisher = (*NATSPublisher)(nil)
