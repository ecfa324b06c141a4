// Package events publishes relayed stream frames to NATS so other processes
// can follow a conversation live.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RichardoC/mentorfy/internal/relay"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body published for every frame.
type Message struct {
	ConversationID string          `json:"conversation_id"`
	ExchangeID     string          `json:"exchange_id"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	Snapshot       relay.Snapshot  `json:"snapshot"`
}

type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

func NewPublisher(conn Conn, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject is the subject a conversation's frames are published on.
func (p *Publisher) Subject(conversationID string) string {
	return fmt.Sprintf("%s.%s", p.prefix, conversationID)
}

// Observe publishes the update. Failures are logged; the stream is never
// held up by the broker.
func (p *Publisher) Observe(u relay.Update) {
	data, err := json.Marshal(Message{
		ConversationID: u.ConversationID,
		ExchangeID:     u.ExchangeID,
		Event:          string(u.Frame.Event),
		Data:           u.Frame.Data,
		Snapshot:       u.Snapshot,
	})
	if err != nil {
		p.logger.Warn("Failed to marshal stream update", zap.Error(err))
		return
	}

	subject := p.Subject(u.ConversationID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish stream update",
			zap.String("subject", subject),
			zap.String("exchange_id", u.ExchangeID),
			zap.Error(err))
	}
}

// Connect dials NATS with reconnect handling logged through logger.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("mentorfy-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
