// Package events delivers state-change events to subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ernie/mcauth/internal/domain"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(event domain.Event)
}

// Fanout delivers each event to every publisher in order
type Fanout []Publisher

// Publish implements Publisher
func (f Fanout) Publish(event domain.Event) {
	for _, p := range f {
		p.Publish(event)
	}
}

// NATSPublisher publishes events as JSON on <subject>.<event type>
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("mcauth"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish implements Publisher. Failures are logged and dropped.
func (p *NATSPublisher) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithField("event", event.Type).Error("Encoding event")
		return
	}
	if err := p.conn.Publish(p.subject+"."+event.Type, data); err != nil {
		log.WithError(err).WithField("event", event.Type).Warn("Publishing event to NATS")
	}
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
