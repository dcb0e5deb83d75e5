// Package messaging provides a NATS client wrapper for the spam
// classification channel between the bot and the classifier worker. It
// handles connection lifecycle, the request/reply round trip on the bot
// side, and the subscription on the worker side.
package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectSpamCheck is the request/reply subject for spam classification.
const SubjectSpamCheck = "spam.check"

// NATSClient wraps the NATS connection with helper methods for the
// classification channel.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "warden",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// RequestSpamCheck sends a classification request and waits for the worker's
// reply. The deadline comes from ctx.
func (c *NATSClient) RequestSpamCheck(ctx context.Context, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, SubjectSpamCheck, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", SubjectSpamCheck, err)
	}
	return msg.Data, nil
}

// SubscribeSpamCheck registers the worker-side handler for classification
// requests. The handler's non-nil return value is sent back to the
// requester.
func (c *NATSClient) SubscribeSpamCheck(handler func(data []byte) []byte) error {
	sub, err := c.conn.Subscribe(SubjectSpamCheck, func(msg *nats.Msg) {
		resp := handler(msg.Data)
		if resp == nil {
			return
		}
		if err := msg.Respond(resp); err != nil {
			log.Printf("[nats] respond %s: %v", SubjectSpamCheck, err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectSpamCheck, err)
	}

	c.mu.Lock()
	c.subs[SubjectSpamCheck] = sub
	c.mu.Unlock()
	return nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
