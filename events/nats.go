// Package events announces completed upload batches over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Skryldev/image-ingest/core"
)

// Client owns the NATS connection shared by the event publisher and the
// secondary object store.
type Client struct{ nc *nats.Conn }

// Connect dials url and keeps reconnecting for the life of the process.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("image-ingest"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.nc }

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// MsgPublisher is the subset of *nats.Conn used by Publisher.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher publishes BatchEvent values as JSON.
type Publisher struct {
	conn    MsgPublisher
	subject string
}

// NewPublisher returns a Publisher writing to subject.
func NewPublisher(conn MsgPublisher, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// PublishBatch implements core.EventPublisher. The event ID travels in the
// Nats-Msg-Id header. Core NATS delivers it as plain metadata; only a
// JetStream stream capturing the subject drops repeats by it.
func (p *Publisher) PublishBatch(ctx context.Context, evt core.BatchEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode batch event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = b
	msg.Header.Set(nats.MsgIdHdr, evt.ID)
	msg.Header.Set("Upload-Type", evt.UploadType)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

var _ core.EventPublisher = (*Publisher)(nil)
