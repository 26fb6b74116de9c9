// Package events publishes committed loan changes to NATS so other services
// (dashboards, reminder mailers) can follow the desk without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"uobsw2project/loans"

	"github.com/nats-io/nats.go"
)

// Publisher implements loans.Notifier on top of a NATS connection.
// Subjects are the event types, e.g. "loans.borrowed".
type Publisher struct {
	conn      *nats.Conn
	prefix    string
	published uint64
	dropped   uint64
}

var _ loans.Notifier = (*Publisher)(nil)

// Connect dials url and returns a publisher. prefix, when set, is prepended
// to every subject ("desk" gives "desk.loans.borrowed").
func Connect(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("loan-desk"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return NewPublisher(nc, prefix), nil
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{conn: nc, prefix: prefix}
}

func (p *Publisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Notify publishes ev as JSON. Failures are logged and counted; the loan
// change has already been committed.
func (p *Publisher) Notify(_ context.Context, ev loans.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		atomic.AddUint64(&p.dropped, 1)
		log.Printf("[events] encode %s: %v", ev.Type, err)
		return
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		atomic.AddUint64(&p.dropped, 1)
		log.Printf("[events] publish %s: %v", ev.Type, err)
		return
	}
	atomic.AddUint64(&p.published, 1)
}

// Stats returns how many events were published and dropped.
func (p *Publisher) Stats() (published, dropped uint64) {
	return atomic.LoadUint64(&p.published), atomic.LoadUint64(&p.dropped)
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
