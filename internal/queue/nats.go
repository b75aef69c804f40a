package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"healthrecords-backend/internal/shared/telemetry"
)

// NATSOptions configures the NATS transport.
type NATSOptions struct {
	URL            string
	Subject        string
	QueueGroup     string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// NATSQueue publishes and consumes classification messages over core NATS.
// Delivery is at-most-once; documents orphaned by a lost message are picked
// up by the unfinished-document sweep.
type NATSQueue struct {
	conn       *nats.Conn
	subject    string
	queueGroup string
}

func NewNATS(opts NATSOptions) (*NATSQueue, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	if opts.QueueGroup == "" {
		opts.QueueGroup = "classifiers"
	}
	conn, err := nats.Connect(
		opts.URL,
		nats.Name("healthrecords-backend"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			telemetry.Warn("nats.disconnected", map[string]any{"error": err})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			telemetry.Info("nats.reconnected", map[string]any{"url": nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSQueue{conn: conn, subject: opts.Subject, queueGroup: opts.QueueGroup}, nil
}

func (q *NATSQueue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Send publishes msg on the configured subject.
func (q *NATSQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode nats message: %w", err)
	}
	if err := q.conn.Publish(q.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe delivers messages to handler through the queue group until ctx
// is canceled, then drains the subscription.
func (q *NATSQueue) Subscribe(ctx context.Context, handler func(context.Context, []byte)) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.queueGroup, func(m *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		handler(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

var _ Client = (*NATSQueue)(nil)

// Healthy reports whether the connection is currently usable.
func (q *NATSQueue) Healthy() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}
