package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// Bus is a NATS connection owned by a single stage instance.
type Bus struct {
	conn     *nats.Conn
	executor *resilience.Executor
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string) (*Bus, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Bus, error) {
	name := options.Name
	if name == "" {
		name = "document-pipeline"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(options.RetryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "client", name, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "client", name, "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		executor: options.ResilienceExecutor,
	}, nil
}

func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		slog.Warn("nats_flush_on_close", "error", err)
	}
	b.conn.Close()
}

func (b *Bus) Publish(ctx context.Context, subject string, msg domain.Message) error {
	payload, err := domain.EncodeMessage(msg)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "encode message", err)
	}

	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Consume joins the queue group so instances of one stage share the subject
// without processing the same message twice.
func (b *Bus) Consume(_ context.Context, subject, group string) (ports.MessageConsumer, error) {
	sub, err := b.conn.QueueSubscribeSync(subject, group)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return &consumer{sub: sub}, nil
}

type consumer struct {
	sub *nats.Subscription
}

func (c *consumer) Next(ctx context.Context) (ports.InboundMessage, error) {
	msg, err := c.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return ports.InboundMessage{}, fmt.Errorf("%w: %w", ports.ErrConsumerClosed, err)
		}
		return ports.InboundMessage{}, err
	}
	return ports.InboundMessage{Subject: msg.Subject, Data: msg.Data}, nil
}

func (c *consumer) Close() error {
	if err := c.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}
