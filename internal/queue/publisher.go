package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultDialTimeout bounds connecting and the AMQP handshake, so an
// unreachable broker cannot hold up the search that triggered the event.
const DefaultDialTimeout = 2 * time.Second

// Publisher sends search-completed events to a durable queue on the default
// exchange. It dials per publish; the volume is one message per search.
type Publisher struct {
	URL         string
	Queue       string
	DialTimeout time.Duration
	Log         *zap.Logger
}

func NewPublisher(url, queue string, log *zap.Logger) *Publisher {
	if queue == "" {
		queue = DefaultSearchEventsQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{URL: url, Queue: queue, DialTimeout: DefaultDialTimeout, Log: log}
}

// dialTimeout is DialTimeout, shortened to the context deadline if that
// comes first.
func (p *Publisher) dialTimeout(ctx context.Context) time.Duration {
	d := p.DialTimeout
	if d <= 0 {
		d = DefaultDialTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// PublishSearchCompleted publishes ev as a persistent JSON message. Errors
// are logged and returned so the caller can ignore them.
func (p *Publisher) PublishSearchCompleted(ctx context.Context, ev SearchCompletedEvent) error {
	pub, err := newPublishing(ev, time.Now().UTC())
	if err != nil {
		p.Log.Warn("search event encode failed", zap.Error(err))
		return err
	}

	conn, err := amqp.DialConfig(p.URL, amqp.Config{
		Dial:      amqp.DefaultDial(p.dialTimeout(ctx)),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		p.Log.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		p.Log.Warn("rabbitmq queue declare failed", zap.String("queue", p.Queue), zap.Error(err))
		return err
	}

	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		p.Log.Warn("rabbitmq publish failed", zap.String("queue", p.Queue), zap.Error(err))
		return err
	}
	return nil
}

func newPublishing(v any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	}, nil
}
