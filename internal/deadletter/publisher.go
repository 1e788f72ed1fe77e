// Package deadletter publishes hook events the plugin daemon rejected to an
// NSQ topic so they can be inspected or replayed.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/tracing"
)

// producer is the part of *nsq.Producer the publisher needs.
type producer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Publisher implements hook.DeadLetterSink on top of an NSQ producer.
type Publisher struct {
	producer producer
	topic    string
	now      func() time.Time
	logger   *logging.Logger
}

var _ hook.DeadLetterSink = (*Publisher)(nil)

func NewPublisher(nsqdAddr, topic string) (*Publisher, error) {
	p, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer for %s: %w", nsqdAddr, err)
	}
	return newPublisher(p, topic), nil
}

func newPublisher(p producer, topic string) *Publisher {
	return &Publisher{
		producer: p,
		topic:    topic,
		now:      time.Now,
		logger:   logging.New("plugin-dlq"),
	}
}

func (p *Publisher) Publish(ctx context.Context, ev hook.Event, cause error) error {
	env, err := NewEnvelope(ev, cause, p.now())
	if err != nil {
		return err
	}
	env.TraceHeaders = tracing.InjectHeaders(ctx)

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", p.topic))
	p.logger.WithContext(ctx).
		WithHook(env.Hook).
		WithEvent(env.EventID).
		WithField("topic", p.topic).
		Warn("[Plugin] Dropped hook event published to dead letter topic.")
	return nil
}

func (p *Publisher) Stop() {
	p.producer.Stop()
}
