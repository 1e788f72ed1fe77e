package hook

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cranesched/pluginhook/internal/metrics"
	"github.com/cranesched/pluginhook/internal/tracing"
)

// run is the delivery loop. It exits once ctx is cancelled by Stop.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	prevConnected := false
	for {
		if ctx.Err() != nil {
			return
		}

		connected := c.probe(ctx)
		if connected && !prevConnected {
			c.logger.Plain().WithEndpoint(c.endpoint).Info("[Plugin] Plugind is connected.")
		} else if !connected && prevConnected {
			c.logger.Plain().WithEndpoint(c.endpoint).Warn("[Plugin] Plugind connection lost.")
		}
		prevConnected = connected
		c.connected.Store(connected)
		metrics.SetConnected(connected)

		if !connected {
			c.logger.Plain().WithEndpoint(c.endpoint).Debug("[Plugin] Plugind is not connected. Reconnecting...")
			if !c.sleep(ctx, c.cfg.ReconnectBackoff) {
				return
			}
			continue
		}

		approx := c.queue.Len()
		metrics.UpdateQueueDepth(approx)
		if approx == 0 {
			if !c.sleep(ctx, c.cfg.IdlePoll) {
				return
			}
			continue
		}

		batch := c.queue.TryDequeueBulk(approx)
		c.logger.Plain().WithEndpoint(c.endpoint).Debugf("[Plugin] Dequeued %d hook events.", len(batch))
		c.deliver(batch)
	}
}

// probe waits up to ConnectTimeout for the channel to become ready.
func (c *Client) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return c.channel.WaitForConnected(ctx)
}

// sleep waits for d and reports false if the worker was stopped meanwhile.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-c.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// deliver sends a batch front to back. On an unavailable daemon the failed
// event and everything after it go back on the queue and the batch ends.
// Any other failure drops just that event.
//
// Requeued events land behind whatever producers queued meanwhile, so order
// across a requeue is not preserved. Nothing delays the retry either: if the
// channel still probes as connected the same events are resent on the next
// iteration.
func (c *Client) deliver(batch []Event) {
	for i, ev := range batch {
		err := c.send(ev)
		if err == nil {
			c.logger.Plain().WithHook(ev.Kind().String()).WithEvent(ev.ID).Trace("[Plugin] Hook event sent.")
			c.queue.Ack(1)
			continue
		}

		c.logger.Plain().
			WithHook(ev.Kind().String()).
			WithEvent(ev.ID).
			WithEndpoint(c.endpoint).
			WithError(err).
			Error("[Plugin] Failed to send hook event.")

		if IsUnavailable(err) {
			rest := batch[i:]
			c.queue.EnqueueBulk(rest)
			c.queue.Ack(len(rest))
			metrics.RecordRequeued(len(rest))
			metrics.UpdateQueueDepth(c.queue.Len())
			return
		}

		metrics.RecordDropped(ev.Kind().String())
		c.deadLetter(ev, err)
		c.queue.Ack(1)
	}
}

// send performs one RPC with a fresh per-call context.
func (c *Client) send(ev Event) error {
	ctx := context.Background()
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	kind := ev.Kind().String()
	ctx, span := tracing.StartSpan(ctx, "plugin.send_hook",
		attribute.String("hook", kind),
		attribute.String("event_id", ev.ID),
		attribute.String("endpoint", c.endpoint),
	)
	defer span.End()

	c.logger.WithContext(ctx).WithHook(kind).WithEvent(ev.ID).Tracef("[Plugin] Sending %s hook.", kind)

	start := c.clock.Now()
	err := dispatch(ctx, c.stub, ev.Payload)
	latency := c.clock.Now().Sub(start)

	switch {
	case err == nil:
		metrics.RecordSend(kind, "ok", latency)
	case IsUnavailable(err):
		tracing.SetSpanError(ctx, err)
		metrics.RecordSend(kind, "unavailable", latency)
	default:
		tracing.SetSpanError(ctx, err)
		metrics.RecordSend(kind, "error", latency)
	}
	return err
}

func (c *Client) deadLetter(ev Event, cause error) {
	if c.deadLetters == nil {
		return
	}
	ctx, span := tracing.StartSpan(context.Background(), "plugin.dead_letter",
		attribute.String("hook", ev.Kind().String()),
		attribute.String("event_id", ev.ID),
	)
	defer span.End()

	if err := c.deadLetters.Publish(ctx, ev, cause); err != nil {
		tracing.SetSpanError(ctx, err)
		c.logger.WithContext(ctx).WithHook(ev.Kind().String()).WithEvent(ev.ID).WithError(err).Error("[Plugin] Failed to publish dropped hook event.")
	}
}
