package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/tracing"
)

// Enqueuer accepts rebuilt payloads; *hook.Client satisfies it.
type Enqueuer interface {
	EnqueuePayload(p hook.Payload) error
}

// Replayer consumes the dead-letter topic and puts each event back on a
// client queue. Replayed events get a new event ID and their times are
// truncated to whole seconds; see Envelope.HookPayload.
type Replayer struct {
	target   Enqueuer
	logger   *logging.Logger
	replayed atomic.Int64
	rejected atomic.Int64
}

var _ nsq.Handler = (*Replayer)(nil)

func NewReplayer(target Enqueuer) *Replayer {
	return &Replayer{target: target, logger: logging.New("plugin-dlq-replay")}
}

// HandleMessage never asks NSQ to requeue: a body that cannot be replayed
// now will not become replayable later.
func (r *Replayer) HandleMessage(m *nsq.Message) error {
	if err := r.Replay(context.Background(), m.Body); err != nil {
		r.rejected.Add(1)
		r.logger.Plain().WithError(err).WithField("nsq_attempts", m.Attempts).Error("[Plugin] Dead letter could not be replayed.")
	}
	return nil
}

func (r *Replayer) Replay(ctx context.Context, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bad dead letter payload: %w", err)
	}
	if env.Type != DLQType {
		return fmt.Errorf("unexpected message type %q", env.Type)
	}

	ctx = tracing.ExtractHeaders(ctx, env.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "plugin.dlq_replay",
		attribute.String("hook", env.Hook),
		attribute.String("event_id", env.EventID),
	)
	defer span.End()

	p, err := env.HookPayload()
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("event %s: %w", env.EventID, err)
	}
	if err := r.target.EnqueuePayload(p); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("event %s: %w", env.EventID, err)
	}
	r.replayed.Add(1)

	r.logger.WithContext(ctx).
		WithHook(env.Hook).
		WithEvent(env.EventID).
		WithField("dropped_at", env.At).
		Info("[Plugin] Dead letter replayed.")
	return nil
}

// Replayed returns how many events were put back on the queue.
func (r *Replayer) Replayed() int64 { return r.replayed.Load() }

// Rejected returns how many messages could not be replayed.
func (r *Replayer) Rejected() int64 { return r.rejected.Load() }
