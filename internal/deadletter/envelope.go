package deadletter

import (
	"fmt"
	"time"

	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/pluginapi"
)

const DLQType = "plugin_hook.dlq"

// Envelope is the JSON body published for a dropped hook event.
type Envelope struct {
	Type         string            `json:"type"`    // "plugin_hook.dlq"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the event was dropped
	Reason       string            `json:"reason"`
	Hook         string            `json:"hook"` // START, END or JOB_MONITOR
	EventID      string            `json:"event_id"`
	EnqueuedAt   string            `json:"enqueued_at"`
	GRPCCode     string            `json:"grpc_code,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Payload      map[string]any    `json:"payload"` // wire form of the hook request, whole seconds
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func NewEnvelope(ev hook.Event, cause error, at time.Time) (Envelope, error) {
	payload, err := payloadMap(ev.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", ev.Kind(), err)
	}
	env := Envelope{
		Type:       DLQType,
		Version:    "v1",
		At:         at.UTC().Format(time.RFC3339Nano),
		Reason:     "rejected by plugin daemon",
		Hook:       ev.Kind().String(),
		EventID:    ev.ID,
		EnqueuedAt: ev.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
	if cause != nil {
		env.LastError = cause.Error()
		if s, ok := status.FromError(cause); ok {
			env.GRPCCode = s.Code().String()
			env.LastError = s.Message()
		}
	}
	return env, nil
}

func payloadMap(p hook.Payload) (map[string]any, error) {
	var (
		s   *structpb.Struct
		err error
	)
	switch v := p.(type) {
	case hook.StartPayload:
		s, err = (&pluginapi.StartHookRequest{Jobs: v.Jobs}).Proto()
	case hook.EndPayload:
		s, err = (&pluginapi.EndHookRequest{Jobs: v.Jobs}).Proto()
	case hook.JobMonitorPayload:
		s, err = (&pluginapi.JobMonitorHookRequest{JobID: v.JobID, Cgroup: v.ResourceGroupPath}).Proto()
	default:
		return nil, fmt.Errorf("unsupported payload %T", p)
	}
	if err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

// HookPayload rebuilds the hook payload carried by the envelope. The payload
// is stored in the daemon's wire form, which keeps job times and elapsed
// time in whole seconds, so a rebuilt payload loses any sub-second part.
func (e Envelope) HookPayload() (hook.Payload, error) {
	s, err := structpb.NewStruct(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	switch e.Hook {
	case hook.KindStart.String():
		r, err := pluginapi.StartHookRequestFromProto(s)
		if err != nil {
			return nil, err
		}
		return hook.StartPayload{Jobs: r.Jobs}, nil
	case hook.KindEnd.String():
		r, err := pluginapi.EndHookRequestFromProto(s)
		if err != nil {
			return nil, err
		}
		return hook.EndPayload{Jobs: r.Jobs}, nil
	case hook.KindJobMonitor.String():
		r, err := pluginapi.JobMonitorHookRequestFromProto(s)
		if err != nil {
			return nil, err
		}
		return hook.JobMonitorPayload{JobID: r.JobID, ResourceGroupPath: r.Cgroup}, nil
	default:
		return nil, fmt.Errorf("unknown hook %q", e.Hook)
	}
}
