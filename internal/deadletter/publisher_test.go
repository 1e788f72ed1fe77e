package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/pluginapi"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeProducer struct {
	mu      sync.Mutex
	topics  []string
	bodies  [][]byte
	err     error
	stopped bool
}

func (f *fakeProducer) Publish(topic string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeProducer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

var dropTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func monitorEvent() hook.Event {
	return hook.Event{
		ID:         "9f1c2f0e-6d7a-4d59-8f57-2f0d2d1f4b11",
		Payload:    hook.JobMonitorPayload{JobID: 42, ResourceGroupPath: "/sys/fs/cgroup/job_42"},
		EnqueuedAt: dropTime.Add(-time.Second),
	}
}

func TestNewEnvelope(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()

	tests := []struct {
		name     string
		ev       hook.Event
		cause    error
		wantHook string
		wantCode string
		wantErr  string
		check    func(t *testing.T, payload map[string]any)
	}{
		{
			name:     "job monitor rejected with status",
			ev:       monitorEvent(),
			cause:    status.Error(codes.FailedPrecondition, "cgroup not tracked"),
			wantHook: "JOB_MONITOR",
			wantCode: "FailedPrecondition",
			wantErr:  "cgroup not tracked",
			check: func(t *testing.T, payload map[string]any) {
				if payload["task_id"] != float64(42) || payload["cgroup"] != "/sys/fs/cgroup/job_42" {
					t.Errorf("payload = %v", payload)
				}
			},
		},
		{
			name: "end hook with plain error",
			ev: hook.Event{
				ID: "e-2",
				Payload: hook.EndPayload{Jobs: []pluginapi.EndedJob{{
					JobInfo:     pluginapi.JobInfo{JobID: 7, Name: "sim", StartTime: start},
					ElapsedTime: 90 * time.Second,
				}}},
			},
			cause:    errors.New("boom"),
			wantHook: "END",
			wantErr:  "boom",
			check: func(t *testing.T, payload map[string]any) {
				jobs, ok := payload["task_info_list"].([]any)
				if !ok || len(jobs) != 1 {
					t.Fatalf("task_info_list = %v", payload["task_info_list"])
				}
				job := jobs[0].(map[string]any)
				if job["task_id"] != float64(7) || job["elapsed_time"] != float64(90) {
					t.Errorf("job = %v", job)
				}
			},
		},
		{
			name:     "start hook without cause",
			ev:       hook.Event{ID: "e-3", Payload: hook.StartPayload{Jobs: []pluginapi.JobInfo{{JobID: 1}}}},
			wantHook: "START",
			check: func(t *testing.T, payload map[string]any) {
				if _, ok := payload["task_info_list"]; !ok {
					t.Errorf("payload = %v", payload)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.ev, tt.cause, dropTime)
			if err != nil {
				t.Fatalf("NewEnvelope() error = %v", err)
			}
			if env.Type != DLQType || env.Version != "v1" {
				t.Errorf("Type/Version = %q/%q", env.Type, env.Version)
			}
			if env.At != "2024-05-06T07:08:09Z" {
				t.Errorf("At = %q", env.At)
			}
			if env.Hook != tt.wantHook || env.EventID != tt.ev.ID {
				t.Errorf("Hook/EventID = %q/%q", env.Hook, env.EventID)
			}
			if env.GRPCCode != tt.wantCode {
				t.Errorf("GRPCCode = %q, want %q", env.GRPCCode, tt.wantCode)
			}
			if env.LastError != tt.wantErr {
				t.Errorf("LastError = %q, want %q", env.LastError, tt.wantErr)
			}
			tt.check(t, env.Payload)
		})
	}
}

func TestPublisher_Publish(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanRecorder(tracetest.NewSpanRecorder()))
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "plugin.dead_letter")
	defer span.End()

	fp := &fakeProducer{}
	p := newPublisher(fp, "plugin_hooks_dlq")
	p.now = func() time.Time { return dropTime }

	cause := status.Error(codes.InvalidArgument, "bad cgroup")
	if err := p.Publish(ctx, monitorEvent(), cause); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(fp.bodies) != 1 || fp.topics[0] != "plugin_hooks_dlq" {
		t.Fatalf("published %d messages to %v", len(fp.bodies), fp.topics)
	}
	var env Envelope
	if err := json.Unmarshal(fp.bodies[0], &env); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if env.EventID != monitorEvent().ID || env.GRPCCode != "InvalidArgument" {
		t.Errorf("envelope = %+v", env)
	}
	traceparent := env.TraceHeaders["traceparent"]
	if !strings.Contains(traceparent, span.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q, want trace id %s", traceparent, span.SpanContext().TraceID())
	}
}

func TestPublisher_PublishError(t *testing.T) {
	fp := &fakeProducer{err: errors.New("nsqd down")}
	p := newPublisher(fp, "dlq")

	err := p.Publish(context.Background(), monitorEvent(), errors.New("rejected"))
	if err == nil || !strings.Contains(err.Error(), "nsqd down") {
		t.Errorf("Publish() error = %v, want wrapped producer error", err)
	}
}

func TestPublisher_Stop(t *testing.T) {
	fp := &fakeProducer{}
	newPublisher(fp, "dlq").Stop()
	if !fp.stopped {
		t.Error("Stop() did not stop the producer")
	}
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher("127.0.0.1:4150", "plugin_hooks_dlq")
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	p.Stop()
}
