package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/pluginapi"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type monitorServer struct {
	pluginapi.UnimplementedHookServiceServer

	mu   sync.Mutex
	jobs []uint32
}

func (s *monitorServer) JobMonitorHook(_ context.Context, r *pluginapi.JobMonitorHookRequest) (*pluginapi.JobMonitorHookReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, r.JobID)
	return &pluginapi.JobMonitorHookReply{}, nil
}

func (s *monitorServer) received() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.jobs...)
}

func socketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "plugind.sock")
}

func serve(t *testing.T, path string, srv pluginapi.HookServiceServer) {
	t.Helper()
	lis, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on %s: %v", path, err)
	}
	gs := grpc.NewServer()
	pluginapi.RegisterHookServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
}

func TestTarget(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"/run/crane/cplugind.sock", "unix:///run/crane/cplugind.sock"},
		{"run/cplugind.sock", "unix:run/cplugind.sock"},
		{"unix:///tmp/p.sock", "unix:///tmp/p.sock"},
		{"unix:p.sock", "unix:p.sock"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			if got := Target(tt.endpoint); got != tt.want {
				t.Errorf("Target(%q) = %q, want %q", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestConnect_EmptyEndpoint(t *testing.T) {
	_, err := NewUnixProvider(Options{}).Connect("")
	if !errors.Is(err, hook.ErrEmptyEndpoint) {
		t.Errorf("Connect(\"\") error = %v, want ErrEmptyEndpoint", err)
	}
}

func TestWaitForConnected_NoDaemon(t *testing.T) {
	ch, err := NewUnixProvider(Options{}).Connect(socketPath(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ch.WaitForConnected(ctx) {
		t.Error("WaitForConnected() = true with no daemon listening")
	}
}

func TestWaitForConnected_AfterClose(t *testing.T) {
	ch, err := NewUnixProvider(Options{}).Connect(socketPath(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if ch.WaitForConnected(ctx) {
		t.Error("WaitForConnected() = true on a closed channel")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("WaitForConnected() on a closed channel should return immediately")
	}
}

func TestWaitForConnected_DaemonUp(t *testing.T) {
	path := socketPath(t)
	srv := &monitorServer{}
	serve(t, path, srv)

	ch, err := NewUnixProvider(Options{KeepaliveTime: 30 * time.Second}).Connect(path)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !ch.WaitForConnected(ctx) {
		t.Fatal("WaitForConnected() = false with daemon listening")
	}

	stub := pluginapi.NewHookServiceClient(ch)
	if _, err := stub.JobMonitorHook(ctx, &pluginapi.JobMonitorHookRequest{JobID: 5, Cgroup: "/cg"}); err != nil {
		t.Fatalf("JobMonitorHook() error = %v", err)
	}
	if got := srv.received(); len(got) != 1 || got[0] != 5 {
		t.Errorf("daemon received %v, want [5]", got)
	}
}

func TestClient_DeliversOnceDaemonAppears(t *testing.T) {
	path := socketPath(t)
	c := hook.New(NewUnixProvider(Options{}), hook.WithConfig(hook.Config{
		ConnectTimeout:   100 * time.Millisecond,
		ReconnectBackoff: 20 * time.Millisecond,
		IdlePoll:         5 * time.Millisecond,
	}))
	if err := c.Start(path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	c.JobMonitorHookAsync(1, "/cg/1")
	c.JobMonitorHookAsync(2, "/cg/2")

	time.Sleep(50 * time.Millisecond)
	if c.Pending() != 2 {
		t.Fatalf("Pending() = %d before daemon starts, want 2", c.Pending())
	}

	srv := &monitorServer{}
	serve(t, path, srv)

	deadline := time.Now().Add(5 * time.Second)
	for c.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.received(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("daemon received %v, want [1 2]", got)
	}
	if !c.Connected() {
		t.Error("Connected() = false after delivery")
	}
}
