package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/cranesched/pluginhook/internal/config"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/pluginapi"
	"github.com/cranesched/pluginhook/internal/tracing"
)

var hooksReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fake_plugind_hooks_received_total",
		Help: "Hook calls received by the fake plugin daemon",
	},
	[]string{"hook", "result"}, // result: ok|failed
)

// server accepts every hook call, except that the first failFirstN calls
// fail with failCode.
type server struct {
	pluginapi.UnimplementedHookServiceServer

	failFirstN int64
	failCode   codes.Code
	delay      time.Duration
	calls      atomic.Int64
	logger     *logging.Logger
}

func newServer(cfg config.FakePlugind) (*server, error) {
	code, err := parseCode(cfg.FailCode)
	if err != nil {
		return nil, err
	}
	return &server{
		failFirstN: int64(cfg.FailFirstN),
		failCode:   code,
		delay:      cfg.ResponseDelay,
		logger:     logging.New("fake-plugind"),
	}, nil
}

// parseCode accepts a gRPC code name such as UNAVAILABLE or its number.
func parseCode(name string) (codes.Code, error) {
	raw := strconv.Quote(name)
	if _, err := strconv.Atoi(name); err == nil {
		raw = name
	}
	var c codes.Code
	if err := c.UnmarshalJSON([]byte(raw)); err != nil {
		return c, fmt.Errorf("unknown gRPC code %q", name)
	}
	if c == codes.OK {
		return c, errors.New("fail code must not be OK")
	}
	return c, nil
}

func (s *server) handle(ctx context.Context, hook string, entry *logging.LogEntry) error {
	n := s.calls.Add(1)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}

	if n <= s.failFirstN {
		entry.Warnf("FAILING (%d/%d) %s hook with %s", n, s.failFirstN, hook, s.failCode)
		hooksReceived.WithLabelValues(hook, "failed").Inc()
		return status.Errorf(s.failCode, "fake-plugind: failing call %d of %d", n, s.failFirstN)
	}

	entry.Infof("fake-plugind OK %s hook", hook)
	hooksReceived.WithLabelValues(hook, "ok").Inc()
	return nil
}

func (s *server) StartHook(ctx context.Context, r *pluginapi.StartHookRequest) (*pluginapi.StartHookReply, error) {
	entry := s.logger.WithContext(ctx).WithHook("START").WithField("jobs", len(r.Jobs))
	if err := s.handle(ctx, "START", entry); err != nil {
		return nil, err
	}
	return &pluginapi.StartHookReply{}, nil
}

func (s *server) EndHook(ctx context.Context, r *pluginapi.EndHookRequest) (*pluginapi.EndHookReply, error) {
	entry := s.logger.WithContext(ctx).WithHook("END").WithField("jobs", len(r.Jobs))
	if err := s.handle(ctx, "END", entry); err != nil {
		return nil, err
	}
	return &pluginapi.EndHookReply{}, nil
}

func (s *server) JobMonitorHook(ctx context.Context, r *pluginapi.JobMonitorHookRequest) (*pluginapi.JobMonitorHookReply, error) {
	entry := s.logger.WithContext(ctx).WithHook("JOB_MONITOR").WithJob(r.JobID).WithField("cgroup", r.Cgroup)
	if err := s.handle(ctx, "JOB_MONITOR", entry); err != nil {
		return nil, err
	}
	return &pluginapi.JobMonitorHookReply{}, nil
}

// newGRPCServer builds the daemon with the hook and health services registered.
func newGRPCServer(srv pluginapi.HookServiceServer) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.StatsHandler(tracing.GRPCServerHandler()),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	pluginapi.RegisterHookServiceServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus(pluginapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return net.Listen("unix", path)
}

func main() {
	ctx := context.Background()
	cfg := config.FromEnv()
	logger := logging.New("fake-plugind")

	shutdownTracing, err := tracing.InitTracing(ctx, "fake-plugind")
	if err != nil {
		logger.Plain().WithError(err).Warn("tracing disabled")
	} else {
		defer shutdownTracing()
	}

	srv, err := newServer(cfg.FakePlugind)
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid fake-plugind configuration")
	}

	lis, err := listenUnix(cfg.FakePlugind.SocketPath)
	if err != nil {
		logger.Plain().WithError(err).Fatalf("listen on %s", cfg.FakePlugind.SocketPath)
	}
	gs, hs := newGRPCServer(srv)
	go func() {
		logger.Plain().WithEndpoint(cfg.FakePlugind.SocketPath).Infof("fake-plugind listening, failing first %d calls with %s", srv.failFirstN, srv.failCode)
		if err := gs.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(hooksReceived)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.FakePlugind.HealthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("HTTP serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	hs.Shutdown()
	gs.GracefulStop()
	_ = httpSrv.Shutdown(ctx)
	_ = os.Remove(cfg.FakePlugind.SocketPath)
	logger.Plain().Info("fake-plugind stopped")
}
