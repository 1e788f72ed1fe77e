package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cranesched/pluginhook/internal/config"
	"github.com/cranesched/pluginhook/internal/deadletter"
	"github.com/cranesched/pluginhook/internal/health"
	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/metrics"
	"github.com/cranesched/pluginhook/internal/pluginapi"
	"github.com/cranesched/pluginhook/internal/tracing"
	"github.com/cranesched/pluginhook/internal/transport"
)

var (
	soakInterval    time.Duration
	soakRunning     int
	soakDuration    time.Duration
	soakMetricsAddr string
)

// soakCmd represents the soak command
var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Run a long-lived client that emits synthetic job hooks",
	Long: `Run the plugin client the way the scheduler does: configured from the
PLUGIN_* and DLQ_* environment, serving /healthz and /metrics, and producing a
synthetic job stream. Every interval a job starts and is monitored, and the
oldest job ends once more than --running jobs are active. With PLUGIN_ENABLED
unset or false no client is started and only /healthz and /metrics are served.

Example:
  PLUGIN_ENABLED=true PLUGIN_SOCKET_PATH=/tmp/plugind.sock hookctl soak --interval 50ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if soakInterval <= 0 {
			return fmt.Errorf("--interval must be positive, got %v", soakInterval)
		}
		if soakRunning < 0 {
			return fmt.Errorf("--running must not be negative, got %d", soakRunning)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if soakDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, soakDuration)
			defer cancel()
		}
		return runSoak(ctx, cmd, config.FromEnv())
	},
}

func runSoak(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	logger := logging.New("hookctl-soak")

	shutdownTracing, err := tracing.InitTracing(ctx, "hookctl-soak")
	if err != nil {
		logger.Plain().WithError(err).Warn("tracing disabled")
	} else {
		defer shutdownTracing()
	}

	socket := cfg.Plugin.SocketPath
	if rootCmd.PersistentFlags().Changed("socket") {
		socket = socketPath
	}
	addr := cfg.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = soakMetricsAddr
	}

	// With the plugin disabled no client exists and no hooks are raised,
	// as in the scheduler; /healthz still answers.
	var c *hook.Client
	var reporter health.Reporter
	if cfg.Plugin.Enabled {
		opts := []hook.Option{hook.WithConfig(cfg.Plugin.HookConfig())}
		if cfg.DeadLetter.Enabled {
			pub, err := deadletter.NewPublisher(cfg.DeadLetter.NsqdTCPAddr, cfg.DeadLetter.Topic)
			if err != nil {
				return err
			}
			defer pub.Stop()
			opts = append(opts, hook.WithDeadLetterSink(pub))
		}

		provider := transport.NewUnixProvider(transport.Options{KeepaliveTime: cfg.Plugin.KeepaliveTime})
		c = hook.New(provider, opts...)
		if err := c.Start(socket); err != nil {
			return fmt.Errorf("failed to start plugin client: %w", err)
		}
		defer c.Stop()
		reporter = c
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(reporter))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Error("HTTP serve")
		}
	}()
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	out := cmd.OutOrStdout()
	if c == nil {
		logger.Plain().Infof("plugin disabled, serving health on %s", lis.Addr())
		<-ctx.Done()
		fmt.Fprintln(out, "soak finished: plugin disabled, no hooks raised")
		return nil
	}
	logger.Plain().WithEndpoint(socket).Infof("soak running, metrics on %s", lis.Addr())

	gen := &jobStream{running: soakRunning}
	tick := time.NewTicker(soakInterval)
	defer tick.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-tick.C:
			gen.step(c, time.Now())
		}
	}

	c.Stop()
	fmt.Fprintf(out, "soak finished: %d jobs started, %d ended, %d hook events pending\n",
		gen.next, gen.ended, c.Pending())
	return nil
}

// jobStream produces a synthetic sequence of job lifecycles.
type jobStream struct {
	running int
	next    uint32
	ended   int
	active  []pluginapi.JobInfo
}

func (g *jobStream) step(c *hook.Client, now time.Time) {
	g.next++
	job := pluginapi.JobInfo{
		JobID:     g.next,
		Name:      fmt.Sprintf("soak-%d", g.next),
		User:      os.Getenv("USER"),
		Partition: "soak",
		Status:    "Running",
		StartTime: now,
	}
	c.StartHookAsync([]pluginapi.JobInfo{job})
	c.JobMonitorHookAsync(job.JobID, fmt.Sprintf("/sys/fs/cgroup/crane/job_%d", job.JobID))
	g.active = append(g.active, job)

	if len(g.active) > g.running {
		done := g.active[0]
		g.active = g.active[1:]
		done.Status = "Completed"
		done.EndTime = now
		c.EndHookAsync([]pluginapi.JobInfo{done})
		g.ended++
	}
}

func init() {
	rootCmd.AddCommand(soakCmd)
	soakCmd.Flags().DurationVar(&soakInterval, "interval", 100*time.Millisecond, "time between synthetic job starts")
	soakCmd.Flags().IntVar(&soakRunning, "running", 8, "number of synthetic jobs kept running")
	soakCmd.Flags().DurationVar(&soakDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	soakCmd.Flags().StringVar(&soakMetricsAddr, "metrics-addr", "", "HTTP address for /healthz and /metrics (default METRICS_ADDR)")
}
