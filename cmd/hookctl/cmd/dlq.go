package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/cranesched/pluginhook/internal/deadletter"
	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/transport"
)

var (
	replayChannel string
	replayIdle    time.Duration
)

// dlqCmd represents the dlq command
var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Work with hook events the plugin daemon rejected",
}

// dlqReplayCmd represents the dlq replay command
var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay dead-lettered hook events to the plugin daemon",
	Long: `Consume the dead letter topic and send every event to the plugin daemon
again. Consumption stops once no message has arrived for --idle or --timeout
passes; queued events are then given the rest of --timeout to drain.

Example:
  hookctl dlq replay --dlq-nsqd nsqd:4150 --socket /run/crane/cplugind.sock`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dlqAddr == "" {
			return fmt.Errorf("--dlq-nsqd is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		conf := nsq.NewConfig()
		conf.MaxInFlight = 64
		consumer, err := nsq.NewConsumer(dlqTopic, replayChannel, conf)
		if err != nil {
			return fmt.Errorf("nsq consumer creation failed: %w", err)
		}

		cfg := hook.DefaultConfig()
		cfg.CallTimeout = callTimeout
		cfg.ReconnectBackoff = reconnectBackoff
		c := hook.New(transport.NewUnixProvider(transport.Options{}), hook.WithConfig(cfg))
		if err := c.Start(socketPath); err != nil {
			return fmt.Errorf("failed to start plugin client: %w", err)
		}
		defer c.Stop()

		r := deadletter.NewReplayer(c)
		consumer.AddHandler(r)
		if err := consumer.ConnectToNSQD(dlqAddr); err != nil {
			return fmt.Errorf("connect to nsqd %s: %w", dlqAddr, err)
		}

		waitIdle(ctx, replayIdle, func() int64 { return r.Replayed() + r.Rejected() })
		consumer.Stop()
		<-consumer.StopChan

		waitDrained(ctx, c)
		res := map[string]any{
			"replayed": r.Replayed(),
			"rejected": r.Rejected(),
			"pending":  c.Pending(),
		}
		return printOutput(cmd.OutOrStdout(), res, func(w io.Writer) {
			fmt.Fprintf(w, "Replayed %d dead letters (%d rejected, %d still pending)\n",
				r.Replayed(), r.Rejected(), c.Pending())
		})
	},
}

// waitIdle returns once count has not changed for idle, or ctx is done.
func waitIdle(ctx context.Context, idle time.Duration, count func() int64) {
	tick := time.NewTicker(max(idle/4, time.Millisecond))
	defer tick.Stop()
	last, lastChange := count(), time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			if n := count(); n != last {
				last, lastChange = n, now
			} else if now.Sub(lastChange) >= idle {
				return
			}
		}
	}
}

// waitDrained polls until the client has nothing pending or ctx is done.
func waitDrained(ctx context.Context, c *hook.Client) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for c.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	dlqReplayCmd.Flags().StringVar(&replayChannel, "channel", "replay", "NSQ channel to consume the dead letter topic on")
	dlqReplayCmd.Flags().DurationVar(&replayIdle, "idle", 2*time.Second, "stop consuming after this long without messages")
}
