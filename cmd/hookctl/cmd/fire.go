package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cranesched/pluginhook/internal/deadletter"
	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/transport"
)

// fireResult summarises one hookctl run.
type fireResult struct {
	Hook      string `json:"hook"`
	Queued    int    `json:"queued"`
	Pending   int    `json:"pending"`
	Connected bool   `json:"connected"`
	Elapsed   string `json:"elapsed"`
}

func (r fireResult) print(w io.Writer) {
	if r.Pending == 0 {
		fmt.Fprintf(w, "✓ %s hook delivered (%d queued) in %s\n", r.Hook, r.Queued, r.Elapsed)
		return
	}
	fmt.Fprintf(w, "✗ %s hook: %d of %d still pending after %s (connected=%v)\n",
		r.Hook, r.Pending, r.Queued, r.Elapsed, r.Connected)
}

// clientOptions builds the hook client options from the global flags.
func clientOptions() ([]hook.Option, func(), error) {
	cfg := hook.DefaultConfig()
	cfg.CallTimeout = callTimeout
	if reconnectBackoff > 0 {
		cfg.ReconnectBackoff = reconnectBackoff
	}
	opts := []hook.Option{hook.WithConfig(cfg)}

	cleanup := func() {}
	if dlqAddr != "" {
		pub, err := deadletter.NewPublisher(dlqAddr, dlqTopic)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, hook.WithDeadLetterSink(pub))
		cleanup = pub.Stop
	}
	return opts, cleanup, nil
}

// fire starts a client on the configured socket, queues hooks with enqueue
// and waits for the queue to drain or ctx to expire.
func fire(ctx context.Context, provider hook.ChannelProvider, kind hook.Kind, queued int, enqueue func(*hook.Client)) (fireResult, error) {
	opts, cleanup, err := clientOptions()
	if err != nil {
		return fireResult{}, err
	}
	defer cleanup()

	c := hook.New(provider, opts...)
	enqueue(c)

	start := time.Now()
	if err := c.Start(socketPath); err != nil {
		return fireResult{}, fmt.Errorf("failed to start plugin client: %w", err)
	}

	waitDrained(ctx, c)

	res := fireResult{
		Hook:      kind.String(),
		Queued:    queued,
		Pending:   c.Pending(),
		Connected: c.Connected(),
	}
	c.Stop()
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return res, nil
}

// runFire is the shared RunE body of the hook commands.
func runFire(w io.Writer, kind hook.Kind, queued int, enqueue func(*hook.Client)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	provider := transport.NewUnixProvider(transport.Options{})
	res, err := fire(ctx, provider, kind, queued, enqueue)
	if err != nil {
		return err
	}
	if err := printOutput(w, res, res.print); err != nil {
		return err
	}
	if res.Pending > 0 {
		return fmt.Errorf("%d hook event(s) not delivered", res.Pending)
	}
	return nil
}
