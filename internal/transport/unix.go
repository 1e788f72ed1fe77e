// Package transport opens gRPC channels to the plugin daemon over a local
// unix domain socket.
package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/tracing"
)

type Options struct {
	// KeepaliveTime enables client pings after this much inactivity. Zero
	// leaves keepalive off.
	KeepaliveTime time.Duration

	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption
}

// UnixProvider implements hook.ChannelProvider. Channels are created lazily:
// Connect never blocks and never fails because the daemon is down.
type UnixProvider struct {
	opts   Options
	logger *logging.Logger
}

func NewUnixProvider(opts Options) *UnixProvider {
	return &UnixProvider{opts: opts, logger: logging.New("plugin-transport")}
}

func (p *UnixProvider) Connect(endpoint string) (hook.Channel, error) {
	if endpoint == "" {
		return nil, hook.ErrEmptyEndpoint
	}
	target := Target(endpoint)

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(tracing.GRPCClientHandler()),
	}
	if p.opts.KeepaliveTime > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    p.opts.KeepaliveTime,
			Timeout: p.opts.KeepaliveTime / 3,
		}))
	}
	dialOpts = append(dialOpts, p.opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create plugin channel for %s: %w", target, err)
	}
	p.logger.Plain().WithEndpoint(endpoint).Debugf("[Plugin] Channel created for %s", target)
	return &channel{ClientConn: conn}, nil
}

// Target turns a socket path into a gRPC dial target. Values that already
// carry the unix scheme are returned unchanged.
func Target(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "unix:"):
		return endpoint
	case filepath.IsAbs(endpoint):
		return "unix://" + endpoint
	default:
		return "unix:" + endpoint
	}
}

type channel struct {
	*grpc.ClientConn
}

// WaitForConnected kicks an idle channel and follows its state transitions
// until it is ready, shut down, or ctx expires.
func (c *channel) WaitForConnected(ctx context.Context) bool {
	for {
		state := c.GetState()
		switch state {
		case connectivity.Ready:
			return true
		case connectivity.Shutdown:
			return false
		case connectivity.Idle:
			c.Connect()
		}
		if !c.WaitForStateChange(ctx, state) {
			return false
		}
	}
}
