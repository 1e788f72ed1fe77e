package hook

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cranesched/pluginhook/internal/pluginapi"
)

var (
	ErrAlreadyStarted = errors.New("plugin client already started")
	ErrStopped        = errors.New("plugin client stopped")
	ErrEmptyEndpoint  = errors.New("plugin endpoint is empty")
)

// Channel is a connection to the plugin daemon. The provider owns reconnection;
// the client only probes it and builds a stub on top of it.
type Channel interface {
	grpc.ClientConnInterface

	// WaitForConnected reports whether the channel is ready, trying to
	// (re)connect until ctx is done.
	WaitForConnected(ctx context.Context) bool
	Close() error
}

// ChannelProvider opens channels to a named local endpoint.
type ChannelProvider interface {
	Connect(endpoint string) (Channel, error)
}

// HookService is the stub the delivery worker sends through.
type HookService = pluginapi.HookServiceClient

// DeadLetterSink receives events dropped after a non-retryable error.
type DeadLetterSink interface {
	Publish(ctx context.Context, ev Event, cause error) error
}

// IsUnavailable reports whether err means the daemon could not be reached.
// Only these failures are retried.
func IsUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}
