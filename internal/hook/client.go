// Package hook delivers job lifecycle notifications to the plugin daemon
// without blocking the scheduler code that raises them.
//
// Producers call StartHookAsync, EndHookAsync or JobMonitorHookAsync, which
// only build a payload and push it onto an in-memory queue. A single worker
// goroutine drains the queue while the daemon channel is connected and sends
// events one at a time. Events that fail because the daemon is unavailable are
// put back on the queue; events rejected for any other reason are dropped.
package hook

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"google.golang.org/grpc"

	"github.com/cranesched/pluginhook/internal/logging"
	"github.com/cranesched/pluginhook/internal/metrics"
	"github.com/cranesched/pluginhook/internal/pluginapi"
)

// State is the lifecycle state of the delivery worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the worker timing knobs.
type Config struct {
	ConnectTimeout   time.Duration // bound on each connectivity probe
	ReconnectBackoff time.Duration // sleep after a failed probe
	IdlePoll         time.Duration // sleep while the queue is empty
	CallTimeout      time.Duration // per-RPC deadline, zero means none
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   3 * time.Second,
		ReconnectBackoff: time.Second,
		IdlePoll:         100 * time.Millisecond,
	}
}

type Option func(*Client)

func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithClock replaces the clock used for sleeps and elapsed-time stamps.
func WithClock(clock clockz.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStubFactory overrides how the hook service stub is built on a channel.
func WithStubFactory(f func(grpc.ClientConnInterface) HookService) Option {
	return func(c *Client) { c.newStub = f }
}

func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(c *Client) { c.deadLetters = s }
}

// Client is the scheduler-side plugin hook client.
type Client struct {
	cfg         Config
	provider    ChannelProvider
	newStub     func(grpc.ClientConnInterface) HookService
	clock       clockz.Clock
	logger      *logging.Logger
	deadLetters DeadLetterSink
	queue       *Queue

	mu       sync.Mutex
	state    atomic.Int32
	endpoint string
	channel  Channel
	stub     HookService
	cancel   context.CancelFunc
	done     chan struct{}

	connected atomic.Bool
}

// New creates a client. Events may be produced before Start; they are held
// until the worker runs.
func New(provider ChannelProvider, opts ...Option) *Client {
	c := &Client{
		cfg:      DefaultConfig(),
		provider: provider,
		newStub: func(cc grpc.ClientConnInterface) HookService {
			return pluginapi.NewHookServiceClient(cc)
		},
		clock:  clockz.RealClock,
		logger: logging.New("plugin-client"),
		queue:  NewQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects to endpoint and spawns the delivery worker.
func (c *Client) Start(endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch State(c.state.Load()) {
	case StateRunning, StateStopping:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}
	if endpoint == "" {
		return ErrEmptyEndpoint
	}

	ch, err := c.provider.Connect(endpoint)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.endpoint = endpoint
	c.channel = ch
	c.stub = c.newStub(ch)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state.Store(int32(StateRunning))

	go c.run(ctx)
	return nil
}

// Stop signals the worker and waits for it to exit. There is no timeout: a
// send already in flight finishes first. Events still queued are abandoned.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if State(c.state.Load()) != StateRunning {
		return
	}
	c.state.Store(int32(StateStopping))
	c.logger.Plain().WithEndpoint(c.endpoint).Trace("[Plugin] Client is stopping, waiting for the worker to finish")
	c.cancel()
	<-c.done
	c.state.Store(int32(StateStopped))

	if err := c.channel.Close(); err != nil {
		c.logger.Plain().WithEndpoint(c.endpoint).WithError(err).Warn("[Plugin] Failed to close channel")
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connected reports the channel state seen by the worker's last probe.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Pending returns the number of events not yet sent or dropped.
func (c *Client) Pending() int {
	return c.queue.Pending()
}

// StartHookAsync queues a START hook for jobs.
func (c *Client) StartHookAsync(jobs []pluginapi.JobInfo) {
	c.enqueue(StartPayload{Jobs: slices.Clone(jobs)})
}

// EndHookAsync queues an END hook for jobs. Elapsed time is measured now,
// with a single clock read shared by the whole batch.
func (c *Client) EndHookAsync(jobs []pluginapi.JobInfo) {
	now := c.clock.Now()
	ended := make([]pluginapi.EndedJob, 0, len(jobs))
	for _, j := range jobs {
		ended = append(ended, pluginapi.EndedJob{
			JobInfo:     j,
			ElapsedTime: now.Sub(j.StartTime),
		})
	}
	c.enqueue(EndPayload{Jobs: ended})
}

// JobMonitorHookAsync queues a JOB_MONITOR hook for a single job.
func (c *Client) JobMonitorHookAsync(jobID uint32, cgroupPath string) {
	c.enqueue(JobMonitorPayload{JobID: jobID, ResourceGroupPath: cgroupPath})
}

// EnqueuePayload queues an already built payload, for example one replayed
// from the dead-letter topic. Pointer payloads are queued by value; nil is
// rejected with ErrInvalidPayload.
func (c *Client) EnqueuePayload(p Payload) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	c.enqueue(p)
	return nil
}

func (c *Client) enqueue(p Payload) {
	c.queue.Enqueue(Event{
		ID:         uuid.NewString(),
		Payload:    p,
		EnqueuedAt: c.clock.Now(),
	})
	metrics.RecordEnqueued(p.Kind().String())
	metrics.UpdateQueueDepth(c.queue.Len())
}
