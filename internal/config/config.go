package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cranesched/pluginhook/internal/hook"
)

type Plugin struct {
	Enabled          bool
	SocketPath       string        // e.g. /run/crane/cplugind.sock
	ConnectTimeout   time.Duration // Bound on each connectivity probe
	ReconnectBackoff time.Duration // Sleep while the daemon is unreachable
	IdlePoll         time.Duration // Sleep while the queue is empty
	CallTimeout      time.Duration // Per-RPC deadline, 0 disables
	KeepaliveTime    time.Duration // gRPC client keepalive, 0 disables
}

type DeadLetter struct {
	Enabled     bool
	NsqdTCPAddr string // e.g. nsqd:4150
	Topic       string // NSQ topic for dropped hook events
}

type FakePlugind struct {
	SocketPath    string        // Unix socket the fake daemon listens on
	FailFirstN    int           // Number of calls to fail initially
	FailCode      string        // gRPC code name returned for failed calls
	ResponseDelay time.Duration // Simulated handling delay
	HealthAddr    string        // HTTP address for /healthz and /metrics
}

type Config struct {
	AppName     string
	MetricsAddr string // :9102
	Plugin      Plugin
	DeadLetter  DeadLetter
	FakePlugind FakePlugind
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:     getenv("APP_NAME", "pluginhook"),
		MetricsAddr: getenv("METRICS_ADDR", ":9102"),
		Plugin: Plugin{
			Enabled:          getenvBool("PLUGIN_ENABLED", false),
			SocketPath:       getenv("PLUGIN_SOCKET_PATH", "/run/crane/cplugind.sock"),
			ConnectTimeout:   getenvDuration("PLUGIN_CONNECT_TIMEOUT", 3*time.Second),
			ReconnectBackoff: getenvDuration("PLUGIN_RECONNECT_BACKOFF", time.Second),
			IdlePoll:         getenvDuration("PLUGIN_IDLE_POLL", 100*time.Millisecond),
			CallTimeout:      getenvDuration("PLUGIN_CALL_TIMEOUT", 0),
			KeepaliveTime:    getenvDuration("PLUGIN_KEEPALIVE_TIME", 30*time.Second),
		},
		DeadLetter: DeadLetter{
			Enabled:     getenvBool("DLQ_ENABLED", false),
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			Topic:       getenv("DLQ_TOPIC", "plugin_hooks_dlq"),
		},
		FakePlugind: FakePlugind{
			SocketPath:    getenv("FAKE_PLUGIND_SOCKET_PATH", "/run/crane/cplugind.sock"),
			FailFirstN:    getenvInt("FAKE_PLUGIND_FAIL_FIRST_N", 0),
			FailCode:      strings.ToUpper(getenv("FAKE_PLUGIND_FAIL_CODE", "UNAVAILABLE")),
			ResponseDelay: getenvDuration("FAKE_PLUGIND_RESPONSE_DELAY", 0),
			HealthAddr:    getenv("FAKE_PLUGIND_HEALTH_ADDR", ":9103"),
		},
	}
}

// HookConfig returns the delivery worker timings. Zero durations fall back to
// the worker defaults, except CallTimeout where zero means no deadline.
func (p Plugin) HookConfig() hook.Config {
	cfg := hook.DefaultConfig()
	if p.ConnectTimeout > 0 {
		cfg.ConnectTimeout = p.ConnectTimeout
	}
	if p.ReconnectBackoff > 0 {
		cfg.ReconnectBackoff = p.ReconnectBackoff
	}
	if p.IdlePoll > 0 {
		cfg.IdlePoll = p.IdlePoll
	}
	cfg.CallTimeout = p.CallTimeout
	return cfg
}
