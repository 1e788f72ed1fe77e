package hook

import (
	"errors"
	"fmt"
	"time"

	"github.com/cranesched/pluginhook/internal/pluginapi"
)

// Kind identifies which plugin hook an event is delivered to.
type Kind int

const (
	KindStart Kind = iota
	KindEnd
	KindJobMonitor
)

// Kinds lists every hook kind; the dispatch table must cover all of them.
var Kinds = []Kind{KindStart, KindEnd, KindJobMonitor}

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "START"
	case KindEnd:
		return "END"
	case KindJobMonitor:
		return "JOB_MONITOR"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidPayload is returned for a nil payload or a nil payload pointer.
var ErrInvalidPayload = errors.New("invalid hook payload")

// Payload is the closed set of hook payloads. The kind of an event is derived
// from its payload type, so the two can never disagree. Pointers to the
// payload types satisfy the interface too; normalize turns them into values.
type Payload interface {
	Kind() Kind
	isPayload()
}

// StartPayload carries the jobs that just started, copied at enqueue time.
type StartPayload struct {
	Jobs []pluginapi.JobInfo
}

// EndPayload carries finished jobs with their elapsed time fixed at enqueue time.
type EndPayload struct {
	Jobs []pluginapi.EndedJob
}

// JobMonitorPayload announces that a job's resource group can be monitored.
type JobMonitorPayload struct {
	JobID             uint32
	ResourceGroupPath string
}

func (StartPayload) Kind() Kind      { return KindStart }
func (EndPayload) Kind() Kind        { return KindEnd }
func (JobMonitorPayload) Kind() Kind { return KindJobMonitor }

func (StartPayload) isPayload()      {}
func (EndPayload) isPayload()        {}
func (JobMonitorPayload) isPayload() {}

// normalize returns p as one of the three value payload types.
func normalize(p Payload) (Payload, error) {
	switch v := p.(type) {
	case StartPayload, EndPayload, JobMonitorPayload:
		return v, nil
	case *StartPayload:
		if v != nil {
			return *v, nil
		}
	case *EndPayload:
		if v != nil {
			return *v, nil
		}
	case *JobMonitorPayload:
		if v != nil {
			return *v, nil
		}
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidPayload, p)
}

// Event is a queued hook notification. ID only correlates log lines and
// spans; a retried event keeps its ID, so the daemon may see it twice.
type Event struct {
	ID         string
	Payload    Payload
	EnqueuedAt time.Time
}

func (e Event) Kind() Kind {
	return e.Payload.Kind()
}
