package hook

import (
	"context"
	"fmt"

	"github.com/cranesched/pluginhook/internal/pluginapi"
)

// sendFunc delivers one payload through the hook service stub.
type sendFunc func(ctx context.Context, svc HookService, p Payload) error

var dispatchTable = map[Kind]sendFunc{
	KindStart:      sendStartHook,
	KindEnd:        sendEndHook,
	KindJobMonitor: sendJobMonitorHook,
}

func init() {
	for _, k := range Kinds {
		if _, ok := dispatchTable[k]; !ok {
			panic(fmt.Sprintf("hook: no send operation registered for %s", k))
		}
	}
}

// dispatch looks up the send operation for the payload's kind and runs it.
// An invalid payload is returned as an error, which the worker drops.
func dispatch(ctx context.Context, svc HookService, p Payload) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	f, ok := dispatchTable[p.Kind()]
	if !ok {
		panic(fmt.Sprintf("hook: unknown hook kind %d", int(p.Kind())))
	}
	return f(ctx, svc, p)
}

func mismatch(want Kind, p Payload) string {
	return fmt.Sprintf("hook: %s send operation got %T payload", want, p)
}

func sendStartHook(ctx context.Context, svc HookService, p Payload) error {
	sp, ok := p.(StartPayload)
	if !ok {
		panic(mismatch(KindStart, p))
	}
	_, err := svc.StartHook(ctx, &pluginapi.StartHookRequest{Jobs: sp.Jobs})
	return err
}

func sendEndHook(ctx context.Context, svc HookService, p Payload) error {
	ep, ok := p.(EndPayload)
	if !ok {
		panic(mismatch(KindEnd, p))
	}
	_, err := svc.EndHook(ctx, &pluginapi.EndHookRequest{Jobs: ep.Jobs})
	return err
}

func sendJobMonitorHook(ctx context.Context, svc HookService, p Payload) error {
	mp, ok := p.(JobMonitorPayload)
	if !ok {
		panic(mismatch(KindJobMonitor, p))
	}
	_, err := svc.JobMonitorHook(ctx, &pluginapi.JobMonitorHookRequest{
		JobID:  mp.JobID,
		Cgroup: mp.ResourceGroupPath,
	})
	return err
}
