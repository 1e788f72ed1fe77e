// Package pluginapi defines the plugin daemon hook service: request types,
// their structpb wire encoding, and the gRPC client/server bindings.
package pluginapi

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// JobInfo describes a scheduler job as reported to the plugin daemon.
type JobInfo struct {
	JobID      uint32
	Name       string
	User       string
	Account    string
	Partition  string
	QoS        string
	NodeList   string
	Status     string
	ExitCode   uint32
	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time
}

// EndedJob is a JobInfo plus the elapsed run time computed when the end hook was raised.
type EndedJob struct {
	JobInfo
	ElapsedTime time.Duration
}

type StartHookRequest struct {
	Jobs []JobInfo
}

type EndHookRequest struct {
	Jobs []EndedJob
}

type JobMonitorHookRequest struct {
	JobID  uint32
	Cgroup string
}

type StartHookReply struct{}

type EndHookReply struct{}

type JobMonitorHookReply struct{}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnixSeconds(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

func (j JobInfo) asMap() map[string]any {
	return map[string]any{
		"task_id":     j.JobID,
		"name":        j.Name,
		"username":    j.User,
		"account":     j.Account,
		"partition":   j.Partition,
		"qos":         j.QoS,
		"node_list":   j.NodeList,
		"status":      j.Status,
		"exit_code":   j.ExitCode,
		"submit_time": unixSeconds(j.SubmitTime),
		"start_time":  unixSeconds(j.StartTime),
		"end_time":    unixSeconds(j.EndTime),
	}
}

func jobFromValue(v *structpb.Value) (JobInfo, error) {
	s := v.GetStructValue()
	if s == nil {
		return JobInfo{}, fmt.Errorf("job entry is %T, want struct", v.GetKind())
	}
	f := s.GetFields()
	return JobInfo{
		JobID:      uint32(f["task_id"].GetNumberValue()),
		Name:       f["name"].GetStringValue(),
		User:       f["username"].GetStringValue(),
		Account:    f["account"].GetStringValue(),
		Partition:  f["partition"].GetStringValue(),
		QoS:        f["qos"].GetStringValue(),
		NodeList:   f["node_list"].GetStringValue(),
		Status:     f["status"].GetStringValue(),
		ExitCode:   uint32(f["exit_code"].GetNumberValue()),
		SubmitTime: fromUnixSeconds(int64(f["submit_time"].GetNumberValue())),
		StartTime:  fromUnixSeconds(int64(f["start_time"].GetNumberValue())),
		EndTime:    fromUnixSeconds(int64(f["end_time"].GetNumberValue())),
	}, nil
}

func listField(s *structpb.Struct, key string) ([]*structpb.Value, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	l := v.GetListValue()
	if l == nil {
		return nil, fmt.Errorf("%s is not a list", key)
	}
	return l.GetValues(), nil
}

// Proto encodes the request as a structpb.Struct.
func (r *StartHookRequest) Proto() (*structpb.Struct, error) {
	list := make([]any, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		list = append(list, j.asMap())
	}
	return structpb.NewStruct(map[string]any{"task_info_list": list})
}

// Proto encodes the request as a structpb.Struct; elapsed time is sent in whole seconds.
func (r *EndHookRequest) Proto() (*structpb.Struct, error) {
	list := make([]any, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		m := j.asMap()
		m["elapsed_time"] = int64(j.ElapsedTime / time.Second)
		list = append(list, m)
	}
	return structpb.NewStruct(map[string]any{"task_info_list": list})
}

func (r *JobMonitorHookRequest) Proto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"task_id": r.JobID,
		"cgroup":  r.Cgroup,
	})
}

func StartHookRequestFromProto(s *structpb.Struct) (*StartHookRequest, error) {
	values, err := listField(s, "task_info_list")
	if err != nil {
		return nil, err
	}
	req := &StartHookRequest{Jobs: make([]JobInfo, 0, len(values))}
	for i, v := range values {
		j, err := jobFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("task_info_list[%d]: %w", i, err)
		}
		req.Jobs = append(req.Jobs, j)
	}
	return req, nil
}

func EndHookRequestFromProto(s *structpb.Struct) (*EndHookRequest, error) {
	values, err := listField(s, "task_info_list")
	if err != nil {
		return nil, err
	}
	req := &EndHookRequest{Jobs: make([]EndedJob, 0, len(values))}
	for i, v := range values {
		j, err := jobFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("task_info_list[%d]: %w", i, err)
		}
		elapsed := v.GetStructValue().GetFields()["elapsed_time"].GetNumberValue()
		req.Jobs = append(req.Jobs, EndedJob{
			JobInfo:     j,
			ElapsedTime: time.Duration(elapsed) * time.Second,
		})
	}
	return req, nil
}

func JobMonitorHookRequestFromProto(s *structpb.Struct) (*JobMonitorHookRequest, error) {
	f := s.GetFields()
	if _, ok := f["task_id"]; !ok {
		return nil, fmt.Errorf("task_id is required")
	}
	return &JobMonitorHookRequest{
		JobID:  uint32(f["task_id"].GetNumberValue()),
		Cgroup: f["cgroup"].GetStringValue(),
	}, nil
}
