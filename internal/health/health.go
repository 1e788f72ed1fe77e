package health

import (
	"encoding/json"
	"net/http"

	"github.com/cranesched/pluginhook/internal/hook"
)

type Status struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	State     string `json:"state,omitempty"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
}

// Reporter is the view of the plugin client the handler reads.
type Reporter interface {
	State() hook.State
	Connected() bool
	Pending() int
}

// HTTPHandler returns an HTTP handler that reports the plugin client health.
// A nil reporter means the plugin client is disabled, which is healthy.
func HTTPHandler(r Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := Status{OK: true, Message: "plugin disabled"}

		if r != nil {
			state := r.State()
			st = Status{
				OK:        true,
				Message:   "ok",
				State:     state.String(),
				Connected: r.Connected(),
				Pending:   r.Pending(),
			}
			switch {
			case state != hook.StateRunning:
				st.OK = false
				st.Message = "plugin client not running"
			case !st.Connected:
				st.OK = false
				st.Message = "plugin daemon unreachable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
