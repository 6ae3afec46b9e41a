package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// callbackEnvelope is decoded once and then dispatched to exactly one of
// the three variants the worker protocol defines, discriminated by the
// presence and value of status. Per the spec's tagged-variant redesign
// note, any other status value is rejected rather than silently
// tolerated.
type callbackEnvelope struct {
	Status      *string     `json:"status"`
	Error       string      `json:"error"`
	AuditReport interface{} `json:"audit_report"`
	CurrentTool string      `json:"current_tool"`
	CPUUsage    float64     `json:"cpu_usage"`
	RAMUsageMB  float64     `json:"ram_usage_mb"`
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	var env callbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, "callback", http.StatusBadRequest, "malformed request body")
		return
	}

	switch {
	case env.Status == nil:
		s.callbacksTotal.WithLabelValues("progress").Inc()
		s.engine.OnProgress(r.Context(), jobID, env.CurrentTool, env.CPUUsage, env.RAMUsageMB)

	case *env.Status == "completed":
		s.callbacksTotal.WithLabelValues("completed").Inc()
		s.engine.OnCompletion(r.Context(), jobID, env.AuditReport)

	case *env.Status == "error":
		s.callbacksTotal.WithLabelValues("error").Inc()
		s.engine.OnError(r.Context(), jobID, env.Error)

	default:
		s.writeError(w, "callback", http.StatusBadRequest, "unknown status value: "+*env.Status)
		return
	}

	s.writeJSON(w, "callback", http.StatusOK, map[string]bool{"ok": true})
}
