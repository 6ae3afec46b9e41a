package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Jacob-bach/Icarus/icarus/go/engine"
	"github.com/Jacob-bach/Icarus/icarus/go/store"
)

type spawnRequest struct {
	Task        string `json:"task"`
	ProjectPath string `json:"project_path"`
}

type spawnResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) spawnJob(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "spawn", http.StatusBadRequest, "malformed request body")
		return
	}
	if msg := validateSpawnRequest(req.Task, req.ProjectPath, s.maxTaskLength); msg != "" {
		s.writeError(w, "spawn", http.StatusBadRequest, msg)
		return
	}

	job, err := s.engine.Submit(r.Context(), req.Task, req.ProjectPath, s.maxTaskLength)
	if err != nil {
		s.writeEngineError(w, "spawn", err)
		return
	}

	s.writeJSON(w, "spawn", http.StatusCreated, spawnResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: "job accepted",
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			s.writeError(w, "list", http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	status := store.Status(r.URL.Query().Get("status"))

	jobs, err := s.engine.ListJobs(r.Context(), limit, status)
	if err != nil {
		s.writeError(w, "list", http.StatusInternalServerError, "listing jobs: "+err.Error())
		return
	}
	s.writeJSON(w, "list", http.StatusOK, jobs)
}

type statusResponse struct {
	JobID        string  `json:"job_id"`
	Status       string  `json:"status"`
	Task         string  `json:"task"`
	CreatedAt    string  `json:"created_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := s.engine.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeJobLookupError(w, "status", err)
		return
	}

	resp := statusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Task:         job.Task,
		CreatedAt:    job.CreatedAt.Format(timeFormat),
		ErrorMessage: job.ErrorMessage,
	}
	if job.CompletedAt != nil {
		formatted := job.CompletedAt.Format(timeFormat)
		resp.CompletedAt = &formatted
	}
	s.writeJSON(w, "status", http.StatusOK, resp)
}

type telemetryResponse struct {
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"`
	CPUUsage    float64 `json:"cpu_usage"`
	RAMUsageMB  float64 `json:"ram_usage_mb"`
	CurrentTool string  `json:"current_tool,omitempty"`
}

func (s *Server) jobTelemetry(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := s.engine.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeJobLookupError(w, "telemetry", err)
		return
	}

	resp := telemetryResponse{JobID: jobID, Status: string(job.Status)}
	sample, err := s.engine.Telemetry(r.Context(), jobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "telemetry", http.StatusInternalServerError, "reading telemetry: "+err.Error())
		return
	}
	if sample != nil {
		resp.CPUUsage = sample.CPUPercent
		resp.RAMUsageMB = sample.RAMMB
		resp.CurrentTool = sample.CurrentTool
	}
	s.writeJSON(w, "telemetry", http.StatusOK, resp)
}

type auditResponse struct {
	JobID       string      `json:"job_id"`
	AuditReport interface{} `json:"audit_report"`
	CreatedAt   string      `json:"created_at"`
}

func (s *Server) jobAudit(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	record, err := s.engine.Audit(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "audit", http.StatusNotFound, "no audit record for job")
			return
		}
		s.writeError(w, "audit", http.StatusInternalServerError, "reading audit record: "+err.Error())
		return
	}
	s.writeJSON(w, "audit", http.StatusOK, auditResponse{
		JobID:       record.JobID,
		AuditReport: record.Payload,
		CreatedAt:   record.CreatedAt.Format(timeFormat),
	})
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

type approveResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (s *Server) approveJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "approve", http.StatusBadRequest, "malformed request body")
		return
	}

	status, err := s.engine.Approve(r.Context(), jobID, req.Approved, req.Comment)
	if err != nil {
		s.writeEngineError(w, "approve", err)
		return
	}
	s.writeJSON(w, "approve", http.StatusOK, approveResponse{
		Message: "approval recorded",
		Status:  string(status),
	})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (s *Server) writeJobLookupError(w http.ResponseWriter, route string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, route, http.StatusNotFound, "job not found")
		return
	}
	s.writeError(w, route, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeEngineError(w http.ResponseWriter, route string, err error) {
	switch err.(type) {
	case *engine.ErrValidation:
		s.writeError(w, route, http.StatusBadRequest, err.Error())
	case *engine.ErrNotFound:
		s.writeError(w, route, http.StatusNotFound, err.Error())
	case *engine.ErrConflict:
		s.writeError(w, route, http.StatusConflict, err.Error())
	default:
		s.writeError(w, route, http.StatusInternalServerError, err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, route string, code int, message string) {
	s.recordOutcome(route, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, code int, v interface{}) {
	s.recordOutcome(route, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("encoding response for %s: %s", route, err)
	}
}
