package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"pulse/internal/core"
	"pulse/internal/task"
)

// HealthResponse reports dependency health
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks"`
}

// AnalysisRequest is the body of POST /api/analysis/request
type AnalysisRequest struct {
	Target     string   `json:"target" validate:"required,max=300"`
	MaxReviews int      `json:"max_reviews,omitempty" validate:"omitempty,min=1,max=1000"`
	Sources    []string `json:"sources,omitempty" validate:"omitempty,max=2,dive,oneof=naver kakao"`
}

// SubmitResponse is returned once a task is accepted
type SubmitResponse struct {
	TaskID string         `json:"task_id"`
	State  core.TaskState `json:"state"`
}

// StatusResponse is the polling view of a task
type StatusResponse struct {
	TaskID    string         `json:"task_id"`
	State     core.TaskState `json:"state"`
	Stage     string         `json:"stage"`
	Percent   int            `json:"percent"`
	Error     string         `json:"error,omitempty"`
	StoreName string         `json:"store_name,omitempty"`
}

// PendingResponse is returned for results that are not ready yet
type PendingResponse struct {
	State   core.TaskState `json:"state"`
	Ready   bool           `json:"ready"`
	Percent int            `json:"percent"`
}

// ErrorResponse carries a single error detail
type ErrorResponse struct {
	Error string         `json:"error"`
	State core.TaskState `json:"state,omitempty"`
}

var serverStartTime = time.Now()

// handleHealth pings every configured store
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Uptime: time.Since(serverStartTime).Round(time.Second).String(), Checks: map[string]string{}}
	status := http.StatusOK
	for _, name := range names {
		if err := s.checks[name].Ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			resp.Checks[name] = "error"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	s.respondJSON(w, status, resp)
}

// handleSubmit handles POST /api/analysis/request
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Target = strings.TrimSpace(req.Target)
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	t, err := s.tasks.Submit(r.Context(), task.Request{
		Target:     req.Target,
		MaxReviews: req.MaxReviews,
		Sources:    req.Sources,
	})
	switch {
	case errors.Is(err, task.ErrInvalidRequest):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("Failed to submit task")
		s.respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	s.respondJSON(w, http.StatusAccepted, SubmitResponse{TaskID: t.ID, State: t.State})
}

// handleStatus handles GET /api/analysis/status/{taskID}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Status(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, StatusResponse{
		TaskID:    t.ID,
		State:     t.State,
		Stage:     t.Stage,
		Percent:   t.Percent,
		Error:     t.Error,
		StoreName: t.StoreName,
	})
}

// handleResult handles GET /api/analysis/result/{taskID}
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	t, result, err := s.tasks.Result(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondLookupError(w, err)
		return
	}

	switch t.State {
	case core.StateCompleted:
		s.respondJSON(w, http.StatusOK, result)
	case core.StateFailed:
		s.respondJSON(w, http.StatusConflict, ErrorResponse{Error: t.Error, State: t.State})
	default:
		s.respondJSON(w, http.StatusAccepted, PendingResponse{State: t.State, Ready: false, Percent: t.Percent})
	}
}

// handleLatest handles GET /api/analysis/latest
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	result, err := s.tasks.Latest(r.Context())
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleLogs handles GET /api/analysis/logs/{taskID}
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.tasks.Logs(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	if logs == nil {
		logs = []core.TaskLog{}
	}
	s.respondJSON(w, http.StatusOK, logs)
}

func (s *Server) respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrTaskNotFound):
		s.respondError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, core.ErrResultNotFound):
		s.respondError(w, http.StatusNotFound, "result not found")
	default:
		s.log.Error().Err(err).Msg("Lookup failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch field {
	case "maxreviews":
		field = "max_reviews"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return "unsupported source " + strings.TrimSpace(fe.Value().(string))
	}
	return field + " is invalid"
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
