package kernel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/routers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/aule-agent/internal/config"
	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/services"
)

const (
	defaultListLimit = 50
	maxBodyBytes     = 1 << 20
)

// Server exposes the agent service over HTTP.
type Server struct {
	logger   *slog.Logger
	agent    *services.AgentService
	bus      *services.EventBus
	settings *config.SettingsStore
	opts     Options
	router   routers.Router
	upgrader websocket.Upgrader
}

// Options configures access to the server.
type Options struct {
	// Secret is the bearer token required on mutating routes.
	Secret string
	// TrustLoopback lets connections from a loopback peer skip the secret.
	// Local development only.
	TrustLoopback bool
	// AllowedOrigins lists the browser origins that may open job sockets,
	// in addition to the server's own host.
	AllowedOrigins []string
}

// NewServer loads the embedded API document used for request validation.
func NewServer(
	ctx context.Context,
	logger *slog.Logger,
	agent *services.AgentService,
	bus *services.EventBus,
	settings *config.SettingsStore,
	opts Options,
) (*Server, error) {
	doc, err := loadSpec(ctx)
	if err != nil {
		return nil, err
	}
	router, err := newRouter(doc)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:   logger,
		agent:    agent,
		bus:      bus,
		settings: settings,
		opts:     opts,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}, nil
}

// Handler returns the routed and validated http.Handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(limitBody, mux.MiddlewareFunc(validateRequests(s.router)))

	r.Handle("/v1/agent/execute", s.requireSecret(http.HandlerFunc(s.handleExecute))).Methods(http.MethodPost)
	r.HandleFunc("/v1/agent/execute", s.handleHealth).Methods(http.MethodGet)

	r.Handle("/v1/jobs", s.requireSecret(http.HandlerFunc(s.handleCreateJob))).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.Handle("/v1/jobs/{id}/cancel", s.requireSecret(http.HandlerFunc(s.handleCancelJob))).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/stream", s.handleJobSSE).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/ws", s.handleJobWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/v1/settings/provider", s.handleGetSettings).Methods(http.MethodGet)
	r.Handle("/v1/settings/provider", s.requireSecret(http.HandlerFunc(s.handleUpdateSettings))).Methods(http.MethodPut)

	return r
}

// requireSecret accepts callers presenting the bearer secret, and loopback
// connections when the server trusts them. With no secret configured only
// trusted loopback callers get through.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.TrustLoopback && isLoopbackRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.opts.Secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Secret)) != 1 {
			s.logger.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLoopbackRequest looks at the connection's peer address only. Host and
// forwarding headers are client-controlled.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// --- agent execution ---

type executeRequest struct {
	JobID string `json:"job_id"`
	Async bool   `json:"async"`
}

type executeResponse struct {
	Success bool `json:"success"`
	services.ExecuteResult
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	id := domain.JobID(req.JobID)
	s.logger.Info("execution requested", "job_id", id, "async", req.Async)

	if req.Async {
		job, err := s.agent.Submit(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		res := services.ExecuteResult{JobID: id, Status: job.Status}
		status := http.StatusAccepted
		if job.Status.IsTerminal() {
			res.Message = fmt.Sprintf("Job already %s", job.Status)
			status = http.StatusOK
		} else {
			res.Message = "Job queued"
		}
		writeJSON(w, status, executeResponse{Success: true, ExecuteResult: res})
		return
	}

	res, err := s.agent.Execute(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{
		// nothing ran for an already terminal job, which is not a failure
		Success:       res.Success() || res.Message != "",
		ExecuteResult: res,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Health(r.Context()))
}

// --- jobs ---

type createJobRequest struct {
	services.CreateJobRequest
	Async bool `json:"async"`
}

// jobView is the API representation of a job, including its typed input.
type jobView struct {
	domain.Job
	Input domain.TaskInput `json:"input,omitempty"`
}

func viewOf(job domain.Job) jobView {
	return jobView{Job: job, Input: job.Input}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.agent.CreateJob(r.Context(), req.CreateJobRequest)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if req.Async {
		if _, err := s.agent.Submit(r.Context(), job.ID); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, viewOf(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.agent.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  views,
		"count": len(views),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.agent.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.agent.CancelJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	events, err := s.agent.ListJobEvents(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// jobID binds the {id} path parameter. On failure the response is written.
func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (domain.JobID, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", mux.Vars(r)["id"], &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Required:      true,
	})
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return "", false
	}
	return domain.JobID(id), true
}

// --- helpers ---

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, domain.ErrInvalidJobInput), errors.Is(err, domain.ErrUnknownJobType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobAlreadyRunning), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
