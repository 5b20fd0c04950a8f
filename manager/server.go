// Package manager implements the HostLink manager daemon's HTTP control
// API: the endpoints controllers call to start and stop runtime host
// subprocesses.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostlink/hostlink/control"
	"github.com/hostlink/hostlink/host"
	"github.com/hostlink/hostlink/manager/processes"
)

// Lifecycle is the supervisor surface the control API needs. Satisfied by
// *processes.Supervisor.
type Lifecycle interface {
	Start(ctx context.Context, configFile string) (processes.StartResult, error)
	Stop(ctx context.Context, configFile string, timeoutMillis int) error
	RunningCount() int
	Sessions() []processes.SessionInfo
}

// Server serves the control API.
type Server struct {
	lifecycle Lifecycle
	secret    []byte
	logger    *slog.Logger

	registry        *prometheus.Registry
	controlRequests *prometheus.CounterVec
}

// NewServer creates a control API server. When secret is non-empty, every
// control request must carry a valid bearer control token.
func NewServer(lifecycle Lifecycle, secret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		lifecycle: lifecycle,
		secret:    secret,
		logger:    logger.With("component", "ControlAPI"),
		registry:  prometheus.NewRegistry(),
		controlRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostlink_control_requests_total",
			Help: "Control requests handled, by action and status code.",
		}, []string{"action", "status"}),
	}
	s.registry.MustRegister(s.controlRequests)
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hostlink_running_hosts",
		Help: "Runtime host subprocesses currently running.",
	}, func() float64 {
		return float64(lifecycle.RunningCount())
	}))
	return s
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.instrument("start", s.authRequired(s.handleStart)))
	mux.HandleFunc("/stop", s.instrument("stop", s.authRequired(s.handleStop)))
	mux.HandleFunc("/running", s.instrument("running", s.authRequired(s.handleRunning)))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// statusRecorder captures the status code written by a handler so the
// request counter can be labeled with it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.controlRequests.WithLabelValues(action, fmt.Sprintf("%d", recorder.status)).Inc()
		s.logger.Info("Control request",
			"action", action, "status", recorder.status, "remote", r.RemoteAddr, "duration", time.Since(start))
	}
}

// authRequired rejects requests without a valid bearer control token.
// Disabled when the server was built without a secret.
func (s *Server) authRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := control.Verify(s.secret, strings.TrimPrefix(header, "Bearer ")); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// startResponse is the wire shape the controller adopts: Output carries a
// JSON-encoded connection config describing the subprocess as it actually
// came up.
type startResponse struct {
	Started bool   `json:"started"`
	Output  string `json:"output"`
}

type stopResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}

	result, err := s.lifecycle.Start(r.Context(), params.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	output, err := json.Marshal(result.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, startResponse{Started: result.Started, Output: string(output)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}

	if err := s.lifecycle.Stop(r.Context(), params.Config, params.TimeoutMillis); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stopResponse{OK: true})
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.lifecycle.Sessions())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) decodeParams(w http.ResponseWriter, r *http.Request) (host.RequestParams, bool) {
	var params host.RequestParams
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return params, false
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return params, false
	}
	if params.Config == "" {
		http.Error(w, "config is required", http.StatusBadRequest)
		return params, false
	}
	return params, true
}

func (s *Server) writeJSON(w http.ResponseWriter, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
