// Package gateway is the HTTP surface of the control plane: job
// submission/query/approval, the worker callback ingress, and the
// per-job push channel. The Gateway is stateless -- every operation is
// delegated to the Engine or the Store.
package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Jacob-bach/Icarus/icarus/go/engine"
)

const (
	serverReadTimeout  = 5 * time.Minute
	serverWriteTimeout = 0 // streaming responses must not be cut off
)

// Server is the API Gateway.
type Server struct {
	router        *mux.Router
	engine        *engine.Engine
	log           *zap.SugaredLogger
	maxTaskLength int
	upgrader      websocket.Upgrader

	requestsTotal  *prometheus.CounterVec
	callbacksTotal *prometheus.CounterVec
}

// New builds a Server with every route registered. maxTaskLength <= 0
// disables the length check.
func New(eng *engine.Engine, maxTaskLength int, log *zap.SugaredLogger) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		engine:        eng,
		log:           log,
		maxTaskLength: maxTaskLength,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icarus_gateway_requests_total",
			Help: "Count of Gateway requests by route and outcome.",
		}, []string{"route", "outcome"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icarus_gateway_callbacks_total",
			Help: "Count of worker callbacks by variant.",
		}, []string{"variant"}),
	}
	prometheus.MustRegister(s.requestsTotal, s.callbacksTotal)

	s.router.HandleFunc("/jobs/spawn", s.spawnJob).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/status", s.jobStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/telemetry", s.jobTelemetry).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/audit", s.jobAudit).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{id}/approve", s.approveJob).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs/{id}/callback", s.callback).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs/{id}/stream", s.stream).Methods(http.MethodGet)

	return s
}

// Router exposes the underlying mux.Router, mainly for tests.
func (s *Server) Router() *mux.Router { return s.router }

// ListenAndServe starts the HTTP server on addr. It blocks until the
// server stops.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("gateway listening on %s", addr)
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    serverReadTimeout,
		WriteTimeout:   serverWriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return httpServer.ListenAndServe()
}

func (s *Server) recordOutcome(route string, status int) {
	outcome := "ok"
	if status >= 400 {
		outcome = "error"
	}
	s.requestsTotal.WithLabelValues(route, outcome).Inc()
}
