package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// Check is one named readiness check, e.g. a MongoDB or PostgreSQL ping.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Report is the /ready response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Server exposes liveness, readiness and Prometheus metrics on a side port,
// apart from the game API.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	checks     []Check
}

// New builds the observability server. With no checks /ready always passes.
func New(addr string, l *logger.Logger, checks ...Check) *Server {
	s := &Server{logger: l, checks: checks}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.evaluate(r.Context())

	code := http.StatusOK
	if report.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}

func (s *Server) evaluate(ctx context.Context) Report {
	report := Report{Status: "ready"}
	if len(s.checks) == 0 {
		return report
	}

	report.Checks = make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Run(cctx)
		cancel()

		if err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			report.Checks[c.Name] = err.Error()
			report.Status = "not ready"
			continue
		}
		report.Checks[c.Name] = "ok"
	}
	return report
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting observability server", zap.String("addr", s.httpServer.Addr), zap.Int("checks", len(s.checks)))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
