package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
	"github.com/autopeer-io/obdverify/internal/verifier/controller"
	"github.com/autopeer-io/obdverify/internal/verifier/report"
	"github.com/autopeer-io/obdverify/pkg/log"
	"github.com/autopeer-io/obdverify/pkg/options"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run is the run exposed by the control API.
type Run interface {
	Name() string
	State() controller.State
	Stop()
}

// Summary provides the live view of the run's outcomes.
type Summary interface {
	Snapshot() report.Snapshot
}

// RunStatus is the body of GET /api/v1/run.
type RunStatus struct {
	Name  string           `json:"name"`
	State controller.State `json:"state"`
	report.Snapshot
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	run     Run
	summary Summary
}

// NewServer serves health probes, metrics and the control API of run.
func NewServer(opts *options.HttpOptions, run Run, summary Summary) *Server {
	s := &Server{options: opts, run: run, summary: summary}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", ok).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.ready).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/run", s.status).Methods(http.MethodGet)
	api.HandleFunc("/run/stop", s.stop).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ready reports ready while the run is in progress.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.run.State() != controller.StateRunning {
		http.Error(w, "run is "+string(s.run.State()), http.StatusServiceUnavailable)
		return
	}
	ok(w, r)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RunStatus{
		Name:     s.run.Name(),
		State:    s.run.State(),
		Snapshot: s.summary.Snapshot(),
	})
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	if s.run.State() != controller.StateRunning {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run is not in progress", "state": string(s.run.State())})
		return
	}
	log.Info("Stop requested over HTTP", "run", s.run.Name())
	s.run.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(s.run.State())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to write response")
	}
}
