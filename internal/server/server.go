// Package server exposes the read API and operator endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultcore/internal/core"
	"vaultcore/internal/fault"
	"vaultcore/internal/observability"
	"vaultcore/internal/planner"
	"vaultcore/internal/query"
)

// PlanStore is the slice of plan persistence the API needs.
type PlanStore interface {
	Save(ctx context.Context, p *planner.Plan) error
	SetStatus(ctx context.Context, planID uuid.UUID, status planner.Status) error
	LoadActive(ctx context.Context, vaultID string, now time.Time) ([]*planner.Plan, error)
}

// FaultStore is the slice of fault persistence the API needs.
type FaultStore interface {
	Acknowledge(ctx context.Context, faultID uuid.UUID) error
	ListOpen(ctx context.Context, vaultID string) ([]*fault.Fault, error)
}

// SlippageSource provides the planner's slippage estimates.
type SlippageSource interface {
	Slippage(vaultID string) map[string]int64
}

// PlanSink receives generated plans for downstream executors.
type PlanSink interface {
	PublishPlan(p *planner.Plan)
}

// Server binds the query service and operator actions to HTTP routes.
type Server struct {
	svc        *query.Service
	sup        *core.Supervisor
	plans      PlanStore
	faults     FaultStore
	slippage   SlippageSource
	planSink   PlanSink
	plannerCfg planner.Config
	health     *observability.Health
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func New(
	svc *query.Service,
	sup *core.Supervisor,
	plans PlanStore,
	faults FaultStore,
	slippage SlippageSource,
	planSink PlanSink,
	plannerCfg planner.Config,
	health *observability.Health,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	return &Server{
		svc:        svc,
		sup:        sup,
		plans:      plans,
		faults:     faults,
		slippage:   slippage,
		planSink:   planSink,
		plannerCfg: plannerCfg,
		health:     health,
		metrics:    metrics,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler())
	r.Get("/readyz", s.health.ReadinessHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/vaults", s.listVaults)
		r.Route("/vaults/{vaultID}", func(r chi.Router) {
			r.Get("/", s.getVault)
			r.Get("/positions", s.listPositions)
			r.Get("/positions/{user}", s.getPosition)
			r.Get("/faults", s.listFaults)
			r.Post("/faults/{faultID}/ack", s.ackFault)
			r.Get("/plans", s.listPlans)
			r.Post("/plans", s.createPlan)
		})
		r.Post("/plans/{planID}/cancel", s.cancelPlan)
	})
	return r
}

// Serve runs the HTTP server until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrNoPosition), errors.Is(err, core.ErrUnknownVault):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
