package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vaultcore/internal/planner"
	"vaultcore/internal/query"
)

func (s *Server) parseView(r *http.Request) (query.View, error) {
	return query.ParseView(r.URL.Query().Get("view"))
}

func (s *Server) listVaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"vaults": s.svc.Vaults()})
}

func (s *Server) getVault(w http.ResponseWriter, r *http.Request) {
	view, err := s.parseView(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := s.svc.VaultState(chi.URLParam(r, "vaultID"), view)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	view, err := s.parseView(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	positions, err := s.svc.Positions(chi.URLParam(r, "vaultID"), view)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	view, err := s.parseView(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	position, err := s.svc.Position(chi.URLParam(r, "vaultID"), chi.URLParam(r, "user"), view)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) listFaults(w http.ResponseWriter, r *http.Request) {
	faults, err := s.faults.ListOpen(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"faults": faults})
}

func (s *Server) ackFault(w http.ResponseWriter, r *http.Request) {
	faultID, err := uuid.Parse(chi.URLParam(r, "faultID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad fault id: %w", err))
		return
	}
	vaultID := chi.URLParam(r, "vaultID")

	// Resume the engine first; the durable record follows. If the engine
	// rejects the ack (wrong ID, not halted) nothing is recorded.
	if err := s.sup.Acknowledge(r.Context(), vaultID, faultID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err := s.faults.Acknowledge(r.Context(), faultID); err != nil {
		s.logger.Error().Err(err).Str("fault_id", faultID.String()).Msg("fault record not updated")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.LoadActive(r.Context(), chi.URLParam(r, "vaultID"), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")

	// Plans are computed against the head view so fresh deposits are
	// rebalanced without waiting out finality.
	status, err := s.svc.VaultState(vaultID, query.ViewHead)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if status.Halted {
		writeError(w, http.StatusConflict, fmt.Errorf("vault %s is halted", vaultID))
		return
	}

	snap, err := s.sup.Head(vaultID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// A valuation landing mid-build supersedes the inputs; the caller
	// retries against the fresh snapshot.
	planCtx, cancel, err := s.sup.PlanContext(vaultID, r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer cancel()
	plan, err := planner.BuildPlan(planCtx, snap.Ledger, s.slippage.Slippage(vaultID), s.plannerCfg, time.Now().UTC())
	if errors.Is(err, context.Canceled) {
		writeError(w, http.StatusConflict, fmt.Errorf("plan for %s superseded by a newer valuation", vaultID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if !plan.Empty() {
		if err := s.plans.Save(r.Context(), plan); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.metrics.PlansGenerated.WithLabelValues(vaultID).Inc()
		if s.planSink != nil {
			s.planSink.PublishPlan(plan)
		}
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) cancelPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad plan id: %w", err))
		return
	}
	if err := s.plans.SetStatus(r.Context(), planID, planner.StatusCancelled); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
