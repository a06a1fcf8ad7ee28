package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qualys/accessgraph/internal/models"
)

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("encoding response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getSummary serves the most recent run's organization summary.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.logger.Error("fetching latest run", "error", err)
		s.respondError(w, http.StatusInternalServerError, "fetching latest run")
		return
	}
	if run == nil {
		s.respondError(w, http.StatusNotFound, "no analysis runs recorded")
		return
	}
	s.respond(w, http.StatusOK, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), 50)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		s.respondError(w, http.StatusInternalServerError, "listing runs")
		return
	}
	s.respond(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Error("fetching run", "run_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "fetching run")
		return
	}
	if run == nil {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	s.respond(w, http.StatusOK, run)
}

func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	var flag *models.Flag
	if raw := r.URL.Query().Get("flag"); raw != "" {
		f := models.Flag(raw)
		switch f {
		case models.FlagCrossEnvironment, models.FlagAdministrative, models.FlagExtensiveAccess:
			flag = &f
		default:
			s.respondError(w, http.StatusBadRequest, "unknown flag")
			return
		}
	}

	findings, err := s.store.ListFindings(r.Context(), id, flag)
	if err != nil {
		s.logger.Error("listing findings", "run_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "listing findings")
		return
	}
	s.respond(w, http.StatusOK, findings)
}

func (s *Server) triggerAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		s.respondError(w, http.StatusServiceUnavailable, "analysis pipeline not configured")
		return
	}

	run, err := s.run(r.Context())
	if err != nil {
		s.logger.Error("analysis run failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusAccepted, run)
}
