package api

import (
	"errors"
	"net/http"

	"signal-scout/database"
)

// handleRunPipeline triggers one synchronous pipeline run. A run already
// holding the lock yields 409; the caller should simply try again later.
func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Pipeline not available", nil)
		return
	}

	run, err := s.pipeline.Run(r.Context())
	if err != nil {
		if errors.Is(err, database.ErrPipelineBusy) {
			respondWithError(w, http.StatusConflict, "A pipeline run is already in progress", nil)
			return
		}
		if run != nil {
			// Run record exists but the run failed; return it with the error.
			writeJSON(w, http.StatusInternalServerError, run)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Pipeline run failed", err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRunMaintenance triggers one maintenance pass on demand.
func (s *Server) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.maintenance == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Maintenance not available", nil)
		return
	}
	s.maintenance.RunOnce()
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 20, &one, &maxPage)
	offset := getIntParam(r, "offset", 0, &zeroOffset, &maxOffset)

	runs, err := s.repo.ListRuns(limit, offset)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.repo.GetRun(r.PathValue("id"))
	if err != nil {
		if database.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "Run not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
