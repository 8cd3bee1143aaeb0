package api

import (
	"net/http"

	"signal-scout/database"
)

func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	signalType := r.URL.Query().Get("type")
	minStrength := getFloatParam(r, "min_strength", 0)
	limit := getIntParam(r, "limit", 50, &one, &maxPage)
	offset := getIntParam(r, "offset", 0, &zeroOffset, &maxOffset)

	signals, err := s.repo.ListSignals(signalType, minStrength, limit, offset)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list signals", err)
		return
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	signal, err := s.repo.GetSignal(r.PathValue("id"))
	if err != nil {
		if database.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "Signal not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load signal", err)
		return
	}
	writeJSON(w, http.StatusOK, signal)
}

func (s *Server) handleGetBaselines(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 50, &one, &maxPage)
	offset := getIntParam(r, "offset", 0, &zeroOffset, &maxOffset)

	baselines, err := s.repo.ListBaselines(limit, offset)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list baselines", err)
		return
	}
	writeJSON(w, http.StatusOK, baselines)
}
