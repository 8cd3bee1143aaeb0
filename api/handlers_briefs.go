package api

import (
	"net/http"

	"signal-scout/database"
)

var (
	one        = 1
	maxPage    = 200
	maxOffset  = 100000
	zeroOffset = 0
)

func (s *Server) handleGetBriefs(w http.ResponseWriter, r *http.Request) {
	tier := normalizeTier(r.URL.Query().Get("tier"))
	status := r.URL.Query().Get("status")
	limit := getIntParam(r, "limit", 50, &one, &maxPage)
	offset := getIntParam(r, "offset", 0, &zeroOffset, &maxOffset)

	briefs, err := s.repo.ListBriefs(status, limit, offset)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list briefs", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tier":   tier,
		"count":  len(briefs),
		"briefs": GateBriefs(briefs, tier),
	})
}

func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	tier := normalizeTier(r.URL.Query().Get("tier"))

	brief, err := s.repo.GetBrief(r.PathValue("id"))
	if err != nil {
		if database.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "Brief not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load brief", err)
		return
	}

	writeJSON(w, http.StatusOK, GateBrief(*brief, tier))
}
