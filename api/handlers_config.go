package api

import (
	"net/http"
	"strconv"

	"signal-scout/database"
)

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Configuration Handlers (Webhooks Only)

func (s *Server) handleGetWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := s.repo.GetWebhooks()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list webhooks", err)
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var webhook database.BriefWebhook
	if err := decodeBody(r, &webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if webhook.URL == "" {
		respondWithError(w, http.StatusBadRequest, "url is required", nil)
		return
	}

	// Reset ID to let DB assign it
	webhook.ID = 0

	if err := s.repo.SaveWebhook(&webhook); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save webhook", err)
		return
	}

	// Refresh webhook manager cache
	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	writeJSON(w, http.StatusCreated, webhook)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", nil)
		return
	}

	var webhook database.BriefWebhook
	if err := decodeBody(r, &webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	webhook.ID = id // Ensure ID matches path
	if err := s.repo.SaveWebhook(&webhook); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save webhook", err)
		return
	}

	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	writeJSON(w, http.StatusOK, webhook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", nil)
		return
	}

	if err := s.repo.DeleteWebhook(id); err != nil {
		if database.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "Webhook not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to delete webhook", err)
		return
	}

	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	w.WriteHeader(http.StatusNoContent)
}
