package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"signal-scout/auth"
	"signal-scout/database"
)

const maxIngestBodyBytes = 10 << 20 // 10 MiB

// ingestRequest is the wire payload agents submit. The capture id is
// client-generated and doubles as the idempotency key.
type ingestRequest struct {
	CaptureID    string                `json:"capture_id"`
	SourceFeed   string                `json:"source_feed"`
	SourceType   string                `json:"source_type"`
	CapturedAt   time.Time             `json:"captured_at"`
	AgentVersion string                `json:"agent_version"`
	Signals      []database.SignalItem `json:"signals"`
	Metadata     database.MetadataMap  `json:"metadata,omitempty"`
}

type ingestResponse struct {
	CaptureID string `json:"capture_id"`
	Status    string `json:"status"` // accepted | duplicate
	ItemCount int    `json:"item_count"`
}

// handleIngest authenticates and stores one capture batch. The HMAC
// signature covers the raw request body; signature, timestamp, and
// nonce travel in headers so the signed bytes never include the
// signature itself.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Could not read request body", err)
		return
	}

	signature := r.Header.Get("X-Scout-Signature")
	nonce := r.Header.Get("X-Scout-Nonce")
	timestampStr := r.Header.Get("X-Scout-Timestamp")
	if signature == "" || nonce == "" || timestampStr == "" {
		respondWithError(w, http.StatusUnauthorized, "Missing authentication headers", nil)
		return
	}
	timestampMs, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Malformed timestamp header", err)
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed capture payload", err)
		return
	}
	if msg := s.validateIngest(&req); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg, nil)
		return
	}

	capture := &database.Capture{
		ID:           req.CaptureID,
		SourceFeed:   req.SourceFeed,
		SourceType:   req.SourceType,
		CapturedAt:   req.CapturedAt.UTC(),
		AgentVersion: req.AgentVersion,
		Signals:      req.Signals,
		Metadata:     req.Metadata,
		ItemCount:    len(req.Signals),
		Status:       database.CaptureStatusPending,
	}

	duplicate, err := s.guard.Admit(body, signature, timestampMs, nonce, capture)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrBadSignature),
			errors.Is(err, auth.ErrStaleTimestamp),
			errors.Is(err, auth.ErrReplayedNonce):
			respondWithError(w, http.StatusUnauthorized, err.Error(), nil)
		case errors.Is(err, auth.ErrRateLimited):
			respondWithError(w, http.StatusTooManyRequests, err.Error(), nil)
		default:
			respondWithError(w, http.StatusInternalServerError, "Capture admission failed", err)
		}
		return
	}

	status := "accepted"
	if duplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		CaptureID: capture.ID,
		Status:    status,
		ItemCount: capture.ItemCount,
	})
}

func (s *Server) validateIngest(req *ingestRequest) string {
	switch {
	case req.CaptureID == "":
		return "capture_id is required"
	case req.SourceFeed == "":
		return "source_feed is required"
	case req.SourceType == "":
		return "source_type is required"
	case req.CapturedAt.IsZero():
		return "captured_at is required"
	case len(req.Signals) == 0:
		return "signals must not be empty"
	case len(req.Signals) > s.cfg.Pipeline.MaxSignalsPerCapture:
		return "signals exceeds the per-capture limit"
	}
	return ""
}
