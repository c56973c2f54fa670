package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/antoniostano/confidant/internal/auth"
	"github.com/antoniostano/confidant/internal/export"
	"github.com/antoniostano/confidant/internal/progress"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type checkinRequest struct {
	Mood   int    `json:"mood"`
	Stress int    `json:"stress"`
	Note   string `json:"note,omitempty"`
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "mood and stress required")
		return
	}
	userID, _ := auth.UserIDFrom(r.Context())
	checkin, err := s.progress.RecordCheckin(r.Context(), userID, progress.CheckinInput{
		Mood:   req.Mood,
		Stress: req.Stress,
		Note:   req.Note,
	})
	if err != nil {
		s.respondServiceError(w, err, "Failed to save check-in")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "checkin": checkin})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())
	p, err := s.progress.Progress(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch progress data")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "progress": p})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())
	h, err := s.progress.History(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch history")
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		progress.History
	}{Success: true, History: h})
}

func (s *Server) handleExportCheckins(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())
	checkins, err := s.progress.Checkins(r.Context(), userID, 0)
	if err != nil {
		s.respondServiceError(w, err, "Failed to export check-ins")
		return
	}
	// Render fully before writing headers so a failure can still be a JSON error.
	var buf bytes.Buffer
	if err := export.WriteCheckins(&buf, checkins, s.progress.Location()); err != nil {
		s.respondServiceError(w, err, "Failed to export check-ins")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(time.Now().In(s.progress.Location()))))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
