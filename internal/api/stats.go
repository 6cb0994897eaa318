package api

import (
	"net/http"

	"globalstats/internal/service"
)

// authorize writes the rejection itself and reports whether the handler may continue.
func (s *server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if err := s.auth.Check(r.PathValue("admin_code")); err != nil {
		writeJSONAPIError(w, mapErrorWithLog(s.logger, err), s.logger)
		return false
	}
	return true
}

func (s *server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	stats, err := s.svc.Statistics(r.Context())
	if err != nil {
		writeJSONAPIError(w, mapErrorWithLog(s.logger, err), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats, s.logger)
}

func (s *server) handleUpdateStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	var payload service.UpdateRequest
	if err := decodeJSON(r, &payload); err != nil {
		s.logger.Warnw("invalid json", "err", err)
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), s.logger)
		return
	}
	if err := s.svc.UpdateStatistics(r.Context(), payload); err != nil {
		writeJSONAPIError(w, mapErrorWithLog(s.logger, err), s.logger)
		return
	}
	w.WriteHeader(http.StatusOK)
}
