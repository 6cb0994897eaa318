package api

import "net/http"

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Health(r.Context()); err != nil {
		s.logger.Warnw("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}
