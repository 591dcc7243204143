package httpapi

import "net/http"

// Health implements GET /health: plain liveness, independent of cache
// population state.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
