package httpapi

import "net/http"

// PostRefresh implements POST /refresh: an admin-gated, out-of-band
// cache rebuild. Engine.Refresh serialises against the startup/other
// refreshes internally, so repeated calls are safe.
func (s *Server) PostRefresh(w http.ResponseWriter, r *http.Request) {
	id := s.Identity.Resolve(r.Context(), r)
	if !isAdmin(id) {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}

	if err := s.Engine.Refresh(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
