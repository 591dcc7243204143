package httpapi

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// ListServers implements GET /servers: the list of server IDs the
// caller may see, sorted for stable output.
func (s *Server) ListServers(w http.ResponseWriter, r *http.Request) {
	id := s.Identity.Resolve(r.Context(), r)

	set, err := s.Access.AccessSet(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "access lookup failed")
		return
	}

	ids := make([]string, 0, len(set))
	for serverID := range set {
		ids = append(ids, serverID)
	}
	sort.Strings(ids)

	writeJSON(w, http.StatusOK, ids)
}

type toolSummary struct {
	ToolName    string `json:"tool_name"`
	Description string `json:"description"`
}

// ListServerTools implements GET /{server_id}: tools for one server,
// filtered to what the caller may access. An unknown server_id and one
// the caller cannot see are both a 404, so the listing leaks nothing
// about servers outside the caller's access set.
func (s *Server) ListServerTools(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "server_id")
	id := s.Identity.Resolve(r.Context(), r)

	allowed, err := s.Access.Allowed(r.Context(), id, serverID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "access lookup failed")
		return
	}
	if !allowed {
		writeError(w, r, http.StatusNotFound, "unknown server")
		return
	}

	records := s.Cache.ForServer(serverID)
	out := make([]toolSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, toolSummary{ToolName: rec.Key.ToolName, Description: rec.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })

	writeJSON(w, http.StatusOK, out)
}
