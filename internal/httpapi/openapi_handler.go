package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// GetOpenAPI implements GET /openapi.json: the dynamic,
// per-caller-filtered OpenAPI 3.1 document, assembled fresh on every
// request.
func (s *Server) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	id := s.Identity.Resolve(r.Context(), r)

	doc, err := s.OpenAPI.Build(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("failed to build openapi document")
		writeError(w, r, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}
