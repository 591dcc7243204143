// Package httpapi is the gateway's HTTP surface: request routing, the
// identity/access/routing pipeline, and the handlers for every exposed
// endpoint. It owns no business logic of its own beyond translating
// HTTP in and out of the access/catalog/router packages.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/toolgateway/internal/access"
	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/gwconfig"
	"github.com/erauner12/toolgateway/internal/identity"
	"github.com/erauner12/toolgateway/internal/metatools"
	"github.com/erauner12/toolgateway/internal/openapi"
	"github.com/erauner12/toolgateway/internal/registry"
	"github.com/erauner12/toolgateway/internal/router"
)

// Server holds every dependency the gateway's HTTP handlers need.
// Shared state is passed explicitly, never reached through globals.
type Server struct {
	Config   *gwconfig.Config
	Registry *registry.Registry
	Cache    *catalog.Cache
	Engine   *catalog.Engine
	Identity *identity.Resolver
	Access   *access.Resolver
	Exec     *router.Executor
	OpenAPI  *openapi.Emitter
	Meta     *metatools.Facade
	// Metrics is the optional /metrics exposition handler. Nil disables
	// the route entirely.
	Metrics http.Handler
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// isAdmin reports whether id may invoke administrative operations like
// POST /refresh: either the user-role admin flag or membership in the
// implicit MCP-Admin group.
func isAdmin(id identity.UserIdentity) bool {
	if id.Admin {
		return true
	}
	for _, g := range id.Groups {
		if g == access.AdminGroup {
			return true
		}
	}
	return false
}
