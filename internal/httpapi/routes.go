package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the gateway's route table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	r.Get("/health", s.Health)
	r.Get("/openapi.json", s.GetOpenAPI)
	r.Get("/servers", s.ListServers)
	r.Post("/refresh", s.PostRefresh)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	r.Post("/meta/search_tools", s.MetaSearchTools)
	r.Post("/meta/describe_tools", s.MetaDescribeTools)
	r.Post("/meta/call_tool", s.MetaCallTool)

	// GET /{server_id} and POST /{server_id}/{tool_name}
	r.Get("/{server_id}", s.ListServerTools)
	r.Post("/{server_id}/{tool_name}", s.CallTool)
	// Deprecated flat-name form.
	r.Post("/{flat_name}", s.CallToolFlat)

	return r
}
