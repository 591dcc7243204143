package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/router"
)

// CallTool implements POST /{server_id}/{tool_name}.
func (s *Server) CallTool(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "server_id")
	toolName := chi.URLParam(r, "tool_name")
	s.invoke(w, r, serverID, toolName)
}

// CallToolFlat implements the deprecated flat-name form
// POST /{server_id}_{tool_name}: the qualified name is resolved against
// the cache since server IDs and tool names may themselves contain
// underscores. Only servers the caller may access are consulted; a name
// under a forbidden server's prefix is denied whether or not the tool
// exists, so the flat form leaks nothing the nested form would not.
func (s *Server) CallToolFlat(w http.ResponseWriter, r *http.Request) {
	flatName := chi.URLParam(r, "flat_name")

	if !s.Cache.Populated() {
		writeError(w, r, http.StatusServiceUnavailable, "catalog not yet populated")
		return
	}

	id := s.Identity.Resolve(r.Context(), r)
	set, err := s.Access.AccessSet(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "access lookup failed")
		return
	}

	denied := false
	for _, rec := range s.Cache.All() {
		if _, ok := set[rec.Key.ServerID]; ok {
			if rec.Key.QualifiedName() == flatName {
				s.invoke(w, r, rec.Key.ServerID, rec.Key.ToolName)
				return
			}
			continue
		}
		if strings.HasPrefix(flatName, rec.Key.ServerID+"_") {
			denied = true
		}
	}
	if denied {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}
	writeError(w, r, http.StatusNotFound, "unknown tool")
}

// invoke is the shared body of the two call handlers: verify access,
// verify existence, read the bounded body, execute, and forward the
// response verbatim. Access is checked before tool existence so a caller
// cannot probe the tool set of a server outside their access set by
// comparing 403 against 404.
func (s *Server) invoke(w http.ResponseWriter, r *http.Request, serverID, toolName string) {
	if !s.Cache.Populated() {
		writeError(w, r, http.StatusServiceUnavailable, "catalog not yet populated")
		return
	}

	id := s.Identity.Resolve(r.Context(), r)

	allowed, err := s.Access.Allowed(r.Context(), id, serverID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "access lookup failed")
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "access denied")
		return
	}

	if _, ok := s.Cache.Get(catalog.Key{ServerID: serverID, ToolName: toolName}); !ok {
		writeError(w, r, http.StatusNotFound, "unknown server or tool")
		return
	}

	body, ok := s.readBoundedBody(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.Exec.Execute(r.Context(), serverID, toolName, id.Groups, body)

	// Per-request log line: kind, caller email, upstream id, elapsed time.
	// Bodies, headers, and resolved credentials are never logged.
	logEvent := log.Ctx(r.Context()).Info()
	if err != nil {
		logEvent = log.Ctx(r.Context()).Warn().Err(err)
	}
	logEvent.
		Str("server_id", serverID).
		Str("tool_name", toolName).
		Str("caller_email", id.Email).
		Dur("elapsed", time.Since(start)).
		Msg("tool call")

	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}

	forwardResult(w, result)
}

// readBoundedBody enforces the configured request-body ceiling: exactly
// at the limit is accepted, one byte over is a 413. On overflow it
// writes the error response itself and returns ok=false.
func (s *Server) readBoundedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limited := http.MaxBytesReader(w, r.Body, s.Config.RequestBodyMaxBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

// writeUpstreamError maps router errors to HTTP status codes.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, router.ErrUnknownTool):
		writeError(w, r, http.StatusNotFound, "unknown server or tool")
	case errors.Is(err, router.ErrMalformedBody):
		writeError(w, r, http.StatusBadRequest, "request body failed schema validation")
	case errors.Is(err, router.ErrUpstreamTimeout):
		writeError(w, r, http.StatusGatewayTimeout, "upstream timeout")
	default:
		// router.ErrUpstreamBadGateway and anything else unexpected both
		// surface as 502.
		writeError(w, r, http.StatusBadGateway, "upstream error")
	}
}

// forwardResult writes a Result verbatim: JSON passthrough as-is,
// anything else as an opaque byte stream with Content-Type preserved.
func forwardResult(w http.ResponseWriter, result router.Result) {
	ct := result.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(result.Body)
}
