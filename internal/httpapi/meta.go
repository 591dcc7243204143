package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/erauner12/toolgateway/internal/metatools"
)

type searchToolsReq struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

// MetaSearchTools implements POST /meta/search_tools.
func (s *Server) MetaSearchTools(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBoundedBody(w, r)
	if !ok {
		return
	}

	var req searchToolsReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	id := s.Identity.Resolve(r.Context(), r)

	results, err := s.Meta.SearchTools(r.Context(), id, req.Query, req.TopK)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, results)
}

type describeToolsReq struct {
	Names []string `json:"names"`
}

// MetaDescribeTools implements POST /meta/describe_tools.
func (s *Server) MetaDescribeTools(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBoundedBody(w, r)
	if !ok {
		return
	}

	var req describeToolsReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	id := s.Identity.Resolve(r.Context(), r)

	descriptions, err := s.Meta.DescribeTools(r.Context(), id, req.Names)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "describe failed")
		return
	}

	writeJSON(w, http.StatusOK, descriptions)
}

type callToolReq struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MetaCallTool implements POST /meta/call_tool.
func (s *Server) MetaCallTool(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBoundedBody(w, r)
	if !ok {
		return
	}

	var req callToolReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "missing tool name")
		return
	}
	if !s.Cache.Populated() {
		writeError(w, r, http.StatusServiceUnavailable, "catalog not yet populated")
		return
	}

	id := s.Identity.Resolve(r.Context(), r)

	result, err := s.Meta.CallTool(r.Context(), id, req.Name, req.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, metatools.ErrUnknownTool):
			writeError(w, r, http.StatusNotFound, "unknown tool")
		case errors.Is(err, metatools.ErrAccessDenied):
			writeError(w, r, http.StatusForbidden, "access denied")
		default:
			writeUpstreamError(w, r, err)
		}
		return
	}

	forwardResult(w, result)
}
