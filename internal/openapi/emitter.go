// Package openapi assembles the dynamic, per-caller-filtered OpenAPI 3.1
// document. A fresh document is built on every request; there is no
// cached rendering, since the filtered operation set depends on the
// caller's access set.
package openapi

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/identity"
)

// AccessSetter is the narrow slice of *access.Resolver the emitter needs.
type AccessSetter interface {
	AccessSet(ctx context.Context, id identity.UserIdentity) (map[string]struct{}, error)
}

// CatalogReader is the narrow slice of *catalog.Cache the emitter needs.
type CatalogReader interface {
	All() []catalog.Record
	ComponentsForServers(serverIDs []string) map[string]json.RawMessage
}

// Document is a minimal OpenAPI 3.1 document: just enough structure to
// describe the gateway's dynamically filtered operation set.
type Document struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Paths      map[string]PathItem `json:"paths"`
	Components *ComponentsObj      `json:"components,omitempty"`
}

type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// PathItem maps an HTTP method (lower-case) to its operation.
type PathItem map[string]Operation

type Operation struct {
	OperationID string                 `json:"operationId"`
	Summary     string                 `json:"summary,omitempty"`
	Deprecated  bool                   `json:"deprecated,omitempty"`
	RequestBody *RequestBody           `json:"requestBody,omitempty"`
	Responses   map[string]ResponseObj `json:"responses"`
}

type RequestBody struct {
	Required bool                 `json:"required"`
	Content  map[string]MediaType `json:"content"`
}

type MediaType struct {
	Schema json.RawMessage `json:"schema"`
}

type ResponseObj struct {
	Description string `json:"description"`
}

type ComponentsObj struct {
	Schemas map[string]json.RawMessage `json:"schemas,omitempty"`
}

// Emitter builds the filtered document, in expanded or meta-tools mode.
type Emitter struct {
	cache         CatalogReader
	access        AccessSetter
	metaToolsMode bool
	title         string
}

func NewEmitter(cache CatalogReader, access AccessSetter, metaToolsMode bool, title string) *Emitter {
	if title == "" {
		title = "Gateway API"
	}
	return &Emitter{cache: cache, access: access, metaToolsMode: metaToolsMode, title: title}
}

var okResponse = map[string]ResponseObj{"200": {Description: "OK"}}

// Build produces the document for one caller. Each permitted
// (server_id, tool_name) pair gets one nested operation and one
// deprecated flat-name operation, and no other pair appears; in
// meta-tools mode the document holds only the three meta operations.
func (e *Emitter) Build(ctx context.Context, id identity.UserIdentity) (*Document, error) {
	accessSet, err := e.access.AccessSet(ctx, id)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		OpenAPI: "3.1.0",
		Info:    Info{Title: e.title, Version: "1.0.0"},
		Paths:   map[string]PathItem{},
	}

	if e.metaToolsMode {
		addMetaToolsPaths(doc)
		return doc, nil
	}

	records := e.cache.All()
	sort.Slice(records, func(i, j int) bool {
		if records[i].Key.ServerID != records[j].Key.ServerID {
			return records[i].Key.ServerID < records[j].Key.ServerID
		}
		return records[i].Key.ToolName < records[j].Key.ToolName
	})

	var permittedServers []string
	seenServer := map[string]struct{}{}

	for _, r := range records {
		if _, ok := accessSet[r.Key.ServerID]; !ok {
			continue
		}
		if _, ok := seenServer[r.Key.ServerID]; !ok {
			seenServer[r.Key.ServerID] = struct{}{}
			permittedServers = append(permittedServers, r.Key.ServerID)
		}

		schema, _ := json.Marshal(r.Schema)
		reqBody := &RequestBody{
			Required: true,
			Content:  map[string]MediaType{"application/json": {Schema: schema}},
		}

		opID := r.Key.ServerID + "_" + r.Key.ToolName

		doc.Paths["/"+r.Key.ServerID+"/"+r.Key.ToolName] = PathItem{
			"post": Operation{
				OperationID: opID,
				Summary:     r.Description,
				RequestBody: reqBody,
				Responses:   okResponse,
			},
		}
		// Deprecated flat-name form, same request shape.
		doc.Paths["/"+opID] = PathItem{
			"post": Operation{
				OperationID: opID + "_flat",
				Summary:     r.Description,
				Deprecated:  true,
				RequestBody: reqBody,
				Responses:   okResponse,
			},
		}
	}

	if schemas := e.cache.ComponentsForServers(permittedServers); len(schemas) > 0 {
		doc.Components = &ComponentsObj{Schemas: schemas}
	}

	return doc, nil
}

func addMetaToolsPaths(doc *Document) {
	searchSchema, _ := json.Marshal(map[string]any{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"top_k": map[string]any{"type": "integer"},
		},
	})
	describeSchema, _ := json.Marshal(map[string]any{
		"type":     "object",
		"required": []string{"names"},
		"properties": map[string]any{
			"names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	})
	callSchema, _ := json.Marshal(map[string]any{
		"type":     "object",
		"required": []string{"name", "arguments"},
		"properties": map[string]any{
			"name":      map[string]any{"type": "string"},
			"arguments": map[string]any{"type": "object"},
		},
	})

	doc.Paths["/meta/search_tools"] = onePost("search_tools", searchSchema)
	doc.Paths["/meta/describe_tools"] = onePost("describe_tools", describeSchema)
	doc.Paths["/meta/call_tool"] = onePost("call_tool", callSchema)
}

func onePost(opID string, schema json.RawMessage) PathItem {
	return PathItem{
		"post": Operation{
			OperationID: opID,
			RequestBody: &RequestBody{
				Required: true,
				Content:  map[string]MediaType{"application/json": {Schema: schema}},
			},
			Responses: okResponse,
		},
	}
}
