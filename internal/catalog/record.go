// Package catalog is the tool cache and refresh engine: it discovers
// tools from every enabled upstream using a per-tier strategy, holds
// them behind a single read-write lock with an atomic compile-and-swap,
// and best-effort attaches embedding vectors.
package catalog

import "github.com/erauner12/toolgateway/internal/registry"

// Key is the composite (server_id, tool_name) primary key. Tool names
// may collide across servers; within one server they may not.
type Key struct {
	ServerID string
	ToolName string
}

// InputSchema is a structured, JSON-Schema-compatible description of a
// tool's parameters: names, types, and required flags.
type InputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]SchemaField `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

type SchemaField struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InvocationHint carries the per-tier detail the router needs to invoke
// a tool once it has been discovered.
type InvocationHint struct {
	// RPCMethod is non-empty for JSON-RPC tier tools (always "tools/call"
	// today, recorded for clarity and future per-tool overrides).
	RPCMethod string
	// HTTPVerb and HTTPPath describe an OpenAPI-discovered operation.
	HTTPVerb string
	HTTPPath string
}

// Record is one cached tool. Created during refresh and overwritten
// wholesale on the next refresh; after the swap only its Embedding is
// replaced in place, by the refresh's embedding step.
type Record struct {
	Key         Key
	Description string
	Schema      InputSchema
	Tier        registry.Tier
	Invocation  InvocationHint
	// Embedding is nil until the embedding provider has produced one;
	// absence never blocks name-based addressing.
	Embedding []float32
}

// QualifiedName is the "{server_id}_{tool_name}" form used by the
// meta-tools façade and the deprecated flat-route OpenAPI operations.
func (k Key) QualifiedName() string {
	return k.ServerID + "_" + k.ToolName
}
