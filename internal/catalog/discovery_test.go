package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erauner12/toolgateway/internal/registry"
)

func descriptorFor(t *testing.T, serverID string, tier registry.Tier, endpoint string) registry.ServerDescriptor {
	t.Helper()
	return registry.BuildDescriptor(serverID, serverID, "", tier, endpoint, "disc-cred", nil, true)
}

func TestDiscoverOpenAPIWalksPostOperations(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi.json" {
			t.Errorf("expected /openapi.json, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer disc-cred" {
			t.Errorf("expected default credential on discovery, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"paths": {
				"/create_issue": {
					"post": {
						"summary": "Create an issue",
						"requestBody": {"content": {"application/json": {"schema": {
							"type": "object",
							"properties": {"title": {"type": "string"}},
							"required": ["title"]
						}}}}
					},
					"get": {"summary": "ignored"}
				},
				"/health": {"get": {"summary": "ignored, no post"}}
			},
			"components": {"schemas": {"Issue": {"type": "object"}}}
		}`))
	}))
	defer upstream.Close()

	d := NewHTTPDiscoverer(upstream.Client())
	result, err := d.Discover(context.Background(), descriptorFor(t, "github", registry.TierDirectHTTPOpenAPI, upstream.URL))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record (only POST operations), got %d", len(result.Records))
	}
	r := result.Records[0]
	if r.Key.ToolName != "create_issue" {
		t.Errorf("unexpected tool name %q", r.Key.ToolName)
	}
	if r.Description != "Create an issue" {
		t.Errorf("expected summary fallback description, got %q", r.Description)
	}
	if r.Schema.Properties["title"].Type != "string" {
		t.Errorf("expected title:string in schema, got %+v", r.Schema)
	}
	if len(r.Schema.Required) != 1 || r.Schema.Required[0] != "title" {
		t.Errorf("expected required [title], got %v", r.Schema.Required)
	}
	if _, ok := result.ComponentSchemas["Issue"]; !ok {
		t.Error("expected component schemas carried through discovery")
	}
}

func TestDiscoverOpenAPIRejectsDuplicateToolNames(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Two paths whose last segment collides within one server.
		w.Write([]byte(`{"paths": {
			"/v1/list_dir": {"post": {}},
			"/v2/list_dir": {"post": {}}
		}}`))
	}))
	defer upstream.Close()

	d := NewHTTPDiscoverer(upstream.Client())
	_, err := d.Discover(context.Background(), descriptorFor(t, "fs", registry.TierDirectHTTPOpenAPI, upstream.URL))
	if !errors.Is(err, ErrDuplicateToolName) {
		t.Fatalf("expected ErrDuplicateToolName, got %v", err)
	}
}

func TestDiscoverOpenAPIMalformedDocumentFails(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer upstream.Close()

	d := NewHTTPDiscoverer(upstream.Client())
	if _, err := d.Discover(context.Background(), descriptorFor(t, "bad", registry.TierDirectHTTPOpenAPI, upstream.URL)); err == nil {
		t.Fatal("expected error for malformed openapi.json")
	}
}

func TestDiscoverJSONRPCToolsList(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[
			{"name":"create_issue","description":"Create a new issue",
			 "inputSchema":{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}}
		]}}`))
	}))
	defer upstream.Close()

	d := NewHTTPDiscoverer(upstream.Client())
	result, err := d.Discover(context.Background(), descriptorFor(t, "linear", registry.TierJSONRPCStreamable, upstream.URL))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result.Records))
	}
	r := result.Records[0]
	if r.Key.ServerID != "linear" || r.Key.ToolName != "create_issue" {
		t.Errorf("unexpected key %+v", r.Key)
	}
	if r.Schema.Properties["title"].Type != "string" {
		t.Errorf("expected title:string, got %+v", r.Schema)
	}
	if len(r.Schema.Required) != 1 || r.Schema.Required[0] != "title" {
		t.Errorf("expected required [title], got %v", r.Schema.Required)
	}
	if r.Invocation.RPCMethod != "tools/call" {
		t.Errorf("expected tools/call invocation hint, got %q", r.Invocation.RPCMethod)
	}
}

func TestDiscoverJSONRPCDuplicateToolNamesFail(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[
			{"name":"dup"},{"name":"dup"}
		]}}`))
	}))
	defer upstream.Close()

	d := NewHTTPDiscoverer(upstream.Client())
	_, err := d.Discover(context.Background(), descriptorFor(t, "linear", registry.TierJSONRPCStreamable, upstream.URL))
	if !errors.Is(err, ErrDuplicateToolName) {
		t.Fatalf("expected ErrDuplicateToolName, got %v", err)
	}
}

func TestDiscoverJSONRPCErrorEnvelopeFails(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer upstream.Close()

	d := NewHTTPDiscoverer(upstream.Client())
	if _, err := d.Discover(context.Background(), descriptorFor(t, "linear", registry.TierJSONRPCStreamable, upstream.URL)); err == nil {
		t.Fatal("expected error for jsonrpc error envelope")
	}
}
