package openapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/identity"
	"github.com/erauner12/toolgateway/internal/registry"
)

type fakeCatalog struct {
	records    []catalog.Record
	components map[string]json.RawMessage
}

func (f *fakeCatalog) All() []catalog.Record { return f.records }

func (f *fakeCatalog) ComponentsForServers(_ []string) map[string]json.RawMessage {
	return f.components
}

type fakeAccess struct {
	set map[string]struct{}
}

func (f *fakeAccess) AccessSet(_ context.Context, _ identity.UserIdentity) (map[string]struct{}, error) {
	return f.set, nil
}

func record(serverID, toolName string) catalog.Record {
	return catalog.Record{
		Key:  catalog.Key{ServerID: serverID, ToolName: toolName},
		Tier: registry.TierDirectHTTPOpenAPI,
		Schema: catalog.InputSchema{
			Type:       "object",
			Properties: map[string]catalog.SchemaField{"title": {Type: "string"}},
			Required:   []string{"title"},
		},
	}
}

func TestBuildExpandedModeFiltersToAccessSet(t *testing.T) {
	cat := &fakeCatalog{records: []catalog.Record{
		record("github", "create_issue"),
		record("filesystem", "list_dir"),
	}}
	e := NewEmitter(cat, &fakeAccess{set: map[string]struct{}{"github": {}}}, false, "")

	doc, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("expected OpenAPI 3.1.0, got %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/github/create_issue"]; !ok {
		t.Error("expected permitted tool's path present")
	}
	if _, ok := doc.Paths["/filesystem/list_dir"]; ok {
		t.Error("unpermitted tool's path must be absent")
	}
	// Two paths per permitted tool: nested plus the deprecated flat form.
	if len(doc.Paths) != 2 {
		t.Errorf("expected exactly 2 paths, got %d: %v", len(doc.Paths), pathKeys(doc))
	}
}

func TestBuildEmitsDeprecatedFlatForm(t *testing.T) {
	cat := &fakeCatalog{records: []catalog.Record{record("github", "create_issue")}}
	e := NewEmitter(cat, &fakeAccess{set: map[string]struct{}{"github": {}}}, false, "")

	doc, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	flat, ok := doc.Paths["/github_create_issue"]
	if !ok {
		t.Fatal("expected deprecated flat path present")
	}
	if !flat["post"].Deprecated {
		t.Error("flat form must be marked deprecated")
	}
	nested := doc.Paths["/github/create_issue"]["post"]
	if nested.Deprecated {
		t.Error("nested form must not be deprecated")
	}

	var nestedSchema, flatSchema map[string]any
	_ = json.Unmarshal(nested.RequestBody.Content["application/json"].Schema, &nestedSchema)
	_ = json.Unmarshal(flat["post"].RequestBody.Content["application/json"].Schema, &flatSchema)
	if nestedSchema["type"] != flatSchema["type"] {
		t.Error("flat form must reference the same request shape")
	}
}

func TestBuildLiftsInputSchemaIntoRequestBody(t *testing.T) {
	cat := &fakeCatalog{records: []catalog.Record{record("github", "create_issue")}}
	e := NewEmitter(cat, &fakeAccess{set: map[string]struct{}{"github": {}}}, false, "")

	doc, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var schema catalog.InputSchema
	raw := doc.Paths["/github/create_issue"]["post"].RequestBody.Content["application/json"].Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal lifted schema: %v", err)
	}
	if schema.Properties["title"].Type != "string" {
		t.Errorf("round-trip lost the parameter type: %+v", schema)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "title" {
		t.Errorf("round-trip lost required flags: %v", schema.Required)
	}
}

func TestBuildMetaToolsModeEmitsExactlyThreeOperations(t *testing.T) {
	cat := &fakeCatalog{records: []catalog.Record{record("github", "create_issue")}}
	e := NewEmitter(cat, &fakeAccess{set: map[string]struct{}{"github": {}}}, true, "")

	doc, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(doc.Paths) != 3 {
		t.Fatalf("meta mode must emit exactly 3 operations, got %d", len(doc.Paths))
	}
	for _, p := range []string{"/meta/search_tools", "/meta/describe_tools", "/meta/call_tool"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("missing meta operation %s", p)
		}
	}
	if _, ok := doc.Paths["/github/create_issue"]; ok {
		t.Error("individual tools must not be advertised in meta mode")
	}
}

func TestBuildMergesComponentSchemas(t *testing.T) {
	cat := &fakeCatalog{
		records:    []catalog.Record{record("github", "create_issue")},
		components: map[string]json.RawMessage{"Issue": json.RawMessage(`{"type":"object"}`)},
	}
	e := NewEmitter(cat, &fakeAccess{set: map[string]struct{}{"github": {}}}, false, "")

	doc, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if doc.Components == nil {
		t.Fatal("expected components section present")
	}
	if _, ok := doc.Components.Schemas["Issue"]; !ok {
		t.Error("expected upstream component schema merged in")
	}
}

func TestBuildIsDeterministicBetweenRefreshes(t *testing.T) {
	cat := &fakeCatalog{records: []catalog.Record{
		record("github", "create_issue"),
		record("github", "merge_pull_request"),
	}}
	e := NewEmitter(cat, &fakeAccess{set: map[string]struct{}{"github": {}}}, false, "")

	first, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := e.Build(context.Background(), identity.UserIdentity{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("repeated builds for the same caller must be byte-equivalent")
	}
}

func pathKeys(doc *Document) []string {
	out := make([]string, 0, len(doc.Paths))
	for k := range doc.Paths {
		out = append(out, k)
	}
	return out
}
