package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/metrics"
	"github.com/erauner12/toolgateway/internal/registry"
)

type fakeResolver struct {
	eff registry.Effective
	err error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, _ []string) (registry.Effective, error) {
	return f.eff, f.err
}

type fakeDiscoverer struct {
	rec      catalog.Record
	serverID string
}

func (f fakeDiscoverer) Discover(_ context.Context, d registry.ServerDescriptor) (catalog.DiscoveryResult, error) {
	if d.ServerID != f.serverID {
		return catalog.DiscoveryResult{}, nil
	}
	return catalog.DiscoveryResult{Records: []catalog.Record{f.rec}}, nil
}

// seedCache populates cache through the same discover-and-commit path the
// refresh engine uses, since the cache's mutation surface is unexported
// outside the catalog package.
func seedCache(t *testing.T, cache *catalog.Cache, serverID string, rec catalog.Record) {
	t.Helper()
	reg := registry.New([]registry.ServerDescriptor{
		registry.BuildDescriptor(serverID, serverID, "", rec.Tier, "https://upstream.example/", "cred", nil, true),
	}, nil)
	eng := catalog.NewEngine(cache, reg, fakeDiscoverer{rec: rec, serverID: serverID}, nil, nil, catalog.EngineConfig{
		RefreshTimeout: time.Second,
	})
	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
}

func TestValidateBodyNoConstraintsRequiresValidJSON(t *testing.T) {
	if err := validateBody(catalog.InputSchema{}, []byte("not json")); err == nil {
		t.Error("expected error for invalid JSON with no schema constraints")
	}
	if err := validateBody(catalog.InputSchema{}, []byte(`{"anything":1}`)); err != nil {
		t.Errorf("expected nil for valid JSON with no schema constraints, got %v", err)
	}
}

func TestValidateBodyEnforcesRequiredAndType(t *testing.T) {
	schema := catalog.InputSchema{
		Type: "object",
		Properties: map[string]catalog.SchemaField{
			"name": {Type: "string"},
		},
		Required: []string{"name"},
	}

	if err := validateBody(schema, []byte(`{"name":"alice"}`)); err != nil {
		t.Errorf("expected valid body to pass, got %v", err)
	}
	if err := validateBody(schema, []byte(`{}`)); err == nil {
		t.Error("expected missing required field to fail validation")
	}
	if err := validateBody(schema, []byte(`{"name":42}`)); err == nil {
		t.Error("expected wrong type to fail validation")
	}
}

func TestExecuteUnknownToolNotInCache(t *testing.T) {
	exec := NewExecutor(catalog.NewCache(), &fakeResolver{}, http.DefaultClient, time.Second)

	_, err := exec.Execute(context.Background(), "github", "create_issue", nil, []byte(`{}`))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteMalformedBodyRejectedBeforeResolve(t *testing.T) {
	cache := catalog.NewCache()
	schema := catalog.InputSchema{
		Type:       "object",
		Properties: map[string]catalog.SchemaField{"title": {Type: "string"}},
		Required:   []string{"title"},
	}
	seedCache(t, cache, "github", catalog.Record{
		Key:    catalog.Key{ServerID: "github", ToolName: "create_issue"},
		Tier:   registry.TierDirectHTTPOpenAPI,
		Schema: schema,
	})

	exec := NewExecutor(cache, &fakeResolver{err: errors.New("resolve should not be reached")}, http.DefaultClient, time.Second)

	_, err := exec.Execute(context.Background(), "github", "create_issue", nil, []byte(`{}`))
	if !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("expected ErrMalformedBody, got %v", err)
	}
}

func TestExecuteRoutesDirectHTTPAndForwardsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create_issue" {
			t.Errorf("expected path /create_issue, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Errorf("expected bearer credential forwarded, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}))
	defer upstream.Close()

	cache := catalog.NewCache()
	seedCache(t, cache, "github", catalog.Record{
		Key:  catalog.Key{ServerID: "github", ToolName: "create_issue"},
		Tier: registry.TierDirectHTTPOpenAPI,
	})

	exec := NewExecutor(cache, &fakeResolver{eff: registry.Effective{Endpoint: upstream.URL, Credential: "secret-token"}}, upstream.Client(), time.Second)

	result, err := exec.Execute(context.Background(), "github", "create_issue", nil, []byte(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", result.StatusCode)
	}
	if string(result.Body) != `{"id":1}` {
		t.Errorf("expected body forwarded verbatim, got %q", result.Body)
	}
}

func TestExecuteUpstream5xxMapsToBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	cache := catalog.NewCache()
	seedCache(t, cache, "github", catalog.Record{
		Key:  catalog.Key{ServerID: "github", ToolName: "create_issue"},
		Tier: registry.TierDirectHTTPOpenAPI,
	})

	exec := NewExecutor(cache, &fakeResolver{eff: registry.Effective{Endpoint: upstream.URL}}, upstream.Client(), time.Second)

	_, err := exec.Execute(context.Background(), "github", "create_issue", nil, []byte(`{}`))
	if !errors.Is(err, ErrUpstreamBadGateway) {
		t.Fatalf("expected ErrUpstreamBadGateway, got %v", err)
	}
}

func TestExecuteRoutesJSONRPC(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "tools/call" {
			t.Errorf("expected method tools/call, got %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer upstream.Close()

	cache := catalog.NewCache()
	seedCache(t, cache, "rpc-server", catalog.Record{
		Key:  catalog.Key{ServerID: "rpc-server", ToolName: "do_thing"},
		Tier: registry.TierJSONRPCStreamable,
	})

	exec := NewExecutor(cache, &fakeResolver{eff: registry.Effective{Endpoint: upstream.URL}}, upstream.Client(), time.Second)

	result, err := exec.Execute(context.Background(), "rpc-server", "do_thing", nil, []byte(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", result.StatusCode)
	}
}

func TestExecuteRoutesChildProcessWrappedThroughLocalBridge(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bridged/run_query" {
			t.Errorf("expected bridge path /bridged/run_query, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer bridge.Close()

	cache := catalog.NewCache()
	seedCache(t, cache, "bridged", catalog.Record{
		Key:  catalog.Key{ServerID: "bridged", ToolName: "run_query"},
		Tier: registry.TierChildProcessWrapped,
	})

	exec := NewExecutor(cache, &fakeResolver{eff: registry.Effective{
		Endpoint:                "http://unreachable.invalid",
		RouteThroughLocalBridge: true,
	}}, bridge.Client(), time.Second)
	exec.LocalBridgeBaseURL = bridge.URL + "/"

	result, err := exec.Execute(context.Background(), "bridged", "run_query", nil, []byte(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(result.Body) != `{"rows":[]}` {
		t.Errorf("expected bridge response body, got %q", result.Body)
	}
}

func TestExecuteNilMetricsDoesNotPanic(t *testing.T) {
	cache := catalog.NewCache()
	exec := NewExecutor(cache, &fakeResolver{}, http.DefaultClient, time.Second)
	if exec.Metrics != nil {
		t.Fatal("expected Metrics to default to nil")
	}

	_, err := exec.Execute(context.Background(), "missing", "tool", nil, []byte(`{}`))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteWithMetricsRecordsOutcomeWithoutPanicking(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	cache := catalog.NewCache()
	exec := NewExecutor(cache, &fakeResolver{}, http.DefaultClient, time.Second)
	exec.Metrics = m

	if _, err := exec.Execute(context.Background(), "missing", "tool", nil, []byte(`{}`)); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}
