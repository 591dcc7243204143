package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/erauner12/toolgateway/internal/jsonrpc"
	"github.com/erauner12/toolgateway/internal/registry"
)

// ErrDuplicateToolName is returned when a single upstream advertises the
// same tool name twice in one discovery pass. Collisions across servers
// are allowed (different composite keys); collisions within one server
// are a hard discovery failure and must not replace the previous cache
// entries for that server.
var ErrDuplicateToolName = errors.New("catalog: duplicate tool name within one server")

// DiscoveryResult is everything one upstream's discovery pass produces:
// the tool records themselves, plus any named schema components its
// OpenAPI document declared, carried through so the emitter can merge
// them into the published components.schemas.
type DiscoveryResult struct {
	Records          []Record
	ComponentSchemas map[string]json.RawMessage
}

// Discoverer resolves the tool set currently advertised by one upstream.
// It is the "discover" half of the tier's pair of operations; the router
// owns "invoke".
type Discoverer interface {
	Discover(ctx context.Context, desc registry.ServerDescriptor) (DiscoveryResult, error)
}

// HTTPDiscoverer implements discovery for the four tiers that expose an
// OpenAPI document, directly or behind a façade (direct HTTP, SSE,
// child-process-wrapped, in-cluster), plus the JSON-RPC tier's
// "tools/list" call.
type HTTPDiscoverer struct {
	httpClient *http.Client
	rpcClient  *jsonrpc.Client
}

func NewHTTPDiscoverer(httpClient *http.Client) *HTTPDiscoverer {
	return &HTTPDiscoverer{
		httpClient: httpClient,
		rpcClient:  jsonrpc.NewClient(httpClient),
	}
}

func (d *HTTPDiscoverer) Discover(ctx context.Context, desc registry.ServerDescriptor) (DiscoveryResult, error) {
	if desc.Tier == registry.TierJSONRPCStreamable {
		return d.discoverJSONRPC(ctx, desc)
	}
	return d.discoverOpenAPI(ctx, desc)
}

type openAPIDoc struct {
	Paths      map[string]map[string]openAPIOperation `json:"paths"`
	Components struct {
		Schemas map[string]json.RawMessage `json:"schemas"`
	} `json:"components"`
}

type openAPIOperation struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	RequestBody *struct {
		Content map[string]struct {
			Schema json.RawMessage `json:"schema"`
		} `json:"content"`
	} `json:"requestBody"`
}

func (d *HTTPDiscoverer) discoverOpenAPI(ctx context.Context, desc registry.ServerDescriptor) (DiscoveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.BaseEndpoint+"/openapi.json", nil)
	if err != nil {
		return DiscoveryResult{}, err
	}
	if desc.DefaultCredentialRef != "" {
		req.Header.Set("Authorization", "Bearer "+desc.DefaultCredentialRef)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("catalog: fetch openapi.json for %s: %w", desc.ServerID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("catalog: read openapi.json for %s: %w", desc.ServerID, err)
	}
	if resp.StatusCode >= 400 {
		return DiscoveryResult{}, fmt.Errorf("catalog: openapi.json for %s returned %d", desc.ServerID, resp.StatusCode)
	}

	var doc openAPIDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return DiscoveryResult{}, fmt.Errorf("catalog: parse openapi.json for %s: %w", desc.ServerID, err)
	}

	seen := make(map[string]struct{})
	var records []Record

	for path, methods := range doc.Paths {
		op, ok := methods["post"]
		if !ok {
			continue
		}
		toolName := lastPathSegment(path)
		if toolName == "" {
			continue
		}
		if _, dup := seen[toolName]; dup {
			return DiscoveryResult{}, fmt.Errorf("%w: server=%s tool=%s", ErrDuplicateToolName, desc.ServerID, toolName)
		}
		seen[toolName] = struct{}{}

		schema := InputSchema{Type: "object"}
		if op.RequestBody != nil {
			if content, ok := op.RequestBody.Content["application/json"]; ok {
				_ = json.Unmarshal(content.Schema, &schema)
			}
		}

		opDescription := op.Description
		if opDescription == "" {
			opDescription = op.Summary
		}

		records = append(records, Record{
			Key:         Key{ServerID: desc.ServerID, ToolName: toolName},
			Description: opDescription,
			Schema:      schema,
			Tier:        desc.Tier,
			Invocation:  InvocationHint{HTTPVerb: "POST", HTTPPath: path},
		})
	}

	return DiscoveryResult{Records: records, ComponentSchemas: doc.Components.Schemas}, nil
}

func lastPathSegment(path string) string {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

type toolsListResult struct {
	Tools []struct {
		Name        string      `json:"name"`
		Description string      `json:"description"`
		InputSchema InputSchema `json:"inputSchema"`
	} `json:"tools"`
}

func (d *HTTPDiscoverer) discoverJSONRPC(ctx context.Context, desc registry.ServerDescriptor) (DiscoveryResult, error) {
	resp, err := d.rpcClient.Call(ctx, desc.BaseEndpoint, desc.DefaultCredentialRef, "tools/list", struct{}{})
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("catalog: tools/list for %s: %w", desc.ServerID, err)
	}
	if resp.Error != nil {
		return DiscoveryResult{}, fmt.Errorf("catalog: tools/list for %s returned jsonrpc error: %s", desc.ServerID, resp.Error.Message)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return DiscoveryResult{}, fmt.Errorf("catalog: parse tools/list result for %s: %w", desc.ServerID, err)
	}

	seen := make(map[string]struct{}, len(result.Tools))
	records := make([]Record, 0, len(result.Tools))
	for _, t := range result.Tools {
		if _, dup := seen[t.Name]; dup {
			return DiscoveryResult{}, fmt.Errorf("%w: server=%s tool=%s", ErrDuplicateToolName, desc.ServerID, t.Name)
		}
		seen[t.Name] = struct{}{}

		records = append(records, Record{
			Key:         Key{ServerID: desc.ServerID, ToolName: t.Name},
			Description: t.Description,
			Schema:      t.InputSchema,
			Tier:        desc.Tier,
			Invocation:  InvocationHint{RPCMethod: "tools/call"},
		})
	}
	// JSON-RPC tools/list carries no OpenAPI-style component schema
	// section; nothing to contribute to components.schemas.
	return DiscoveryResult{Records: records}, nil
}
