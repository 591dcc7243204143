// Package router implements the call router/executor: given an
// authorised call it resolves the effective endpoint and credential,
// invokes the correct transport for the tool's tier, and translates the
// upstream response back to the caller.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/jsonrpc"
	"github.com/erauner12/toolgateway/internal/metrics"
	"github.com/erauner12/toolgateway/internal/registry"
)

var (
	// ErrUnknownTool is returned when the (server_id, tool_name) pair is
	// not in the cache; surfaces as a 404.
	ErrUnknownTool = errors.New("router: unknown server or tool")
	// ErrUpstreamTimeout surfaces as a 504.
	ErrUpstreamTimeout = errors.New("router: upstream unreachable or timed out")
	// ErrUpstreamBadGateway surfaces as a 502.
	ErrUpstreamBadGateway = errors.New("router: upstream returned 5xx")
	// ErrMalformedBody surfaces as a 400.
	ErrMalformedBody = errors.New("router: request body failed schema validation")
)

// Result is the verbatim response to forward to the caller: status code
// and body untouched, Content-Type preserved.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Resolver is the narrow slice of *registry.Registry the executor needs.
type Resolver interface {
	Resolve(ctx context.Context, serverID string, callerGroups []string) (registry.Effective, error)
}

// Executor invokes a single tool call against its upstream. Calls are
// never retried; retry policy belongs to the caller.
type Executor struct {
	cache       *catalog.Cache
	registry    Resolver
	httpClient  *http.Client
	rpcClient   *jsonrpc.Client
	callTimeout time.Duration
	// LocalBridgeBaseURL is the address of the local bridge service
	// child-process-wrapped upstreams are routed through.
	LocalBridgeBaseURL string
	// Metrics records per-call outcomes and latency. Nil disables
	// recording entirely.
	Metrics *metrics.Metrics
}

func NewExecutor(cache *catalog.Cache, reg Resolver, httpClient *http.Client, callTimeout time.Duration) *Executor {
	return &Executor{
		cache:       cache,
		registry:    reg,
		httpClient:  httpClient,
		rpcClient:   jsonrpc.NewClient(httpClient),
		callTimeout: callTimeout,
	}
}

// Execute runs one call to serverID/toolName with the given JSON body on
// behalf of a caller whose groups are callerGroups. Access control must
// already have been checked by the caller; this method only covers
// existence, since access is a caller-identity concern the HTTP layer
// owns.
func (e *Executor) Execute(ctx context.Context, serverID, toolName string, callerGroups []string, body []byte) (result Result, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.Metrics.ObserveCall(serverID, toolName, status, time.Since(start).Seconds())
	}()

	record, ok := e.cache.Get(catalog.Key{ServerID: serverID, ToolName: toolName})
	if !ok {
		return Result{}, ErrUnknownTool
	}

	if validateErr := validateBody(record.Schema, body); validateErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedBody, validateErr)
	}

	eff, resolveErr := e.registry.Resolve(ctx, serverID, callerGroups)
	if resolveErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownTool, resolveErr)
	}

	eff.Endpoint = e.endpointFor(serverID, eff)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	if record.Tier == registry.TierJSONRPCStreamable {
		return e.executeJSONRPC(callCtx, eff, toolName, body)
	}
	return e.executeHTTP(callCtx, eff, toolName, body)
}

// validateBody checks body against a tool's declared input schema. A
// tool with no declared properties or required fields imposes no
// constraint beyond well-formed JSON.
func validateBody(schema catalog.InputSchema, body []byte) error {
	if len(schema.Properties) == 0 && len(schema.Required) == 0 {
		if !json.Valid(body) {
			return errors.New("body is not valid JSON")
		}
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(body))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// endpointFor returns the base URL a call to serverID should be sent to,
// substituting the local bridge for child-process-wrapped upstreams.
func (e *Executor) endpointFor(serverID string, eff registry.Effective) string {
	if eff.RouteThroughLocalBridge && e.LocalBridgeBaseURL != "" {
		return registry.TrimEndpoint(e.LocalBridgeBaseURL) + "/" + serverID
	}
	return eff.Endpoint
}

func (e *Executor) executeHTTP(ctx context.Context, eff registry.Effective, toolName string, body []byte) (Result, error) {
	url := registry.TrimEndpoint(eff.Endpoint) + "/" + toolName

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if eff.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+eff.Credential)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, classifyTransportErr(ctx, err)
	}

	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: status %d", ErrUpstreamBadGateway, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	return Result{StatusCode: resp.StatusCode, ContentType: contentType, Body: respBody}, nil
}

func (e *Executor) executeJSONRPC(ctx context.Context, eff registry.Effective, toolName string, body []byte) (Result, error) {
	params := jsonrpc.ToolsCallParams{Name: toolName, Arguments: json.RawMessage(body)}

	resp, err := e.rpcClient.Call(ctx, eff.Endpoint, eff.Credential, "tools/call", params)
	if err != nil {
		return Result{}, classifyTransportErr(ctx, err)
	}

	if resp.Error != nil {
		// A JSON-RPC error envelope is an upstream-side failure, not a
		// gateway bug.
		payload, _ := json.Marshal(map[string]any{"error": resp.Error})
		return Result{}, fmt.Errorf("%w: %s", ErrUpstreamBadGateway, string(payload))
	}

	return Result{StatusCode: http.StatusOK, ContentType: "application/json", Body: resp.Result}, nil
}

func classifyTransportErr(ctx context.Context, err error) error {
	var opErr *net.OpError
	if ctx.Err() != nil || isTimeout(err) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamBadGateway, err)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline exceeded")
}
