// Package registry holds the tenant registry: the static set of upstream
// tool servers the gateway knows about, and the per-request resolution of
// effective endpoint and credential for a caller.
package registry

import "fmt"

// Tier is the transport family of an upstream. It is a closed set:
// discovery and invocation both switch on Tier rather than leaning on
// runtime type introspection.
type Tier string

const (
	TierDirectHTTPOpenAPI   Tier = "direct-http-openapi"
	TierJSONRPCStreamable   Tier = "jsonrpc-streamable-http"
	TierSSE                 Tier = "sse"
	TierChildProcessWrapped Tier = "child-process-wrapped"
	TierInClusterHTTP       Tier = "in-cluster-http"
)

// Valid reports whether t is one of the five known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierDirectHTTPOpenAPI, TierJSONRPCStreamable, TierSSE, TierChildProcessWrapped, TierInClusterHTTP:
		return true
	default:
		return false
	}
}

// UsesOpenAPIDiscovery reports whether this tier is discovered by
// walking an upstream's /openapi.json document. Every tier except
// JSON-RPC streamable HTTP uses this strategy, each through a different
// façade.
func (t Tier) UsesOpenAPIDiscovery() bool {
	return t != TierJSONRPCStreamable
}

// RoutesThroughLocalBridge reports whether calls to this tier must be
// routed through the local bridge service rather than directly.
func (t Tier) RoutesThroughLocalBridge() bool {
	return t == TierChildProcessWrapped
}

func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("registry: unknown tier %q", s)
	}
	return t, nil
}
