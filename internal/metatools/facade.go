// Package metatools implements the meta-tools façade: three virtual
// operations (search_tools, describe_tools, call_tool) that collapse a
// large catalog into a uniform surface for model-driven callers, backed
// by embedding-ranked search with a substring fallback.
package metatools

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/identity"
	"github.com/erauner12/toolgateway/internal/router"
)

const (
	defaultTopK = 10
	maxTopK     = 50
)

// AccessSetter is the narrow slice of *access.Resolver the façade needs.
type AccessSetter interface {
	AccessSet(ctx context.Context, id identity.UserIdentity) (map[string]struct{}, error)
}

// CatalogReader is the narrow slice of *catalog.Cache the façade needs.
type CatalogReader interface {
	All() []catalog.Record
	Get(key catalog.Key) (catalog.Record, bool)
}

// QueryEmbedder embeds a single search query. Best-effort: a nil
// Facade.Embedder or an Embed error both fall back to substring ranking.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Executor is the narrow slice of *router.Executor call_tool delegates
// to; a meta call behaves exactly like the corresponding direct call.
type Executor interface {
	Execute(ctx context.Context, serverID, toolName string, callerGroups []string, body []byte) (router.Result, error)
}

// Facade implements the three meta operations.
type Facade struct {
	cache    CatalogReader
	access   AccessSetter
	embedder QueryEmbedder
	exec     Executor
}

func NewFacade(cache CatalogReader, access AccessSetter, embedder QueryEmbedder, exec Executor) *Facade {
	return &Facade{cache: cache, access: access, embedder: embedder, exec: exec}
}

// SearchResult is one ranked entry from search_tools.
type SearchResult struct {
	ServerID    string `json:"server_id"`
	ToolName    string `json:"tool_name"`
	Description string `json:"description"`
}

// SearchTools implements search_tools(query, top_k). topK nil means
// "not supplied" and defaults to 10; topK pointing at 0 means the caller
// explicitly asked for zero results.
func (f *Facade) SearchTools(ctx context.Context, id identity.UserIdentity, query string, topK *int) ([]SearchResult, error) {
	k := defaultTopK
	if topK != nil {
		k = *topK
	}
	if k > maxTopK {
		k = maxTopK
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	candidates, err := f.permittedRecords(ctx, id)
	if err != nil {
		return nil, err
	}

	type scored struct {
		record catalog.Record
		score  float64
	}

	var queryVec []float32
	if f.embedder != nil {
		vecs, embedErr := f.embedder.Embed(ctx, []string{query})
		if embedErr == nil && len(vecs) == 1 {
			queryVec = vecs[0]
		}
	}

	var ranked []scored
	for _, r := range candidates {
		var s float64
		if queryVec != nil && r.Embedding != nil {
			s = cosineSimilarity(queryVec, r.Embedding)
		} else {
			s = substringScore(query, r.Key.ToolName, r.Description)
		}
		ranked = append(ranked, scored{record: r, score: s})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]SearchResult, 0, k)
	for _, s := range ranked[:k] {
		out = append(out, SearchResult{
			ServerID:    s.record.Key.ServerID,
			ToolName:    s.record.Key.ToolName,
			Description: oneLine(s.record.Description),
		})
	}
	return out, nil
}

// DescribeTools implements describe_tools(names): unknown names get an
// explicit null entry rather than being omitted.
func (f *Facade) DescribeTools(ctx context.Context, id identity.UserIdentity, names []string) (map[string]*catalog.InputSchema, error) {
	accessSet, err := f.access.AccessSet(ctx, id)
	if err != nil {
		return nil, err
	}

	byQualifiedName := make(map[string]catalog.Record)
	for _, r := range f.cache.All() {
		if _, ok := accessSet[r.Key.ServerID]; !ok {
			continue
		}
		byQualifiedName[r.Key.QualifiedName()] = r
	}

	out := make(map[string]*catalog.InputSchema, len(names))
	for _, name := range names {
		if r, ok := byQualifiedName[name]; ok {
			schema := r.Schema
			out[name] = &schema
		} else {
			out[name] = nil
		}
	}
	return out, nil
}

// ErrUnknownTool mirrors router.ErrUnknownTool for a qualified name that
// does not resolve to any cached tool.
var ErrUnknownTool = router.ErrUnknownTool

// ErrAccessDenied is returned when the qualified name carries the prefix
// of a cached server the caller is not permitted to invoke, whether or
// not that server has a tool of that name; it surfaces as a 403 where an
// unknown name surfaces as a 404.
var ErrAccessDenied = errors.New("metatools: access denied")

// CallTool implements call_tool(name, arguments): resolves the
// qualified name to (server_id, tool_name) and delegates to the router,
// with identical access control to a direct call. Only servers in the
// caller's access set are consulted for resolution; a name under a
// forbidden server's prefix is denied whether or not the tool exists,
// so callers cannot probe a forbidden server's tool set.
func (f *Facade) CallTool(ctx context.Context, id identity.UserIdentity, name string, arguments json.RawMessage) (router.Result, error) {
	accessSet, err := f.access.AccessSet(ctx, id)
	if err != nil {
		return router.Result{}, err
	}

	denied := false
	for _, r := range f.cache.All() {
		if _, ok := accessSet[r.Key.ServerID]; ok {
			if r.Key.QualifiedName() == name {
				return f.exec.Execute(ctx, r.Key.ServerID, r.Key.ToolName, id.Groups, arguments)
			}
			continue
		}
		if strings.HasPrefix(name, r.Key.ServerID+"_") {
			denied = true
		}
	}
	if denied {
		return router.Result{}, ErrAccessDenied
	}
	return router.Result{}, ErrUnknownTool
}

func (f *Facade) permittedRecords(ctx context.Context, id identity.UserIdentity) ([]catalog.Record, error) {
	accessSet, err := f.access.AccessSet(ctx, id)
	if err != nil {
		return nil, err
	}
	all := f.cache.All()
	out := make([]catalog.Record, 0, len(all))
	for _, r := range all {
		if _, ok := accessSet[r.Key.ServerID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// substringScore implements the fallback ranking: case-insensitive
// matches in the name weigh 3x matches in the description. Underscores
// compare equal to spaces, so "merge pull" matches "merge_pull_request".
func substringScore(query, name, description string) float64 {
	normalize := func(s string) string { return strings.ReplaceAll(strings.ToLower(s), "_", " ") }
	q := normalize(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	nameMatches := strings.Count(normalize(name), q)
	descMatches := strings.Count(normalize(description), q)
	return float64(nameMatches*3 + descMatches)
}

func oneLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
