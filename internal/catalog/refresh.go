package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/toolgateway/internal/metrics"
	"github.com/erauner12/toolgateway/internal/registry"
)

// Engine drives discovery across every enabled upstream and swaps the
// result into a Cache.
type Engine struct {
	cache      *Cache
	registry   *registry.Registry
	discoverer Discoverer
	embedder   EmbeddingProvider
	embedStore EmbeddingStore

	refreshTimeout time.Duration
	retries        int
	retryDelay     time.Duration
	maxFanOut      int

	// metrics records refresh duration and resulting cache size. Nil
	// disables recording.
	metrics *metrics.Metrics

	// refreshMu serialises refreshes so an explicit POST /refresh is
	// never invoked concurrently with itself.
	refreshMu sync.Mutex
	once      sync.Once
}

// EmbeddingStore persists embeddings by (server_id, tool_name) and bulk-
// reads them back, so a gateway restarted without an embedding provider
// can still rank semantically from vectors a previous process generated.
type EmbeddingStore interface {
	StoreEmbedding(ctx context.Context, serverID, toolName string, vector []float32) error
	LoadEmbeddings(ctx context.Context, keys []Key) (map[Key][]float32, error)
}

type EngineConfig struct {
	RefreshTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
	MaxFanOut      int
}

func NewEngine(cache *Cache, reg *registry.Registry, discoverer Discoverer, embedder EmbeddingProvider, embedStore EmbeddingStore, cfg EngineConfig) *Engine {
	maxFanOut := cfg.MaxFanOut
	if maxFanOut <= 0 {
		maxFanOut = 16
	}
	return &Engine{
		cache:          cache,
		registry:       reg,
		discoverer:     discoverer,
		embedder:       embedder,
		embedStore:     embedStore,
		refreshTimeout: cfg.RefreshTimeout,
		retries:        cfg.Retries,
		retryDelay:     cfg.RetryDelay,
		maxFanOut:      maxFanOut,
	}
}

// WithMetrics attaches a metrics sink, returning the same Engine for
// chaining at construction time in cmd/server.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// StartupRefresh runs exactly one initial refresh, gated by a once-only
// guard, unless skipStartupRefresh is set.
func (e *Engine) StartupRefresh(ctx context.Context, skipStartupRefresh bool) {
	e.once.Do(func() {
		if skipStartupRefresh {
			log.Info().Msg("skipping startup refresh per configuration")
			return
		}
		if err := e.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("startup refresh failed")
		}
	})
}

// Refresh performs one complete rediscovery across all enabled
// upstreams. It is safe to call repeatedly; refreshMu ensures a refresh
// never overlaps itself.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	start := time.Now()
	descriptors := e.registry.All()

	sem := make(chan struct{}, e.maxFanOut)
	var wg sync.WaitGroup

	results := make(map[string]DiscoveryResult, len(descriptors))
	failed := make(map[string]bool, len(descriptors))
	var mu sync.Mutex

	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		d := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := e.discoverWithRetry(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("server_id", d.ServerID).Msg("discovery failed; retaining previous cache for this server")
				failed[d.ServerID] = true
				return
			}
			results[d.ServerID] = result
		}()
	}
	wg.Wait()

	m := newMerger(e.currentSnapshot())
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		if failed[d.ServerID] {
			m.keepPrevious(d.ServerID)
			continue
		}
		m.replace(d.ServerID, results[d.ServerID])
	}
	e.cache.commit(m)
	e.metrics.ObserveRefresh(time.Since(start).Seconds(), e.cache.Size())

	e.generateEmbeddings(ctx, m.next)

	return nil
}

func (e *Engine) currentSnapshot() *snapshot {
	e.cache.mu.RLock()
	defer e.cache.mu.RUnlock()
	return e.cache.current
}

func (e *Engine) discoverWithRetry(ctx context.Context, d registry.ServerDescriptor) (DiscoveryResult, error) {
	var result DiscoveryResult

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.refreshTimeout)
		defer cancel()

		r, err := e.discoverer.Discover(callCtx, d)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), uint64(e.retries))
	if err := backoff.Retry(operation, b); err != nil {
		return DiscoveryResult{}, err
	}
	return result, nil
}

// generateEmbeddings is best-effort: the provider call is retried with
// the same count and delay as discovery, and a final error never fails
// the refresh, it only leaves affected tools addressable by name.
func (e *Engine) generateEmbeddings(ctx context.Context, snap *snapshot) {
	var keys []Key
	var texts []string
	for key, r := range snap.byKey {
		keys = append(keys, key)
		texts = append(texts, r.Description+" "+key.ToolName)
	}
	if len(keys) == 0 {
		return
	}

	if e.embedder == nil {
		e.loadStoredEmbeddings(ctx, keys)
		return
	}

	var vectors [][]float32
	err := backoff.Retry(func() error {
		v, embedErr := e.embedder.Embed(ctx, texts)
		if embedErr != nil {
			return embedErr
		}
		vectors = v
		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), uint64(e.retries)))
	if err != nil {
		log.Warn().Err(err).Msg("embedding generation failed; loading stored vectors instead")
		e.loadStoredEmbeddings(ctx, keys)
		return
	}
	if len(vectors) != len(keys) {
		log.Warn().Msg("embedding provider returned mismatched vector count; skipping")
		return
	}

	for i, key := range keys {
		e.cache.setEmbedding(key, vectors[i])
		if e.embedStore != nil {
			if err := e.embedStore.StoreEmbedding(ctx, key.ServerID, key.ToolName, vectors[i]); err != nil {
				log.Warn().Err(err).Str("server_id", key.ServerID).Str("tool_name", key.ToolName).Msg("failed to persist embedding")
			}
		}
	}
}

// loadStoredEmbeddings attaches previously persisted vectors to the
// current snapshot when fresh generation is unavailable. Best-effort like
// generation itself; tools with no stored vector stay addressable by name.
func (e *Engine) loadStoredEmbeddings(ctx context.Context, keys []Key) {
	if e.embedStore == nil {
		return
	}
	stored, err := e.embedStore.LoadEmbeddings(ctx, keys)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load stored embeddings; falling back to substring ranking")
		return
	}
	for key, vec := range stored {
		e.cache.setEmbedding(key, vec)
	}
}
