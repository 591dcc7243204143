package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/toolgateway/internal/access"
	"github.com/erauner12/toolgateway/internal/catalog"
	"github.com/erauner12/toolgateway/internal/gwconfig"
	"github.com/erauner12/toolgateway/internal/httpapi"
	"github.com/erauner12/toolgateway/internal/identity"
	"github.com/erauner12/toolgateway/internal/metatools"
	"github.com/erauner12/toolgateway/internal/metrics"
	"github.com/erauner12/toolgateway/internal/openapi"
	"github.com/erauner12/toolgateway/internal/pgstore"
	"github.com/erauner12/toolgateway/internal/registry"
	"github.com/erauner12/toolgateway/internal/router"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// embeddingStore adapts pgstore's string-keyed bulk embedding read to the
// catalog engine's Key-typed interface.
type embeddingStore struct {
	store *pgstore.Store
}

func (s embeddingStore) StoreEmbedding(ctx context.Context, serverID, toolName string, vector []float32) error {
	return s.store.StoreEmbedding(ctx, serverID, toolName, vector)
}

func (s embeddingStore) LoadEmbeddings(ctx context.Context, keys []catalog.Key) (map[catalog.Key][]float32, error) {
	refs := make([]pgstore.ToolKey, len(keys))
	for i, k := range keys {
		refs[i] = pgstore.ToolKey{ServerID: k.ServerID, ToolName: k.ToolName}
	}
	rows, err := s.store.EmbeddingsFor(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := make(map[catalog.Key][]float32, len(rows))
	for _, k := range keys {
		if vec, ok := rows[k.ServerID+"/"+k.ToolName]; ok {
			out[k] = vec
		}
	}
	return out, nil
}

func main() {
	configPath := flag.String("config", "", "Path to the gateway's JSON config file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "toolgateway").Logger()
	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := gwconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	store, err := pgstore.Open(ctx, cfg.DBConnectionString)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer store.Close()

	reg := registry.New(cfg.BuildDescriptors(), store)

	metricsRegistry := prometheus.NewRegistry()
	gatewayMetrics := metrics.New(metricsRegistry)

	cache := catalog.NewCache()

	httpClient := &http.Client{Timeout: 60 * time.Second}
	discoverer := catalog.NewHTTPDiscoverer(httpClient)

	var embedder catalog.EmbeddingProvider
	if apiKey := os.Getenv("GATEWAY_EMBEDDING_API_KEY"); apiKey != "" {
		embedder = catalog.NewOpenAIEmbeddingProvider(apiKey, os.Getenv("GATEWAY_EMBEDDING_MODEL"), cfg.EmbeddingDim)
	} else {
		log.Info().Msg("no embedding API key configured; meta-tools search falls back to substring ranking")
	}

	engine := catalog.NewEngine(cache, reg, discoverer, embedder, embeddingStore{store: store}, catalog.EngineConfig{
		RefreshTimeout: cfg.RefreshTimeout(),
		Retries:        cfg.RefreshRetries,
		RetryDelay:     cfg.RefreshRetryDelay(),
	}).WithMetrics(gatewayMetrics)

	identityResolver := identity.NewResolver(store, cfg.TokenSigningSecret)

	accessResolver, err := access.NewResolver(store, reg, cfg.AccessCacheTTL(), 4096)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build access resolver")
	}

	exec := router.NewExecutor(cache, reg, httpClient, cfg.CallTimeout())
	exec.LocalBridgeBaseURL = env("GATEWAY_LOCAL_BRIDGE_URL", "")
	exec.Metrics = gatewayMetrics

	emitter := openapi.NewEmitter(cache, accessResolver, cfg.MetaToolsMode, "Tool Gateway")
	meta := metatools.NewFacade(cache, accessResolver, embedder, exec)

	srv := &httpapi.Server{
		Config:   cfg,
		Registry: reg,
		Cache:    cache,
		Engine:   engine,
		Identity: identityResolver,
		Access:   accessResolver,
		Exec:     exec,
		OpenAPI:  emitter,
		Meta:     meta,
		Metrics:  promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}),
	}

	// Startup runs at most one initial refresh, gated by a once-only
	// guard.
	engine.StartupRefresh(ctx, cfg.SkipStartupRefresh)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
