package gwconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/erauner12/toolgateway/internal/registry"
)

// fileConfig is the on-disk shape of the optional JSON config file. Only
// the static, non-secret parts of configuration belong here; credentials
// and the signing secret are environment-only. json.Decoder is run with
// DisallowUnknownFields so an unrecognized key fails the load.
type fileConfig struct {
	Upstreams                []UpstreamSpec `json:"upstreams"`
	MetaToolsMode            *bool          `json:"meta-tools-mode"`
	RefreshTimeoutSeconds    *int           `json:"refresh-timeout-seconds"`
	CallTimeoutSeconds       *int           `json:"call-timeout-seconds"`
	RefreshRetries           *int           `json:"refresh-retries"`
	RefreshRetryDelaySeconds *int           `json:"refresh-retry-delay-seconds"`
	SkipStartupRefresh       *bool          `json:"skip-startup-refresh"`
	RequestBodyMaxBytes      *int64         `json:"request-body-max-bytes"`
	AccessCacheTTLSeconds    *int           `json:"access-cache-ttl-seconds"`
	EmbeddingDim             *int           `json:"embedding-dim"`
}

// Load builds a Config from a JSON file (describing upstreams and tuning
// knobs) and environment variables (carrying secrets and per-upstream
// overrides). Validation is deferred to the caller via Validate() so
// CLI-flag overrides can still apply before validation runs.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fc, err := loadFile(configPath)
		if err != nil {
			return nil, err
		}
		applyFileConfig(cfg, fc)
	}

	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gwconfig: read config file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		// encoding/json reports DisallowUnknownFields violations only as
		// a message, not a typed error.
		if strings.Contains(err.Error(), "unknown field") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigKey, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return &fc, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	if len(fc.Upstreams) > 0 {
		cfg.Upstreams = fc.Upstreams
	}
	if fc.MetaToolsMode != nil {
		cfg.MetaToolsMode = *fc.MetaToolsMode
	}
	if fc.RefreshTimeoutSeconds != nil {
		cfg.RefreshTimeoutSeconds = *fc.RefreshTimeoutSeconds
	}
	if fc.CallTimeoutSeconds != nil {
		cfg.CallTimeoutSeconds = *fc.CallTimeoutSeconds
	}
	if fc.RefreshRetries != nil {
		cfg.RefreshRetries = *fc.RefreshRetries
	}
	if fc.RefreshRetryDelaySeconds != nil {
		cfg.RefreshRetryDelaySeconds = *fc.RefreshRetryDelaySeconds
	}
	if fc.SkipStartupRefresh != nil {
		cfg.SkipStartupRefresh = *fc.SkipStartupRefresh
	}
	if fc.RequestBodyMaxBytes != nil {
		cfg.RequestBodyMaxBytes = *fc.RequestBodyMaxBytes
	}
	if fc.AccessCacheTTLSeconds != nil {
		cfg.AccessCacheTTLSeconds = *fc.AccessCacheTTLSeconds
	}
	if fc.EmbeddingDim != nil {
		cfg.EmbeddingDim = *fc.EmbeddingDim
	}
}

// applyEnvironmentOverrides reads the mandatory secrets and the
// per-upstream env vars, plus environment overrides for every tuning
// knob.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_TOKEN_SIGNING_SECRET"); v != "" {
		cfg.TokenSigningSecret = v
	}
	if v := os.Getenv("GATEWAY_DB_CONNECTION_STRING"); v != "" {
		cfg.DBConnectionString = v
	}
	if v := os.Getenv("GATEWAY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v, ok := envBool("GATEWAY_META_TOOLS_MODE"); ok {
		cfg.MetaToolsMode = v
	}
	if v, ok := envInt("GATEWAY_REFRESH_TIMEOUT_SECONDS"); ok {
		cfg.RefreshTimeoutSeconds = v
	}
	if v, ok := envInt("GATEWAY_CALL_TIMEOUT_SECONDS"); ok {
		cfg.CallTimeoutSeconds = v
	}
	if v, ok := envInt("GATEWAY_REFRESH_RETRIES"); ok {
		cfg.RefreshRetries = v
	}
	if v, ok := envInt("GATEWAY_REFRESH_RETRY_DELAY_SECONDS"); ok {
		cfg.RefreshRetryDelaySeconds = v
	}
	if v, ok := envBool("GATEWAY_SKIP_STARTUP_REFRESH"); ok {
		cfg.SkipStartupRefresh = v
	}
	if v, ok := envInt64("GATEWAY_REQUEST_BODY_MAX_BYTES"); ok {
		cfg.RequestBodyMaxBytes = v
	}
	if v, ok := envInt("GATEWAY_ACCESS_CACHE_TTL_SECONDS"); ok {
		cfg.AccessCacheTTLSeconds = v
	}
	if v, ok := envInt("GATEWAY_EMBEDDING_DIM"); ok {
		cfg.EmbeddingDim = v
	}

	if cfg.UpstreamCredentials == nil {
		cfg.UpstreamCredentials = map[string]string{}
	}
	for i := range cfg.Upstreams {
		id := cfg.Upstreams[i].ID
		envID := envSafe(id)

		if endpoint := os.Getenv("GATEWAY_UPSTREAM_" + envID + "_ENDPOINT"); endpoint != "" {
			cfg.Upstreams[i].Endpoint = endpoint
		}
		if cred := os.Getenv("GATEWAY_UPSTREAM_" + envID + "_CREDENTIAL"); cred != "" {
			cfg.UpstreamCredentials[id] = cred
		}
	}
}

// envSafe upper-cases an upstream id and replaces hyphens with
// underscores so it can appear in an environment variable name.
func envSafe(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// BuildDescriptors converts the config's upstream specs into registry
// ServerDescriptors with Enabled computed from credential presence.
func (c *Config) BuildDescriptors() []registry.ServerDescriptor {
	out := make([]registry.ServerDescriptor, 0, len(c.Upstreams))
	for _, u := range c.Upstreams {
		cred := c.UpstreamCredentials[u.ID]
		out = append(out, registry.BuildDescriptor(
			u.ID, u.Name, u.Description, u.Tier, u.Endpoint, cred, u.DefaultGroups, cred != "",
		))
	}
	return out
}
