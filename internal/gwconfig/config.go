package gwconfig

import (
	"time"

	"github.com/erauner12/toolgateway/internal/registry"
	"github.com/go-playground/validator/v10"
)

// UpstreamSpec is the static, file-declared half of a configured
// upstream. The endpoint is overridable, and the credential supplied,
// by the per-upstream environment variables.
type UpstreamSpec struct {
	ID            string        `json:"id" validate:"required,alphanum|contains=-"`
	Name          string        `json:"name" validate:"required"`
	Description   string        `json:"description"`
	Tier          registry.Tier `json:"tier" validate:"required"`
	Endpoint      string        `json:"endpoint" validate:"required,url"`
	DefaultGroups []string      `json:"defaultGroups"`
}

// Config holds every configuration key the gateway understands, loaded
// once at startup into an immutable record.
type Config struct {
	TokenSigningSecret string         `validate:"required"`
	DBConnectionString string         `validate:"required"`
	Upstreams          []UpstreamSpec `validate:"dive"`

	// UpstreamCredentials holds the resolved upstream-<id>-credential
	// values, keyed by upstream id. Absence of an entry (or an empty
	// value) disables that upstream.
	UpstreamCredentials map[string]string `validate:"-"`

	MetaToolsMode            bool  `validate:"-"`
	RefreshTimeoutSeconds    int   `validate:"min=1"`
	CallTimeoutSeconds       int   `validate:"min=1"`
	RefreshRetries           int   `validate:"min=0"`
	RefreshRetryDelaySeconds int   `validate:"min=0"`
	SkipStartupRefresh       bool  `validate:"-"`
	RequestBodyMaxBytes      int64 `validate:"min=1"`
	AccessCacheTTLSeconds    int   `validate:"min=1"`
	EmbeddingDim             int   `validate:"min=0"`

	// HTTPAddr is the process listen address. Environment-only; it is
	// not part of the config file's key set.
	HTTPAddr string `validate:"-"`
}

func (c *Config) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutSeconds) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

func (c *Config) RefreshRetryDelay() time.Duration {
	return time.Duration(c.RefreshRetryDelaySeconds) * time.Second
}

func (c *Config) AccessCacheTTL() time.Duration {
	return time.Duration(c.AccessCacheTTLSeconds) * time.Second
}

// DefaultConfig returns a Config populated with every tuning default,
// with no upstreams, secret, or connection string set.
func DefaultConfig() *Config {
	return &Config{
		UpstreamCredentials:      map[string]string{},
		RefreshTimeoutSeconds:    10,
		CallTimeoutSeconds:       30,
		RefreshRetries:           3,
		RefreshRetryDelaySeconds: 5,
		RequestBodyMaxBytes:      1 << 20, // 1 MiB
		AccessCacheTTLSeconds:    60,
		HTTPAddr:                 ":8080",
	}
}

var validate = validator.New()

// Validate performs both struct-level validation (via
// go-playground/validator, field presence/shape) and the cross-field
// checks Load() cannot express declaratively: at least one upstream
// configured, and the two mandatory keys present.
func (c *Config) Validate() error {
	if c.TokenSigningSecret == "" {
		return ErrMissingTokenSigningSecret
	}
	if c.DBConnectionString == "" {
		return ErrMissingDBConnectionString
	}
	if len(c.Upstreams) == 0 {
		return ErrNoUpstreamsConfigured
	}
	for _, u := range c.Upstreams {
		if !u.Tier.Valid() {
			return ErrInvalidConfigFormat
		}
	}
	return validate.Struct(c)
}

// EnabledUpstreams returns the subset of Upstreams whose credential is
// present and non-empty.
func (c *Config) EnabledUpstreams() []UpstreamSpec {
	out := make([]UpstreamSpec, 0, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if c.UpstreamCredentials[u.ID] != "" {
			out = append(out, u)
		}
	}
	return out
}
