package gwconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/erauner12/toolgateway/internal/registry"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `{
		"upstreams": [
			{"id": "github", "name": "GitHub", "tier": "direct-http-openapi", "endpoint": "https://github.example/"}
		],
		"refresh-retries": 7
	}`)

	t.Setenv("GATEWAY_TOKEN_SIGNING_SECRET", "sekrit")
	t.Setenv("GATEWAY_DB_CONNECTION_STRING", "postgres://localhost/gw")
	t.Setenv("GATEWAY_UPSTREAM_GITHUB_CREDENTIAL", "gh-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.TokenSigningSecret != "sekrit" {
		t.Errorf("expected env secret applied, got %q", cfg.TokenSigningSecret)
	}
	if cfg.RefreshRetries != 7 {
		t.Errorf("expected file override for refresh-retries, got %d", cfg.RefreshRetries)
	}
	if len(cfg.Upstreams) != 1 || cfg.Upstreams[0].ID != "github" {
		t.Fatalf("expected one github upstream, got %+v", cfg.Upstreams)
	}
	if cfg.UpstreamCredentials["github"] != "gh-token" {
		t.Errorf("expected env credential applied, got %q", cfg.UpstreamCredentials["github"])
	}

	enabled := cfg.EnabledUpstreams()
	if len(enabled) != 1 {
		t.Fatalf("expected github to be enabled once credential present, got %+v", enabled)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := writeConfigFile(t, `{"unexpected-key": true}`)

	_, err := Load(path)
	if !errors.Is(err, ErrUnknownConfigKey) {
		t.Fatalf("expected ErrUnknownConfigKey, got %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfigFile(t, `{not json`)

	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfigFormat) {
		t.Fatalf("expected ErrInvalidConfigFormat, got %v", err)
	}
}

func TestLoadEndpointEnvOverridesFileEndpoint(t *testing.T) {
	path := writeConfigFile(t, `{
		"upstreams": [
			{"id": "github", "name": "GitHub", "tier": "direct-http-openapi", "endpoint": "https://github.example/"}
		]
	}`)

	t.Setenv("GATEWAY_UPSTREAM_GITHUB_ENDPOINT", "https://override.example/")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstreams[0].Endpoint != "https://override.example/" {
		t.Errorf("expected env endpoint override, got %q", cfg.Upstreams[0].Endpoint)
	}
}

func TestValidateFailsWithoutUpstreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenSigningSecret = "s"
	cfg.DBConnectionString = "c"

	if err := cfg.Validate(); err != ErrNoUpstreamsConfigured {
		t.Fatalf("expected ErrNoUpstreamsConfigured, got %v", err)
	}
}

func TestBuildDescriptorsReflectsCredentialPresence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upstreams = []UpstreamSpec{
		{ID: "github", Name: "GitHub", Tier: registry.TierDirectHTTPOpenAPI, Endpoint: "https://github.example/"},
		{ID: "disabled-one", Name: "Disabled", Tier: registry.TierDirectHTTPOpenAPI, Endpoint: "https://disabled.example/"},
	}
	cfg.UpstreamCredentials = map[string]string{"github": "tok"}

	descs := cfg.BuildDescriptors()
	var found bool
	for _, d := range descs {
		if d.ServerID == "github" && d.Enabled {
			found = true
		}
		if d.ServerID == "disabled-one" && d.Enabled {
			t.Error("expected disabled-one to stay disabled without a credential")
		}
	}
	if !found {
		t.Error("expected github descriptor enabled")
	}
}
