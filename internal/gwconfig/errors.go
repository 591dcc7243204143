package gwconfig

import "errors"

var (
	ErrMissingTokenSigningSecret = errors.New("gwconfig: token-signing-secret is required")
	ErrMissingDBConnectionString = errors.New("gwconfig: db-connection-string is required")
	ErrInvalidConfigFormat       = errors.New("gwconfig: invalid config file format")
	ErrUnknownConfigKey          = errors.New("gwconfig: unknown configuration key")
	ErrNoUpstreamsConfigured     = errors.New("gwconfig: at least one upstream must be configured")
)
