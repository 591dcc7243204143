package registry

import "strings"

// ServerDescriptor is the in-process catalog entry for one upstream tool
// server. It is constructed at startup from static configuration and is
// immutable thereafter; persisted tenant overrides are applied per call
// by Registry.Resolve and are never stored here.
type ServerDescriptor struct {
	ServerID             string
	Name                 string
	Description          string
	Tier                 Tier
	BaseEndpoint         string
	DefaultCredentialRef string // default credential value (from the environment), sent as the bearer token
	DefaultGroups        []string
	Enabled              bool
}

// TrimEndpoint idempotently strips trailing slashes so endpoint joins
// never double them.
func TrimEndpoint(endpoint string) string {
	return strings.TrimRight(endpoint, "/")
}
