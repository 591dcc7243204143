package registry

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"
)

// TenantOverrideStore is the narrow slice of the persistent store
// adapter the registry needs to resolve per-tenant credentials and
// endpoint overrides. Defined here, not in pgstore, so that registry
// depends on an interface rather than a concrete driver.
type TenantOverrideStore interface {
	// CredentialFor returns the tenant-keyed secret value for
	// (tenantID, serverID, keyName), or ok=false if no override exists.
	CredentialFor(ctx context.Context, tenantID, serverID, keyName string) (value string, ok bool, err error)
	// EndpointOverrideFor returns the tenant-keyed replacement endpoint
	// for (tenantID, serverID), or ok=false if no override exists.
	EndpointOverrideFor(ctx context.Context, tenantID, serverID string) (endpoint string, ok bool, err error)
}

// ErrUnknownServer is returned when a server_id has no descriptor.
var ErrUnknownServer = errors.New("registry: unknown server id")

// Registry enumerates configured upstreams and resolves per-request
// effective endpoint/credential. Once built at startup it is read-only;
// there is no background mutation of the descriptor set.
type Registry struct {
	byID  map[string]ServerDescriptor
	order []string
	store TenantOverrideStore
}

// New builds a Registry from a fixed descriptor set. descriptors must
// already have Enabled computed (see BuildDescriptor).
func New(descriptors []ServerDescriptor, store TenantOverrideStore) *Registry {
	r := &Registry{
		byID:  make(map[string]ServerDescriptor, len(descriptors)),
		store: store,
	}
	for _, d := range descriptors {
		r.byID[d.ServerID] = d
		r.order = append(r.order, d.ServerID)
	}
	return r
}

// BuildDescriptor computes the Enabled flag for a statically configured
// upstream: an entry is enabled iff its required credential is present
// and non-empty.
func BuildDescriptor(serverID, name, description string, tier Tier, endpoint string, credentialRef string, defaultGroups []string, credentialPresent bool) ServerDescriptor {
	return ServerDescriptor{
		ServerID:             serverID,
		Name:                 name,
		Description:          description,
		Tier:                 tier,
		BaseEndpoint:         TrimEndpoint(endpoint),
		DefaultCredentialRef: credentialRef,
		DefaultGroups:        defaultGroups,
		Enabled:              credentialPresent,
	}
}

// Get returns the descriptor for a server id.
func (r *Registry) Get(serverID string) (ServerDescriptor, bool) {
	d, ok := r.byID[serverID]
	return d, ok
}

// All returns every descriptor, in registration order.
func (r *Registry) All() []ServerDescriptor {
	out := make([]ServerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Enabled returns the set of server IDs whose descriptor is enabled.
func (r *Registry) Enabled() map[string]struct{} {
	out := make(map[string]struct{}, len(r.byID))
	for id, d := range r.byID {
		if d.Enabled {
			out[id] = struct{}{}
		}
	}
	return out
}

// Effective is the resolved endpoint/credential/route-through-bridge
// triple for one call.
type Effective struct {
	Endpoint                string
	Credential              string
	RouteThroughLocalBridge bool
}

// Resolve computes the effective endpoint and credential for a call to
// serverID made by a caller who is a member of callerGroups: start with
// descriptor defaults, then substitute a tenant-keyed endpoint override
// and tenant-keyed credential if the caller's groups carry one. When
// multiple of the caller's groups have an override for the same server,
// the alphabetically first group name wins and a warning is logged
// naming the groups that were discarded.
func (r *Registry) Resolve(ctx context.Context, serverID string, callerGroups []string) (Effective, error) {
	d, ok := r.byID[serverID]
	if !ok {
		return Effective{}, ErrUnknownServer
	}

	eff := Effective{
		Endpoint:                d.BaseEndpoint,
		Credential:              d.DefaultCredentialRef,
		RouteThroughLocalBridge: d.Tier.RoutesThroughLocalBridge(),
	}

	groups := make([]string, len(callerGroups))
	copy(groups, callerGroups)
	sort.Strings(groups)

	if r.store == nil {
		return eff, nil
	}

	winningGroup, endpoint, found := r.firstOverridingGroup(ctx, serverID, groups, r.endpointLookup)
	if found {
		if len(winningGroup.discarded) > 0 {
			log.Warn().
				Str("server_id", serverID).
				Str("winning_group", winningGroup.group).
				Strs("discarded_groups", winningGroup.discarded).
				Msg("multiple tenant endpoint overrides apply; alphabetically first group wins")
		}
		eff.Endpoint = TrimEndpoint(endpoint)
	}

	credWinner, cred, credFound := r.firstOverridingGroup(ctx, serverID, groups, r.credentialLookup)
	if credFound {
		if len(credWinner.discarded) > 0 {
			log.Warn().
				Str("server_id", serverID).
				Str("winning_group", credWinner.group).
				Strs("discarded_groups", credWinner.discarded).
				Msg("multiple tenant credential overrides apply; alphabetically first group wins")
		}
		eff.Credential = cred
	} else {
		eff.Credential = d.DefaultCredentialRef
	}

	return eff, nil
}

type tieBreak struct {
	group     string
	discarded []string
}

// firstOverridingGroup walks sortedGroups (already alphabetical) and
// returns the value from the first group that has an override, recording
// any later groups that also had one so the caller can log the discard.
func (r *Registry) firstOverridingGroup(ctx context.Context, serverID string, sortedGroups []string, lookup func(ctx context.Context, group, serverID string) (string, bool, error)) (tieBreak, string, bool) {
	var winner tieBreak
	var value string
	found := false

	for _, g := range sortedGroups {
		v, ok, err := lookup(ctx, g, serverID)
		if err != nil {
			log.Error().Err(err).Str("group", g).Str("server_id", serverID).Msg("tenant override lookup failed")
			continue
		}
		if !ok {
			continue
		}
		if !found {
			winner = tieBreak{group: g}
			value = v
			found = true
			continue
		}
		winner.discarded = append(winner.discarded, g)
	}

	return winner, value, found
}

func (r *Registry) endpointLookup(ctx context.Context, group, serverID string) (string, bool, error) {
	return r.store.EndpointOverrideFor(ctx, group, serverID)
}

func (r *Registry) credentialLookup(ctx context.Context, group, serverID string) (string, bool, error) {
	// Tenant credentials are keyed by (tenant_id, server_id, key_name);
	// the gateway always asks for the single "default" key, which is the
	// one the router injects as the bearer credential.
	return r.store.CredentialFor(ctx, group, serverID, "default")
}
