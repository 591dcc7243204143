// Package access implements the access resolver: from (email, groups)
// to the set of server IDs a caller may see or invoke.
package access

import (
	"context"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erauner12/toolgateway/internal/identity"
)

// AdminGroup is the special group that implicitly grants every enabled
// server.
const AdminGroup = "MCP-Admin"

// Store is the narrow slice of the persistent store adapter the
// resolver needs.
type Store interface {
	ServerIDsForGroup(ctx context.Context, group string) ([]string, error)
	DirectServerIDsForUser(ctx context.Context, email string) ([]string, error)
}

// EnabledServers reports the current set of enabled server IDs.
// Implemented by *registry.Registry.
type EnabledServers interface {
	Enabled() map[string]struct{}
}

// Resolver computes and caches per-caller access sets in a bounded LRU
// with a short TTL, so group changes propagate without manual
// invalidation.
type Resolver struct {
	store   Store
	enabled EnabledServers
	ttl     time.Duration
	cache   *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	set       map[string]struct{}
	expiresAt time.Time
}

func NewResolver(store Store, enabled EnabledServers, ttl time.Duration, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{store: store, enabled: enabled, ttl: ttl, cache: c}, nil
}

// AccessSet returns the set of server IDs identity may see or invoke:
// admin-group callers get every enabled server; everyone else gets the
// union of their group grants and direct grants, intersected with the
// enabled set. A bounded (email, sorted-groups)-keyed cache is
// consulted first.
func (r *Resolver) AccessSet(ctx context.Context, id identity.UserIdentity) (map[string]struct{}, error) {
	key := cacheKey(id)

	if entry, ok := r.cache.Get(key); ok && time.Now().Before(entry.expiresAt) {
		return entry.set, nil
	}

	set, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Add(key, cacheEntry{set: set, expiresAt: time.Now().Add(r.ttl)})
	return set, nil
}

// Allowed reports whether identity may invoke serverID.
func (r *Resolver) Allowed(ctx context.Context, id identity.UserIdentity, serverID string) (bool, error) {
	set, err := r.AccessSet(ctx, id)
	if err != nil {
		return false, err
	}
	_, ok := set[serverID]
	return ok, nil
}

func (r *Resolver) resolve(ctx context.Context, id identity.UserIdentity) (map[string]struct{}, error) {
	enabled := r.enabled.Enabled()

	if isAdminCaller(id) {
		out := make(map[string]struct{}, len(enabled))
		for s := range enabled {
			out[s] = struct{}{}
		}
		return out, nil
	}

	union := make(map[string]struct{})
	for _, g := range id.Groups {
		ids, err := r.store.ServerIDsForGroup(ctx, g)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			union[id] = struct{}{}
		}
	}

	if id.Email != "" {
		direct, err := r.store.DirectServerIDsForUser(ctx, id.Email)
		if err != nil {
			return nil, err
		}
		for _, d := range direct {
			union[d] = struct{}{}
		}
	}

	out := make(map[string]struct{})
	for s := range union {
		if _, ok := enabled[s]; ok {
			out[s] = struct{}{}
		}
	}
	return out, nil
}

// isAdminCaller checks group membership only. UserIdentity's separate
// Admin boolean is the user-role lookup result used to gate privileged
// HTTP operations like POST /refresh, not catalog visibility.
func isAdminCaller(id identity.UserIdentity) bool {
	for _, g := range id.Groups {
		if g == AdminGroup {
			return true
		}
	}
	return false
}

func cacheKey(id identity.UserIdentity) string {
	groups := make([]string, len(id.Groups))
	copy(groups, id.Groups)
	sort.Strings(groups)
	return id.Email + "|" + strings.Join(groups, ",")
}
