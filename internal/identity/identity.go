// Package identity materialises a UserIdentity from an inbound request.
// Resolution never fails the request by itself: an invalid or absent
// token yields the degenerate identity, on the assumption that an outer
// edge has already refused unsigned traffic.
package identity

import (
	"sort"
	"strings"
)

// UserIdentity is the request-scoped, never-persisted caller identity.
// The zero value is the degenerate identity.
type UserIdentity struct {
	Email  string
	Groups []string
	Admin  bool
}

// IsDegenerate reports whether this is the empty identity returned when
// no source could establish a caller.
func (u UserIdentity) IsDegenerate() bool {
	return u.Email == "" && len(u.Groups) == 0 && !u.Admin
}

// normalize lower-cases the email and deduplicates groups
// case-sensitively. Group names are case-sensitive everywhere; emails
// are not.
func normalize(email string, groups []string, admin bool) UserIdentity {
	seen := make(map[string]struct{}, len(groups))
	deduped := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		deduped = append(deduped, g)
	}
	sort.Strings(deduped)

	return UserIdentity{
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Groups: deduped,
		Admin:  admin,
	}
}
