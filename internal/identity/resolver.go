package identity

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Store is the narrow slice of the persistent store adapter the
// resolver needs to turn a validated token into groups and admin-ness.
type Store interface {
	GroupsForUser(ctx context.Context, email string) ([]string, error)
	IsAdmin(ctx context.Context, email string) (bool, error)
	// EmailForSubject resolves a token subject to an email address when
	// the token does not carry an email claim directly.
	EmailForSubject(ctx context.Context, subject string) (string, bool, error)
}

const (
	headerEdgeValidated = "X-Edge-Validated"
	headerCallerEmail   = "X-Caller-Email"
	headerCallerGroups  = "X-Caller-Groups"
	headerCallerAdmin   = "X-Caller-Admin"

	// SessionCookieName is the cookie carrying a bearer token when the
	// caller authenticates via a browser session rather than an
	// Authorization header.
	SessionCookieName = "tg_session"
)

// Resolver materialises the caller identity from one of three sources,
// in priority order: trust-boundary headers, an Authorization bearer
// token, a session-cookie bearer token.
type Resolver struct {
	store         Store
	signingSecret string
}

func NewResolver(store Store, signingSecret string) *Resolver {
	return &Resolver{store: store, signingSecret: signingSecret}
}

// Resolve never fails the request: any source that doesn't pan out falls
// through to the next, and exhausting all three yields the degenerate
// identity.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) UserIdentity {
	if id, ok := r.fromTrustBoundaryHeaders(req); ok {
		return id
	}

	if tok := bearerFromAuthorizationHeader(req); tok != "" {
		if id, ok := r.fromToken(ctx, tok); ok {
			return id
		}
	}

	if tok := bearerFromSessionCookie(req); tok != "" {
		if id, ok := r.fromToken(ctx, tok); ok {
			return id
		}
	}

	return UserIdentity{}
}

// fromTrustBoundaryHeaders trusts an outer edge that has already
// validated the caller and attached identity as plain headers.
func (r *Resolver) fromTrustBoundaryHeaders(req *http.Request) (UserIdentity, bool) {
	if req.Header.Get(headerEdgeValidated) == "" {
		return UserIdentity{}, false
	}

	email := req.Header.Get(headerCallerEmail)
	var groups []string
	if raw := req.Header.Get(headerCallerGroups); raw != "" {
		groups = strings.Split(raw, ",")
		for i := range groups {
			groups[i] = strings.TrimSpace(groups[i])
		}
	}
	admin, _ := strconv.ParseBool(req.Header.Get(headerCallerAdmin))

	return normalize(email, groups, admin), true
}

// fromToken validates tok with the shared signing secret and, on
// success, derives the full identity from the persistent store. An
// invalid signature degrades to the caller falling through to the next
// source rather than a 401 at this layer.
func (r *Resolver) fromToken(ctx context.Context, tok string) (UserIdentity, bool) {
	claims, err := validateToken(tok, r.signingSecret)
	if err != nil {
		log.Debug().Err(err).Msg("identity: bearer token rejected")
		return UserIdentity{}, false
	}

	email := claims.Email
	if email == "" && claims.Subject != "" {
		resolved, ok, lookupErr := r.store.EmailForSubject(ctx, claims.Subject)
		if lookupErr != nil {
			log.Warn().Err(lookupErr).Msg("identity: subject-to-email lookup failed")
			return UserIdentity{}, false
		}
		if !ok {
			return UserIdentity{}, false
		}
		email = resolved
	}
	if email == "" {
		return UserIdentity{}, false
	}
	email = strings.ToLower(strings.TrimSpace(email))

	groups, err := r.store.GroupsForUser(ctx, email)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("identity: group lookup failed")
		return UserIdentity{}, false
	}

	admin, err := r.store.IsAdmin(ctx, email)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("identity: admin lookup failed")
		return UserIdentity{}, false
	}

	return normalize(email, groups, admin), true
}

func bearerFromAuthorizationHeader(req *http.Request) string {
	h := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func bearerFromSessionCookie(req *http.Request) string {
	c, err := req.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
