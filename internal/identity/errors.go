package identity

import "errors"

var (
	// ErrTokenInvalid is returned by validateToken for a malformed or
	// badly signed token. Resolve() never propagates it to the caller:
	// an invalid signature yields the degenerate identity, not a
	// rejected request.
	ErrTokenInvalid = errors.New("identity: token signature invalid")
	ErrTokenExpired = errors.New("identity: token expired")
)
