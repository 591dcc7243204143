package pgstore

import "errors"

// ErrUnavailable signals a connectivity/transport failure talking to
// Postgres. Missing rows are reported via ok=false or empty results,
// never as an error, so an absent row is never confused with an outage.
var ErrUnavailable = errors.New("pgstore: store unavailable")
