package protocol

import "errors"

// Error taxonomy for ledger and disclosure failures. Sentinels are matched
// with errors.Is after adapters wrap them with transport context.
//
// Only ErrUnavailable is retryable, and only by adapters with bounded
// backoff. Everything else propagates to the caller unchanged. Disclosure
// authorizations are single-use and time-bounded, so a failed reveal is
// never retried automatically even when the failure was transient; the
// caller retries with a fresh authorization.
var (
	// ErrUnauthorized indicates the caller lacks rights: a disclosure
	// authorization the policy rejects, or a bad signature.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrExpired indicates an authorization's validity window has lapsed.
	ErrExpired = errors.New("authorization expired")

	// ErrUnavailable indicates a transient ledger or disclosure failure.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrInvalidArgument indicates malformed input rejected before any
	// external call: empty or oversized group names, empty handles.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyMember is the ledger's rejection of a duplicate join.
	ErrAlreadyMember = errors.New("already a group member")

	// ErrNotMember is the ledger's rejection of an append (or a reveal
	// policy rejection) by a principal outside the group.
	ErrNotMember = errors.New("not a group member")

	// ErrGroupNotFound indicates the group id is not on the ledger.
	ErrGroupNotFound = errors.New("group not found")

	// ErrKeyNotLoaded is returned by Send before LoadKey has succeeded.
	ErrKeyNotLoaded = errors.New("group key not loaded")

	// ErrClosed is returned by operations on a closed session or reconciler.
	ErrClosed = errors.New("closed")
)

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
