package protocol

import (
	"context"
	"strconv"

	"github.com/0xSterling/XChat/crypto"
)

// Cursor is a position in a group's message log: the decimal rendering of a
// record sequence number. The empty cursor means "open end": genesis when
// used as a range start, the current head when used as a range end.
type Cursor string

// CursorAt returns the cursor addressing the record with the given sequence
// number.
func CursorAt(seq uint64) Cursor {
	return Cursor(strconv.FormatUint(seq, 10))
}

// Seq parses the cursor back into a sequence number. The empty cursor
// parses as (0, false).
func (c Cursor) Seq() (uint64, bool) {
	if c == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(string(c), 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Subscription is a live feed of new records for one group. Records are
// delivered in ledger append order but may duplicate records already seen
// through range reads; consumers de-duplicate by LogIdentity.
type Subscription interface {
	// Records is the delivery channel. It is closed when the subscription
	// ends, whether by Cancel or by transport failure.
	Records() <-chan MessageRecord

	// Err reports why delivery stopped. It returns nil before Records is
	// closed and after a clean Cancel; a non-nil result means the
	// subscription dropped and the consumer should resubscribe.
	Err() error

	// Cancel closes the subscription and releases its resources. Safe to
	// call more than once.
	Cancel()
}

// Ledger is the append-only public log collaborator. It owns global
// ordering, record identity, and the membership security boundary: appends
// from non-members fail with ErrNotMember, duplicate joins with
// ErrAlreadyMember, and neither check is re-derived client-side.
//
// Implementations serialize their own external calls; values returned are
// owned by the caller.
type Ledger interface {
	// CreateGroup appends a group creation signed by the owner and returns
	// the ledger's bookkeeping record, including the assigned id. The owner
	// is the group's first member.
	CreateGroup(ctx context.Context, req *Signed[GroupCreation]) (*Group, error)

	// JoinGroup appends a membership join signed by the joining principal.
	// Joining a group twice fails with ErrAlreadyMember.
	JoinGroup(ctx context.Context, req *Signed[JoinRequest]) (*Group, error)

	// AppendMessage appends a signed message submission. The ledger stamps
	// it with a timestamp, a sequence number, and a LogIdentity, and pushes
	// the resulting record to live subscribers.
	AppendMessage(ctx context.Context, msg *Signed[MessageSubmission]) (*AppendReceipt, error)

	// RangeRead returns records of one group in append order, starting at
	// from (inclusive; empty = genesis) and ending at to (inclusive; empty =
	// head). The window may be capped: a non-empty next cursor means more
	// records remain before to, and the caller pages by passing it as from.
	RangeRead(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error)

	// Subscribe opens a live feed of records appended to the group after
	// the subscription is established.
	Subscribe(ctx context.Context, groupID GroupID) (Subscription, error)

	// ReadGroup returns the group's current bookkeeping record.
	ReadGroup(ctx context.Context, groupID GroupID) (*Group, error)

	// ListGroups returns all groups in id order.
	ListGroups(ctx context.Context) ([]Group, error)

	// IsMember reports whether principal has joined the group.
	IsMember(ctx context.Context, groupID GroupID, principal crypto.PublicKey) (bool, error)
}

// SecretDisclosure is the controlled-disclosure collaborator guarding group
// secrets. The service is opaque: Reveal may involve network round-trips and
// out-of-band policy checks. It enforces its own entitlement policy;
// this package only constructs well-formed authorizations.
type SecretDisclosure interface {
	// IssueHandle stores a fresh group secret under a new opaque handle.
	// Called once per group, by the owner, at creation time.
	IssueHandle(ctx context.Context, req *Signed[IssueRequest]) (SecretHandle, error)

	// Reveal discloses the cleartext secret behind handle to the requester
	// named by the authorization's signature. Fails with ErrUnauthorized if
	// policy denies the requester, ErrExpired if the validity window lapsed,
	// ErrUnavailable on transient failure. Reveal never retries internally:
	// authorizations are time-bounded and possibly single-use, so retry
	// decisions (with a fresh authorization) belong to the caller.
	Reveal(ctx context.Context, handle SecretHandle, auth *Signed[RevealRequest]) (crypto.SharedSecret, error)
}
