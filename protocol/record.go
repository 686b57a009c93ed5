package protocol

import (
	"time"

	"github.com/0xSterling/XChat/crypto"
)

// GroupID is the ledger-assigned group ordinal. Ids are unique and
// monotonically increasing in creation order, starting at 1.
type GroupID uint64

// SecretHandle is an opaque reference to a group's encrypted shared secret
// held by the disclosure service. The handle itself reveals nothing; the
// cleartext is only obtainable through SecretDisclosure.Reveal.
type SecretHandle string

// LogIdentity uniquely identifies one physical ledger append by its delivery
// coordinates (transaction id + log index). Two deliveries carrying the same
// LogIdentity are the same message; it is the timeline de-duplication key.
type LogIdentity string

// Group is the ledger's bookkeeping record for one chat group. All fields
// except MemberCount are immutable after creation; membership is join-only,
// so MemberCount only grows.
type Group struct {
	ID           GroupID          `json:"id"`
	Name         string           `json:"name"`
	Owner        crypto.PublicKey `json:"owner"`
	CreatedAt    time.Time        `json:"created_at"`
	MemberCount  int              `json:"member_count"`
	SecretHandle SecretHandle     `json:"secret_handle"`
}

// MessageRecord is one ledger-stamped chat message as delivered by range
// reads and subscriptions. The ciphertext is the serialized crypto.CipherBlob
// JSON; Timestamp, Seq, and LogID are assigned by the ledger on append and
// are immutable.
//
// Seq is the record's position in its group's log (0-based, dense). It
// orders historical reads and lets the reconciler spot subscription gaps.
type MessageRecord struct {
	GroupID    GroupID          `json:"group_id"`
	Sender     crypto.PublicKey `json:"sender"`
	Ciphertext string           `json:"ciphertext"`
	Timestamp  time.Time        `json:"timestamp"`
	Seq        uint64           `json:"seq"`
	LogID      LogIdentity      `json:"log_id"`
}

// AppendReceipt acknowledges a successful ledger append.
type AppendReceipt struct {
	LogID     LogIdentity `json:"log_id"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageSubmission is the payload a sender signs when appending a message.
// The ledger derives the stored MessageRecord from it: sender from the
// signature, timestamp/seq/log id assigned at append time.
type MessageSubmission struct {
	GroupID    GroupID   `json:"group_id"`
	Ciphertext string    `json:"ciphertext"`
	SentAt     time.Time `json:"sent_at"`
}

// GroupCreation is the payload the owner signs to create a group. The secret
// handle must already have been issued by the disclosure service.
type GroupCreation struct {
	Name         string       `json:"name"`
	SecretHandle SecretHandle `json:"secret_handle"`
	CreatedAt    time.Time    `json:"created_at"`
}

// JoinRequest is the payload a principal signs to join a group.
type JoinRequest struct {
	GroupID     GroupID   `json:"group_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// IssueRequest is the payload a group owner signs when handing a fresh
// secret to the disclosure service. The secret travels in its canonical
// "0x"-hex rendering.
type IssueRequest struct {
	Secret   string    `json:"secret"`
	IssuedAt time.Time `json:"issued_at"`
}

// RevealRequest is the authorization payload for a secret disclosure. It
// names the requester (via the envelope signature), the target handles, and
// a validity window; the disclosure service rejects requests outside the
// window and requests whose signer its policy does not entitle to the
// handles. Authorizations are single-use at the protocol-intent level:
// clients build a fresh one per reveal and never reuse or auto-retry them.
type RevealRequest struct {
	Handles  []SecretHandle `json:"handles"`
	IssuedAt time.Time      `json:"issued_at"`
	ValidFor time.Duration  `json:"valid_for"`
}
