// Package protocol implements the XChat confidential group messaging protocol:
// client-side reconciliation of an append-only public ledger log into ordered,
// de-duplicated, opportunistically decrypted per-group message timelines.
//
// # Architecture
//
// XChat carries encrypted group chat over a public broadcast medium. Anyone
// can read the raw records; only principals holding the group's shared secret
// recover plaintext. The protocol consumes two external collaborators:
//
//  1. Ledger: the append-only log. Provides group bookkeeping (create, join,
//     membership queries), message appends, bounded historical range reads,
//     and live push subscriptions. The ledger enforces the security boundary:
//     appends by non-members and double joins are rejected there, not here.
//
//  2. SecretDisclosure: the controlled-disclosure service holding each
//     group's encrypted secret. Members obtain the cleartext secret by
//     presenting a fresh, time-bounded, signed authorization.
//
// Both are injected as interfaces (see interfaces.go); nothing in this
// package holds ambient singletons.
//
// # Reconciliation
//
// A group's history can be read two ways that race with each other:
// historical range reads (paged, possibly capped by the ledger) and live
// subscription pushes (possibly duplicated, dropped, or delivered before the
// historical read completes). LogReconciler merges both into one Timeline
// per group with three guarantees:
//
//   - a record is appended at most once, keyed by its LogIdentity
//   - acceptance order is stable: records are never re-sorted once accepted
//   - live events arriving while history loads are buffered and merged, not
//     dropped; detected gaps are filled by bounded re-reads, not by trusting
//     subscription continuity
//
// Two observers fed the same records in any interleaving converge to
// timelines with the same records and the same per-record relative order.
//
// # Sessions
//
// ChatSession binds a group, its reconciler, and (once loaded) the symmetric
// key derived from the group secret. Until LoadKey succeeds every message
// renders redacted (sender and timestamp visible, body opaque); this gate is
// a usability affordance, not a security boundary. Decryption failure of an
// individual record is an expected per-message condition and never a session
// error.
package protocol
