package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xSterling/XChat/crypto"
)

// DecryptedMessage is one timeline record as presented to the session
// consumer. Plaintext is set only when the session key was loaded and
// authentication succeeded; otherwise Redacted is true and Plaintext is
// empty. A record that fails authentication under a loaded key (foreign or
// corrupt ciphertext) is also presented redacted rather than dropped, so the
// rendered history always matches the timeline record for record.
type DecryptedMessage struct {
	Record    MessageRecord
	Plaintext string
	Redacted  bool
}

// ChatSession is a live confidential view of one group: the group's
// reconciled timeline plus the symmetric key state gating plaintext access.
//
// A session starts keyless. Every record renders redacted until LoadKey
// succeeds, after which Messages re-renders the full history and Feed
// deliveries carry plaintext. Ciphertext flows into the timeline either way;
// redaction is a rendering decision, never a drop.
type ChatSession struct {
	owner *GroupState
	group *Group

	reconciler *LogReconciler

	mu  sync.RWMutex
	key crypto.SymmetricKey

	feedOnce sync.Once
	feed     chan DecryptedMessage

	closeOnce sync.Once
	done      chan struct{}
}

func newChatSession(ctx context.Context, owner *GroupState, group *Group) *ChatSession {
	s := &ChatSession{
		owner:      owner,
		group:      group,
		reconciler: NewLogReconciler(owner.ledger, group.ID, owner.config, owner.log),
		done:       make(chan struct{}),
	}
	s.reconciler.Start(ctx)
	return s
}

// Group returns the group this session is attached to, as read at open time.
func (s *ChatSession) Group() *Group {
	return s.group
}

// KeyLoaded reports whether the session currently holds the group key.
func (s *ChatSession) KeyLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// LoadKey obtains the group's symmetric key: it signs a fresh time-bounded
// disclosure authorization, asks the disclosure service to reveal the secret
// behind the group's handle, and derives the key from it.
//
// Authorizations are single-use; LoadKey never retries a reveal internally.
// On any failure, including ctx cancellation mid-flight, the session's key
// state is left exactly as it was.
func (s *ChatSession) LoadKey(ctx context.Context) error {
	auth, err := NewSigned(s.owner.signer, &RevealRequest{
		Handles:  []SecretHandle{s.group.SecretHandle},
		IssuedAt: time.Now().UTC(),
		ValidFor: s.owner.config.RevealValidity,
	})
	if err != nil {
		return fmt.Errorf("sign reveal authorization: %w", err)
	}

	secret, err := s.owner.disclosure.Reveal(ctx, s.group.SecretHandle, auth)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := crypto.DeriveKey(secret)
	if err != nil {
		return fmt.Errorf("derive group key: %w", err)
	}

	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	s.owner.log.Debug("group key loaded", "group", uint64(s.group.ID))
	return nil
}

// Send encrypts plaintext under the session key, signs the submission, and
// appends it to the ledger. It fails with ErrKeyNotLoaded before a
// successful LoadKey; nothing leaves the client in that case. The message
// comes back through the session's own subscription like anyone else's.
func (s *ChatSession) Send(ctx context.Context, plaintext string) (*AppendReceipt, error) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil {
		return nil, ErrKeyNotLoaded
	}

	blob, err := crypto.Encrypt(key, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	wire, err := blob.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode ciphertext: %w", err)
	}

	msg, err := NewSigned(s.owner.signer, &MessageSubmission{
		GroupID:    s.group.ID,
		Ciphertext: string(wire),
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	receipt, err := s.owner.ledger.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return receipt, nil
}

// Messages renders the session's full timeline under the current key state.
// Order and length always match the timeline; key state only decides which
// records carry plaintext.
func (s *ChatSession) Messages() []DecryptedMessage {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()

	records := s.reconciler.Timeline().Records()
	out := make([]DecryptedMessage, len(records))
	for i, rec := range records {
		out[i] = render(key, rec)
	}
	return out
}

// Feed returns a channel of accepted records in acceptance order, rendered
// under the key state at delivery time. Delivery starts from the records
// accepted since the session was opened, so a consumer that attaches
// promptly sees history followed by live messages with no seam. The channel
// closes when the session stops.
func (s *ChatSession) Feed() <-chan DecryptedMessage {
	s.feedOnce.Do(func() {
		s.feed = make(chan DecryptedMessage, 64)
		go func() {
			defer close(s.feed)
			for rec := range s.reconciler.Records() {
				s.mu.RLock()
				key := s.key
				s.mu.RUnlock()
				select {
				case s.feed <- render(key, rec):
				case <-s.done:
					return
				}
			}
		}()
	})
	return s.feed
}

// State exposes the reconciler lifecycle state, mainly for tests and
// diagnostics.
func (s *ChatSession) State() ReconcilerState {
	return s.reconciler.State()
}

// Err returns the reconciler's terminal error, if it stopped on its own.
func (s *ChatSession) Err() error {
	return s.reconciler.Err()
}

// Close stops reconciliation and shuts down the feed, unblocking any pump
// stuck on an unread consumer. The accepted history stays readable through
// Messages; the key is dropped.
func (s *ChatSession) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.reconciler.Close()
	s.mu.Lock()
	s.key = nil
	s.mu.Unlock()
}

func render(key crypto.SymmetricKey, rec MessageRecord) DecryptedMessage {
	if key == nil {
		return DecryptedMessage{Record: rec, Redacted: true}
	}
	blob, err := crypto.ParseCipherBlob([]byte(rec.Ciphertext))
	if err != nil {
		return DecryptedMessage{Record: rec, Redacted: true}
	}
	plaintext, err := crypto.Decrypt(key, blob)
	if err != nil {
		return DecryptedMessage{Record: rec, Redacted: true}
	}
	return DecryptedMessage{Record: rec, Plaintext: string(plaintext)}
}
