package protocol

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xSterling/XChat/crypto"
)

func openSession(t *testing.T, a *actor, groupID GroupID) *ChatSession {
	t.Helper()
	session, err := a.state.OpenSession(context.Background(), groupID)
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func waitMessages(t *testing.T, s *ChatSession, n int) []DecryptedMessage {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Messages()) == n },
		2*time.Second, time.Millisecond,
		"session stuck at %d messages, want %d", len(s.Messages()), n)
	return s.Messages()
}

func TestSendRequiresKey(t *testing.T) {
	_, _, alice, group := setupGroup(t)
	session := openSession(t, alice, group.ID)

	_, err := session.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrKeyNotLoaded)
	require.False(t, session.KeyLoaded())

	// Nothing left the client.
	require.Eventually(t, func() bool { return session.State() == StateLive },
		2*time.Second, time.Millisecond)
	require.Empty(t, session.Messages())
}

func TestMessagesRedactedWithoutKey(t *testing.T) {
	ledger, disclosure, alice, group := setupGroup(t)
	ctx := context.Background()

	sender := openSession(t, alice, group.ID)
	require.NoError(t, sender.LoadKey(ctx))
	_, err := sender.Send(ctx, "first")
	require.NoError(t, err)
	_, err = sender.Send(ctx, "second")
	require.NoError(t, err)

	bob := newActor(t, ledger, disclosure)
	_, err = bob.state.JoinGroup(ctx, group.ID)
	require.NoError(t, err)

	session := openSession(t, bob, group.ID)
	msgs := waitMessages(t, session, 2)
	for _, msg := range msgs {
		require.True(t, msg.Redacted)
		require.Empty(t, msg.Plaintext)
		require.NotEmpty(t, msg.Record.Ciphertext, "ciphertext still flows without a key")
	}
}

func TestLoadKeyRerendersHistory(t *testing.T) {
	ledger, disclosure, alice, group := setupGroup(t)
	ctx := context.Background()

	sender := openSession(t, alice, group.ID)
	require.NoError(t, sender.LoadKey(ctx))
	_, err := sender.Send(ctx, "hello")
	require.NoError(t, err)

	bob := newActor(t, ledger, disclosure)
	_, err = bob.state.JoinGroup(ctx, group.ID)
	require.NoError(t, err)

	session := openSession(t, bob, group.ID)
	waitMessages(t, session, 1)
	require.True(t, session.Messages()[0].Redacted)

	require.NoError(t, session.LoadKey(ctx))
	require.True(t, session.KeyLoaded())

	msgs := session.Messages()
	require.Len(t, msgs, 1)
	require.False(t, msgs[0].Redacted)
	require.Equal(t, "hello", msgs[0].Plaintext)
}

func TestLoadKeyUnauthorized(t *testing.T) {
	ledger, disclosure, alice, group := setupGroup(t)
	ctx := context.Background()

	mallory := newActor(t, ledger, disclosure)
	disclosure.SetAuthorizeFunc(func(requester crypto.PublicKey, handle SecretHandle) error {
		member, err := ledger.IsMember(ctx, group.ID, requester)
		if err != nil {
			return err
		}
		if !member {
			return ErrUnauthorized
		}
		return nil
	})

	// Reads of the public log are open to anyone; plaintext is not.
	session := openSession(t, mallory, group.ID)
	err := session.LoadKey(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, session.KeyLoaded())

	owner := openSession(t, alice, group.ID)
	require.NoError(t, owner.LoadKey(ctx))
}

func TestLoadKeyExpired(t *testing.T) {
	_, disclosure, alice, group := setupGroup(t)
	disclosure.Now = func() time.Time {
		return time.Now().Add(11 * 24 * time.Hour)
	}

	session := openSession(t, alice, group.ID)
	err := session.LoadKey(context.Background())
	require.ErrorIs(t, err, ErrExpired)
	require.False(t, session.KeyLoaded())
}

func TestLoadKeyFailureLeavesKeyState(t *testing.T) {
	_, disclosure, alice, group := setupGroup(t)
	ctx := context.Background()

	session := openSession(t, alice, group.ID)
	require.NoError(t, session.LoadKey(ctx))
	_, err := session.Send(ctx, "before")
	require.NoError(t, err)

	// A later failed reveal must not disturb the loaded key.
	disclosure.SetRevealFunc(func(ctx context.Context, handle SecretHandle, auth *Signed[RevealRequest]) (crypto.SharedSecret, error) {
		return nil, ErrUnavailable
	})
	require.ErrorIs(t, session.LoadKey(ctx), ErrUnavailable)
	require.True(t, session.KeyLoaded())

	msgs := waitMessages(t, session, 1)
	require.Equal(t, "before", msgs[0].Plaintext)
}

func TestChatScenario(t *testing.T) {
	ledger, disclosure, alice, _ := setupGroup(t)
	ctx := context.Background()

	group, err := alice.state.CreateGroup(ctx, "Test")
	require.NoError(t, err)
	require.Equal(t, 1, group.MemberCount)

	bob := newActor(t, ledger, disclosure)
	joined, err := bob.state.JoinGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, joined.MemberCount)

	_, err = bob.state.JoinGroup(ctx, group.ID)
	require.ErrorIs(t, err, ErrAlreadyMember)

	owner := openSession(t, alice, group.ID)
	require.NoError(t, owner.LoadKey(ctx))
	receipt, err := owner.Send(ctx, "hi")
	require.NoError(t, err)
	require.Equal(t, uint64(0), receipt.Seq)

	member := openSession(t, bob, group.ID)
	require.NoError(t, member.LoadKey(ctx))
	msgs := waitMessages(t, member, 1)
	require.Equal(t, "hi", msgs[0].Plaintext)
	require.True(t, msgs[0].Record.Sender.Equal(alice.pub))

	// The sender reads their own message back through the log like any
	// other member.
	ownMsgs := waitMessages(t, owner, 1)
	require.Equal(t, "hi", ownMsgs[0].Plaintext)
}

func TestNonMemberCannotSend(t *testing.T) {
	ledger, disclosure, alice, group := setupGroup(t)
	ctx := context.Background()

	// Leak the key to the outsider to isolate the ledger's membership
	// check from the disclosure policy.
	mallory := newActor(t, ledger, disclosure)
	session := openSession(t, mallory, group.ID)
	require.NoError(t, session.LoadKey(ctx))

	_, err := session.Send(ctx, "intruder")
	require.ErrorIs(t, err, ErrNotMember)

	owner := openSession(t, alice, group.ID)
	require.Eventually(t, func() bool { return owner.State() == StateLive },
		2*time.Second, time.Millisecond)
	require.Empty(t, owner.Messages(), "rejected append must not be stored")
}

func TestFeedDeliversPlaintext(t *testing.T) {
	ledger, disclosure, alice, group := setupGroup(t)
	ctx := context.Background()

	bob := newActor(t, ledger, disclosure)
	_, err := bob.state.JoinGroup(ctx, group.ID)
	require.NoError(t, err)

	session := openSession(t, bob, group.ID)
	require.NoError(t, session.LoadKey(ctx))
	feed := session.Feed()
	require.Eventually(t, func() bool { return session.State() == StateLive },
		2*time.Second, time.Millisecond)

	owner := openSession(t, alice, group.ID)
	require.NoError(t, owner.LoadKey(ctx))
	_, err = owner.Send(ctx, "ping")
	require.NoError(t, err)

	select {
	case msg := <-feed:
		require.False(t, msg.Redacted)
		require.Equal(t, "ping", msg.Plaintext)
	case <-time.After(2 * time.Second):
		t.Fatal("feed delivered nothing")
	}
}

func TestUndecryptableRecordRendersRedacted(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	ctx := context.Background()

	session := openSession(t, alice, group.ID)
	require.NoError(t, session.LoadKey(ctx))
	_, err := session.Send(ctx, "good")
	require.NoError(t, err)

	// A member appends bytes that are not a valid cipher blob. The record
	// stays on the timeline and renders redacted instead of being dropped.
	appendMsg(t, ledger, alice, group.ID, "not-a-cipher-blob")

	msgs := waitMessages(t, session, 2)
	require.Equal(t, "good", msgs[0].Plaintext)
	require.True(t, msgs[1].Redacted)
	require.Equal(t, "not-a-cipher-blob", msgs[1].Record.Ciphertext)
}

func TestSessionCloseUnblocksUnreadFeed(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)

	session := openSession(t, alice, group.ID)
	feed := session.Feed()

	// More records than the feed buffers, with nobody reading it.
	for i := 0; i < 100; i++ {
		appendMsg(t, ledger, alice, group.ID, fmt.Sprintf("msg-%d", i))
	}
	waitMessages(t, session, 100)

	session.Close()

	// The pump must shut down and close the feed rather than hang on the
	// blocked send.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-feed:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("feed never closed after Close")
		}
	}
}

func TestSessionCloseDropsKey(t *testing.T) {
	_, _, alice, group := setupGroup(t)
	ctx := context.Background()

	session, err := alice.state.OpenSession(ctx, group.ID)
	require.NoError(t, err)
	require.NoError(t, session.LoadKey(ctx))
	_, err = session.Send(ctx, "hi")
	require.NoError(t, err)
	waitMessages(t, session, 1)

	session.Close()
	require.False(t, session.KeyLoaded())

	// History survives the close; plaintext access does not.
	msgs := session.Messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Redacted)
}
