package protocol

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xSterling/XChat/crypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConfig keeps retry backoff out of test wall time.
func fastConfig() *ChatConfig {
	return &ChatConfig{
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		MaxRetryAttempts: 3,
	}
}

type actor struct {
	state  *GroupState
	signer crypto.PrivateKey
	pub    crypto.PublicKey
}

func newActor(t *testing.T, ledger Ledger, disclosure SecretDisclosure) *actor {
	t.Helper()
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	state, err := NewGroupState(ledger, disclosure, priv, fastConfig(), testLogger())
	require.NoError(t, err)
	return &actor{state: state, signer: priv, pub: pub}
}

func TestCreateGroupValidatesName(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	ctx := context.Background()

	_, err := alice.state.CreateGroup(ctx, "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = alice.state.CreateGroup(ctx, "   ")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = alice.state.CreateGroup(ctx, strings.Repeat("x", 65))
	require.ErrorIs(t, err, ErrInvalidArgument)

	// Nothing reached the ledger.
	groups, err := ledger.ListGroups(ctx)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestCreateGroupBookkeeping(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	ctx := context.Background()

	group, err := alice.state.CreateGroup(ctx, "Test")
	require.NoError(t, err)
	require.Equal(t, GroupID(1), group.ID)
	require.Equal(t, "Test", group.Name)
	require.Equal(t, 1, group.MemberCount)
	require.True(t, group.Owner.Equal(alice.pub))
	require.NotEmpty(t, group.SecretHandle)

	member, err := alice.state.IsMember(ctx, group.ID, alice.pub)
	require.NoError(t, err)
	require.True(t, member, "owner is the first member")
}

func TestGroupIDsAreMonotone(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	ctx := context.Background()

	for i, name := range []string{"one", "two", "three"} {
		group, err := alice.state.CreateGroup(ctx, name)
		require.NoError(t, err)
		require.Equal(t, GroupID(i+1), group.ID)
	}

	groups, err := alice.state.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.Equal(t, "two", groups[1].Name)
}

func TestJoinGroup(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	bob := newActor(t, ledger, disclosure)
	ctx := context.Background()

	group, err := alice.state.CreateGroup(ctx, "Test")
	require.NoError(t, err)

	joined, err := bob.state.JoinGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, joined.MemberCount)

	member, err := bob.state.IsMember(ctx, group.ID, bob.pub)
	require.NoError(t, err)
	require.True(t, member)
}

func TestJoinGroupTwiceFails(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	bob := newActor(t, ledger, disclosure)
	ctx := context.Background()

	group, err := alice.state.CreateGroup(ctx, "Test")
	require.NoError(t, err)

	_, err = bob.state.JoinGroup(ctx, group.ID)
	require.NoError(t, err)
	_, err = bob.state.JoinGroup(ctx, group.ID)
	require.ErrorIs(t, err, ErrAlreadyMember)

	// Membership count is unchanged by the failed join.
	got, err := alice.state.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.MemberCount)
}

func TestJoinUnknownGroup(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	bob := newActor(t, ledger, disclosure)

	_, err := bob.state.JoinGroup(context.Background(), 42)
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestCreateGroupSecretNeverOnLedger(t *testing.T) {
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	ctx := context.Background()

	group, err := alice.state.CreateGroup(ctx, "Test")
	require.NoError(t, err)

	// The ledger's record carries only the opaque handle; the secret itself
	// is recoverable solely through the disclosure service.
	auth, err := NewSigned(alice.signer, &RevealRequest{
		Handles:  []SecretHandle{group.SecretHandle},
		IssuedAt: time.Now().UTC(),
		ValidFor: time.Hour,
	})
	require.NoError(t, err)
	secret, err := disclosure.Reveal(ctx, group.SecretHandle, auth)
	require.NoError(t, err)
	require.Len(t, []byte(secret), crypto.SharedSecretSize)
	require.NotContains(t, string(group.SecretHandle), secret.String())
}
