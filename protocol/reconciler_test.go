package protocol

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupGroup(t *testing.T) (*MockLedger, *MockDisclosure, *actor, *Group) {
	t.Helper()
	ledger := NewMockLedger()
	disclosure := NewMockDisclosure()
	alice := newActor(t, ledger, disclosure)
	group, err := alice.state.CreateGroup(context.Background(), "Test")
	require.NoError(t, err)
	return ledger, disclosure, alice, group
}

func appendMsg(t *testing.T, ledger Ledger, a *actor, groupID GroupID, body string) *AppendReceipt {
	t.Helper()
	msg, err := NewSigned(a.signer, &MessageSubmission{
		GroupID:    groupID,
		Ciphertext: body,
		SentAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	receipt, err := ledger.AppendMessage(context.Background(), msg)
	require.NoError(t, err)
	return receipt
}

func waitLive(t *testing.T, r *LogReconciler) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State() == StateLive },
		2*time.Second, time.Millisecond, "reconciler never went live")
}

func waitTimelineLen(t *testing.T, r *LogReconciler, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Timeline().Len() == n },
		2*time.Second, time.Millisecond,
		"timeline stuck at %d records, want %d", r.Timeline().Len(), n)
}

func requireSeqOrder(t *testing.T, records []MessageRecord, want ...uint64) {
	t.Helper()
	got := make([]uint64, len(records))
	for i, rec := range records {
		got[i] = rec.Seq
	}
	require.Equal(t, want, got)
}

func TestReconcilerSeedsHistory(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	for i := 0; i < 5; i++ {
		appendMsg(t, ledger, alice, group.ID, fmt.Sprintf("msg-%d", i))
	}

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()

	waitLive(t, r)
	requireSeqOrder(t, r.Timeline().Records(), 0, 1, 2, 3, 4)

	// The channel carries the same records in the same order.
	for i := 0; i < 5; i++ {
		select {
		case rec := <-r.Records():
			require.Equal(t, uint64(i), rec.Seq)
		case <-time.After(time.Second):
			t.Fatal("record channel starved")
		}
	}
}

func TestReconcilerPagesHistory(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	ledger.PageSize = 2
	for i := 0; i < 5; i++ {
		appendMsg(t, ledger, alice, group.ID, fmt.Sprintf("msg-%d", i))
	}

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()

	waitLive(t, r)
	requireSeqOrder(t, r.Timeline().Records(), 0, 1, 2, 3, 4)
}

func TestReconcilerSeedsLargeHistoryWithoutReader(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	const n = 300 // larger than any delivery buffer
	for i := 0; i < n; i++ {
		appendMsg(t, ledger, alice, group.ID, fmt.Sprintf("msg-%d", i))
	}

	// Nobody reads Records; seeding must still complete.
	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()

	waitLive(t, r)
	waitTimelineLen(t, r, n)

	// A consumer attaching after the fact still gets the full history in
	// acceptance order.
	for i := 0; i < n; i++ {
		select {
		case rec := <-r.Records():
			require.Equal(t, uint64(i), rec.Seq)
		case <-time.After(time.Second):
			t.Fatalf("stream starved at record %d", i)
		}
	}
}

func TestReconcilerBuffersLiveDuringLoad(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	appendMsg(t, ledger, alice, group.ID, "old-0")
	appendMsg(t, ledger, alice, group.ID, "old-1")

	// Hold the historical read open until the live path has seen records.
	gate := make(chan struct{})
	ledger.SetRangeReadFunc(func(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error) {
		<-gate
		return ledger.rangeRead(groupID, from, to)
	})

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()

	// Live appends land while history is still loading.
	appendMsg(t, ledger, alice, group.ID, "live-2")
	appendMsg(t, ledger, alice, group.ID, "live-3")
	require.Equal(t, StateLoading, r.State())
	require.Equal(t, 0, r.Timeline().Len(), "nothing accepted before seeding completes")

	close(gate)
	waitLive(t, r)

	// History first, buffered live records merged behind it, duplicates
	// collapsed.
	waitTimelineLen(t, r, 4)
	requireSeqOrder(t, r.Timeline().Records(), 0, 1, 2, 3)
}

func TestReconcilerDeduplicatesRedelivery(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	appendMsg(t, ledger, alice, group.ID, "msg-0")

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()
	waitLive(t, r)

	ledger.Redeliver(group.ID, 0)
	ledger.Redeliver(group.ID, 0)
	appendMsg(t, ledger, alice, group.ID, "msg-1")

	waitTimelineLen(t, r, 2)
	requireSeqOrder(t, r.Timeline().Records(), 0, 1)
}

func TestReconcilerRetriesTransientHistory(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	appendMsg(t, ledger, alice, group.ID, "msg-0")
	appendMsg(t, ledger, alice, group.ID, "msg-1")

	failures := 2
	ledger.SetRangeReadFunc(func(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error) {
		if failures > 0 {
			failures--
			return nil, "", ErrUnavailable
		}
		return ledger.rangeRead(groupID, from, to)
	})

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()

	waitLive(t, r)
	require.NoError(t, r.Err())
	requireSeqOrder(t, r.Timeline().Records(), 0, 1)
}

func TestReconcilerSurfacesPersistentFailure(t *testing.T) {
	ledger, _, _, group := setupGroup(t)
	ledger.SetRangeReadFunc(func(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error) {
		return nil, "", ErrUnavailable
	})

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()

	select {
	case _, ok := <-r.Records():
		require.False(t, ok, "no record should be delivered")
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
	require.ErrorIs(t, r.Err(), ErrUnavailable)
	require.NotEqual(t, StateLive, r.State())
}

func TestReconcilerResubscribesAfterDrop(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	appendMsg(t, ledger, alice, group.ID, "msg-0")

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()
	waitLive(t, r)
	waitTimelineLen(t, r, 1)

	ledger.DropSubscriptions(group.ID, ErrUnavailable)
	appendMsg(t, ledger, alice, group.ID, "msg-1")
	appendMsg(t, ledger, alice, group.ID, "msg-2")

	// The gap re-read after resubscription recovers everything appended
	// while the feed was down.
	waitTimelineLen(t, r, 3)
	requireSeqOrder(t, r.Timeline().Records(), 0, 1, 2)
}

func TestReconcilerFillsLiveGap(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)

	// Hand the reconciler a subscription under test control so deliveries
	// can skip ahead of the log.
	sub := newMockSubscription()
	ledger.SetSubscribeFunc(func(ctx context.Context, groupID GroupID) (Subscription, error) {
		return sub, nil
	})

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	defer r.Close()
	waitLive(t, r)

	appendMsg(t, ledger, alice, group.ID, "msg-0")
	appendMsg(t, ledger, alice, group.ID, "msg-1")
	receipt := appendMsg(t, ledger, alice, group.ID, "msg-2")

	// Only the head record arrives on the live path; the two before it must
	// come from the gap re-read it triggers.
	sub.deliver(MessageRecord{
		GroupID:    group.ID,
		Sender:     alice.pub,
		Ciphertext: "msg-2",
		Timestamp:  receipt.Timestamp,
		Seq:        receipt.Seq,
		LogID:      receipt.LogID,
	})

	waitTimelineLen(t, r, 3)
	requireSeqOrder(t, r.Timeline().Records(), 0, 1, 2)
}

func TestTwoObserversConverge(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	appendMsg(t, ledger, alice, group.ID, "msg-0")

	r1 := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r1.Start(context.Background())
	defer r1.Close()
	waitLive(t, r1)

	appendMsg(t, ledger, alice, group.ID, "msg-1")

	// The second observer starts late and sees part of the log as history
	// that the first saw live.
	r2 := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r2.Start(context.Background())
	defer r2.Close()
	waitLive(t, r2)

	appendMsg(t, ledger, alice, group.ID, "msg-2")
	ledger.Redeliver(group.ID, 1)
	appendMsg(t, ledger, alice, group.ID, "msg-3")

	waitTimelineLen(t, r1, 4)
	waitTimelineLen(t, r2, 4)

	recs1 := r1.Timeline().Records()
	recs2 := r2.Timeline().Records()
	for i := range recs1 {
		require.Equal(t, recs1[i].LogID, recs2[i].LogID, "observers disagree at position %d", i)
	}
}

func TestReconcilerCloseKeepsTimeline(t *testing.T) {
	ledger, _, alice, group := setupGroup(t)
	appendMsg(t, ledger, alice, group.ID, "msg-0")

	r := NewLogReconciler(ledger, group.ID, fastConfig(), testLogger())
	r.Start(context.Background())
	waitLive(t, r)
	waitTimelineLen(t, r, 1)

	r.Close()
	r.Close() // idempotent

	_, ok := <-r.Records()
	require.False(t, ok, "record channel must be closed")
	require.Equal(t, 1, r.Timeline().Len())
}
