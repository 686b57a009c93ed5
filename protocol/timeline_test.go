package protocol

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func record(seq uint64, logID string) MessageRecord {
	return MessageRecord{GroupID: 1, Seq: seq, LogID: LogIdentity(logID)}
}

func TestTimelineAppendAndDedup(t *testing.T) {
	tl := NewTimeline()

	require.True(t, tl.Append(record(0, "tx-a:0")))
	require.True(t, tl.Append(record(1, "tx-b:0")))
	require.False(t, tl.Append(record(1, "tx-b:0")), "same identity must be rejected")
	require.Equal(t, 2, tl.Len())
	require.True(t, tl.Contains("tx-a:0"))
	require.False(t, tl.Contains("tx-c:0"))
}

func TestTimelineFirstSeenWins(t *testing.T) {
	tl := NewTimeline()

	first := record(0, "tx-a:0")
	first.Ciphertext = "original"
	require.True(t, tl.Append(first))

	dup := record(0, "tx-a:0")
	dup.Ciphertext = "imposter"
	require.False(t, tl.Append(dup))

	records := tl.Records()
	require.Len(t, records, 1)
	require.Equal(t, "original", records[0].Ciphertext)
}

func TestTimelineOrderIsAcceptanceOrder(t *testing.T) {
	tl := NewTimeline()

	// Out-of-sequence acceptance must not be re-sorted.
	require.True(t, tl.Append(record(2, "tx-c:0")))
	require.True(t, tl.Append(record(0, "tx-a:0")))
	require.True(t, tl.Append(record(1, "tx-b:0")))

	records := tl.Records()
	require.Equal(t, []uint64{2, 0, 1}, []uint64{records[0].Seq, records[1].Seq, records[2].Seq})
}

func TestTimelineAt(t *testing.T) {
	tl := NewTimeline()
	require.True(t, tl.Append(record(7, "tx-a:0")))
	require.True(t, tl.Append(record(3, "tx-b:0")))

	rec, ok := tl.At(0)
	require.True(t, ok)
	require.Equal(t, uint64(7), rec.Seq)

	rec, ok = tl.At(1)
	require.True(t, ok)
	require.Equal(t, uint64(3), rec.Seq)

	_, ok = tl.At(2)
	require.False(t, ok)
	_, ok = tl.At(-1)
	require.False(t, ok)
}

func TestTimelineRecordsReturnsCopy(t *testing.T) {
	tl := NewTimeline()
	require.True(t, tl.Append(record(0, "tx-a:0")))

	records := tl.Records()
	records[0].Ciphertext = "mutated"
	require.Equal(t, "", tl.Records()[0].Ciphertext)
}

func TestTimelineConcurrentAppends(t *testing.T) {
	tl := NewTimeline()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// All workers race over the same identities.
			for i := 0; i < 100; i++ {
				tl.Append(record(uint64(i), fmt.Sprintf("tx-%d:0", i)))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 100, tl.Len())
	seen := make(map[LogIdentity]struct{})
	for _, rec := range tl.Records() {
		_, dup := seen[rec.LogID]
		require.False(t, dup, "identity %s accepted twice", rec.LogID)
		seen[rec.LogID] = struct{}{}
	}
}
