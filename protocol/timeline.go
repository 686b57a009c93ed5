package protocol

import "sync"

// Timeline is the per-group ordered, de-duplicated message history. It is
// append-only and session-local: records enter in acceptance order and are
// never re-sorted or removed. The LogIdentity of every accepted record is
// unique within one timeline.
//
// Timeline is safe for concurrent use; the reconciler appends while sessions
// read.
type Timeline struct {
	mu      sync.RWMutex
	records []MessageRecord
	seen    map[LogIdentity]struct{}
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[LogIdentity]struct{})}
}

// Append accepts a record unless its LogIdentity was already accepted.
// First seen wins; a duplicate leaves the timeline untouched and returns
// false.
func (t *Timeline) Append(rec MessageRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[rec.LogID]; dup {
		return false
	}
	t.seen[rec.LogID] = struct{}{}
	t.records = append(t.records, rec)
	return true
}

// Contains reports whether a record with the given identity was accepted.
func (t *Timeline) Contains(id LogIdentity) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[id]
	return ok
}

// At returns the record at position i in acceptance order.
func (t *Timeline) At(i int) (MessageRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.records) {
		return MessageRecord{}, false
	}
	return t.records[i], true
}

// Records returns a copy of the accepted records in acceptance order.
func (t *Timeline) Records() []MessageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]MessageRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of accepted records.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
