package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ReconcilerState tracks where a reconciler is in its lifecycle.
type ReconcilerState int32

const (
	// StateEmpty: created, not started.
	StateEmpty ReconcilerState = iota
	// StateLoading: historical read in progress, live deliveries buffered.
	StateLoading
	// StateLive: history seeded, subscription deliveries flow directly.
	StateLive
)

func (s ReconcilerState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// LogReconciler merges one group's historical range reads and live
// subscription deliveries into a single append-only Timeline.
//
// The two delivery paths race freely: live events may arrive before the
// historical read completes, either path may duplicate the other, and the
// subscription may drop and miss records. The reconciler restores order
// without ever re-sorting accepted records:
//
//   - the subscription is opened before history loads, and its deliveries
//     are buffered until historical seeding completes, so nothing is dropped
//   - history is paged from genesis to head, retried with backoff on
//     transient failure
//   - every record passes through the Timeline's first-seen-wins
//     de-duplication keyed by LogIdentity
//   - a dropped subscription triggers resubscription plus a bounded
//     historical re-read covering the suspected gap, as does a sequence jump
//     observed on the live path
//
// Accepted records are also streamed, in acceptance order, on the channel
// returned by Records. Delivery is decoupled from acceptance: the stream is
// pumped from the timeline only once a consumer asks for the channel, so a
// slow or absent consumer never blocks seeding or the live path. Closing
// the reconciler (or cancelling the Start context) closes the subscription
// and the channel; the timeline keeps everything accepted so far.
type LogReconciler struct {
	ledger  Ledger
	config  *ChatConfig
	groupID GroupID
	log     *slog.Logger

	timeline *Timeline
	out      chan MessageRecord
	notify   chan struct{}

	state   atomic.Int32
	lastSeq atomic.Int64 // highest accepted seq, -1 before the first record
	loadErr atomic.Error

	startOnce    sync.Once
	closeOnce    sync.Once
	dispatchOnce sync.Once
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewLogReconciler creates a reconciler for one group. It does nothing until
// Start.
func NewLogReconciler(ledger Ledger, groupID GroupID, config *ChatConfig, log *slog.Logger) *LogReconciler {
	if log == nil {
		log = slog.Default()
	}
	r := &LogReconciler{
		ledger:   ledger,
		config:   config.withDefaults(),
		groupID:  groupID,
		log:      log.With("group", uint64(groupID)),
		timeline: NewTimeline(),
		out:      make(chan MessageRecord, 256),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	r.lastSeq.Store(-1)
	return r
}

// Start opens the subscription and begins historical seeding. It returns
// immediately; reconciliation runs until ctx is cancelled or Close is
// called. Calling Start twice is a no-op.
func (r *LogReconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		r.state.Store(int32(StateLoading))
		go r.run(ctx)
	})
}

// Records returns the channel of accepted records in acceptance order. The
// stream starts from the first accepted record regardless of when the
// consumer attaches; the channel is closed when the reconciler stops.
func (r *LogReconciler) Records() <-chan MessageRecord {
	r.dispatchOnce.Do(func() { go r.dispatch() })
	return r.out
}

// dispatch pumps the timeline onto the out channel. It runs only once a
// consumer asks for the channel, so acceptance never blocks on delivery.
func (r *LogReconciler) dispatch() {
	defer close(r.out)
	next := 0
	for {
		for {
			select {
			case <-r.done:
				return
			default:
			}
			rec, ok := r.timeline.At(next)
			if !ok {
				break
			}
			select {
			case r.out <- rec:
				next++
			case <-r.done:
				return
			}
		}
		select {
		case <-r.notify:
		case <-r.done:
			return
		}
	}
}

// Timeline returns the reconciler's timeline. It remains readable after the
// reconciler stops.
func (r *LogReconciler) Timeline() *Timeline {
	return r.timeline
}

// State returns the current lifecycle state.
func (r *LogReconciler) State() ReconcilerState {
	return ReconcilerState(r.state.Load())
}

// Err returns the terminal error if reconciliation stopped on its own,
// typically a historical read that stayed failed past the retry budget.
func (r *LogReconciler) Err() error {
	return r.loadErr.Load()
}

// Close stops reconciliation and waits for the worker to finish. Accepted
// records remain available through Timeline.
func (r *LogReconciler) Close() {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		} else {
			close(r.done)
		}
	})
}

func (r *LogReconciler) run(ctx context.Context) {
	defer close(r.done)

	// Open the live feed first so that records appended while history loads
	// are seen on at least one path.
	sub := r.subscribeWithRetry(ctx)
	if sub == nil {
		return
	}
	defer func() {
		if sub != nil {
			sub.Cancel()
		}
	}()

	histDone := make(chan error, 1)
	go func() { histDone <- r.loadHistory(ctx) }()

	// Loading: buffer live deliveries until historical seeding completes so
	// they are merged behind history, not dropped or interleaved into it.
	var buffered []MessageRecord
	subRecords := sub.Records()
	subDropped := false
loading:
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-subRecords:
			if !ok {
				subDropped = true
				subRecords = nil // stop selecting on it
				continue
			}
			buffered = append(buffered, rec)
		case err := <-histDone:
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.log.Error("historical seeding failed", "err", err)
					r.loadErr.Store(err)
				}
				return
			}
			break loading
		}
	}

	for _, rec := range buffered {
		r.accept(rec)
	}
	r.state.Store(int32(StateLive))
	r.log.Debug("reconciler live", "records", r.timeline.Len())

	for {
		if subDropped {
			sub.Cancel()
			sub = r.subscribeWithRetry(ctx)
			if sub == nil {
				return
			}
			subRecords = sub.Records()
			subDropped = false
			// Re-read anything appended while the subscription was down.
			if err := r.fillGap(ctx, Cursor("")); err != nil {
				if !errors.Is(err, context.Canceled) {
					r.loadErr.Store(err)
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case rec, ok := <-subRecords:
			if !ok {
				r.log.Warn("subscription dropped", "err", sub.Err())
				subDropped = true
				continue
			}
			if !r.handleLive(ctx, rec) {
				return
			}
		}
	}
}

// handleLive processes one live delivery: fill any sequence gap ahead of it
// with a bounded historical read, then accept the record itself.
func (r *LogReconciler) handleLive(ctx context.Context, rec MessageRecord) bool {
	last := r.lastSeq.Load()
	if int64(rec.Seq) > last+1 {
		r.log.Debug("gap on live path", "last", last, "next", rec.Seq)
		if err := r.fillGap(ctx, CursorAt(rec.Seq)); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.loadErr.Store(err)
			}
			return false
		}
	}
	r.accept(rec)
	return true
}

// accept runs a record through de-duplication and, if it is new, advances
// the seq high-water mark and wakes the delivery stream. It never blocks.
func (r *LogReconciler) accept(rec MessageRecord) {
	if !r.timeline.Append(rec) {
		return
	}
	for {
		last := r.lastSeq.Load()
		if int64(rec.Seq) <= last || r.lastSeq.CompareAndSwap(last, int64(rec.Seq)) {
			break
		}
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// loadHistory pages the group's full history from genesis to head, retrying
// transient failures with bounded backoff.
func (r *LogReconciler) loadHistory(ctx context.Context) error {
	return r.readRange(ctx, Cursor(""), Cursor(""))
}

// fillGap re-reads the window between the last accepted record and `to`
// (exclusive of records already accepted; duplicates collapse in the
// timeline anyway).
func (r *LogReconciler) fillGap(ctx context.Context, to Cursor) error {
	from := Cursor("")
	if last := r.lastSeq.Load(); last >= 0 {
		from = CursorAt(uint64(last) + 1)
	}
	return r.readRange(ctx, from, to)
}

// readRange pages [from, to] through the ledger, accepting every record.
func (r *LogReconciler) readRange(ctx context.Context, from, to Cursor) error {
	attempt := 0
	for {
		records, next, err := r.ledger.RangeRead(ctx, r.groupID, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			if IsTransient(err) && attempt < r.config.MaxRetryAttempts {
				delay := r.config.backoffDelay(attempt)
				attempt++
				r.log.Debug("range read failed, retrying", "attempt", attempt, "delay", delay, "err", err)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return context.Canceled
				}
			}
			return fmt.Errorf("range read [%s, %s]: %w", from, to, err)
		}
		attempt = 0

		for _, rec := range records {
			r.accept(rec)
		}

		if next == "" {
			return nil
		}
		from = next
	}
}

// subscribeWithRetry opens the live subscription, retrying transient
// failures indefinitely with capped backoff. Returns nil when ctx ends
// first.
func (r *LogReconciler) subscribeWithRetry(ctx context.Context) Subscription {
	attempt := 0
	for {
		sub, err := r.ledger.Subscribe(ctx, r.groupID)
		if err == nil {
			return sub
		}
		if ctx.Err() != nil {
			return nil
		}
		delay := r.config.backoffDelay(attempt)
		if attempt < r.config.MaxRetryAttempts {
			attempt++
		}
		r.log.Debug("subscribe failed, retrying", "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}
