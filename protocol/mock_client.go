package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xSterling/XChat/crypto"
)

// MockLedger is an in-memory Ledger for testing. It enforces the real
// membership rules (ErrNotMember, ErrAlreadyMember), assigns monotone group
// ids and dense per-group sequence numbers, stamps LogIdentities, and pushes
// appends to live subscriptions. Behavior can be customized by setting
// function implementations, typically to inject transient failures or
// duplicate deliveries.
type MockLedger struct {
	mu       sync.Mutex
	groups   map[GroupID]*Group
	members  map[GroupID]map[string]struct{}
	messages map[GroupID][]MessageRecord
	subs     map[GroupID][]*mockSubscription
	nextID   GroupID

	// PageSize caps RangeRead windows; 0 means unlimited.
	PageSize int

	rangeReadFunc func(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error)
	appendFunc    func(ctx context.Context, msg *Signed[MessageSubmission]) (*AppendReceipt, error)
	subscribeFunc func(ctx context.Context, groupID GroupID) (Subscription, error)
}

// NewMockLedger creates an empty mock ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		groups:   make(map[GroupID]*Group),
		members:  make(map[GroupID]map[string]struct{}),
		messages: make(map[GroupID][]MessageRecord),
		subs:     make(map[GroupID][]*mockSubscription),
	}
}

// SetRangeReadFunc overrides RangeRead, e.g. to fail transiently or cap
// pages differently per call. Pass nil to restore the default.
func (m *MockLedger) SetRangeReadFunc(fn func(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rangeReadFunc = fn
}

// SetAppendMessageFunc overrides AppendMessage.
func (m *MockLedger) SetAppendMessageFunc(fn func(ctx context.Context, msg *Signed[MessageSubmission]) (*AppendReceipt, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendFunc = fn
}

// SetSubscribeFunc overrides Subscribe.
func (m *MockLedger) SetSubscribeFunc(fn func(ctx context.Context, groupID GroupID) (Subscription, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeFunc = fn
}

// CreateGroup implements Ledger.
func (m *MockLedger) CreateGroup(ctx context.Context, req *Signed[GroupCreation]) (*Group, error) {
	creation, owner, err := req.Recover()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	group := &Group{
		ID:           m.nextID,
		Name:         creation.Name,
		Owner:        owner,
		CreatedAt:    creation.CreatedAt,
		MemberCount:  1,
		SecretHandle: creation.SecretHandle,
	}
	m.groups[group.ID] = group
	m.members[group.ID] = map[string]struct{}{owner.String(): {}}

	out := *group
	return &out, nil
}

// JoinGroup implements Ledger.
func (m *MockLedger) JoinGroup(ctx context.Context, req *Signed[JoinRequest]) (*Group, error) {
	join, principal, err := req.Recover()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[join.GroupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if _, member := m.members[join.GroupID][principal.String()]; member {
		return nil, ErrAlreadyMember
	}
	m.members[join.GroupID][principal.String()] = struct{}{}
	group.MemberCount++

	out := *group
	return &out, nil
}

// AppendMessage implements Ledger. Non-member submissions fail with
// ErrNotMember and are never stored.
func (m *MockLedger) AppendMessage(ctx context.Context, msg *Signed[MessageSubmission]) (*AppendReceipt, error) {
	m.mu.Lock()
	fn := m.appendFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}

	submission, sender, err := msg.Recover()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[submission.GroupID]; !ok {
		return nil, ErrGroupNotFound
	}
	if _, member := m.members[submission.GroupID][sender.String()]; !member {
		return nil, ErrNotMember
	}

	rec := MessageRecord{
		GroupID:    submission.GroupID,
		Sender:     sender,
		Ciphertext: submission.Ciphertext,
		Timestamp:  time.Now().UTC(),
		Seq:        uint64(len(m.messages[submission.GroupID])),
		LogID:      LogIdentity(uuid.New().String() + ":0"),
	}
	m.messages[submission.GroupID] = append(m.messages[submission.GroupID], rec)

	for _, sub := range m.subs[submission.GroupID] {
		sub.deliver(rec)
	}

	return &AppendReceipt{LogID: rec.LogID, Seq: rec.Seq, Timestamp: rec.Timestamp}, nil
}

// RangeRead implements Ledger.
func (m *MockLedger) RangeRead(ctx context.Context, groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error) {
	m.mu.Lock()
	fn := m.rangeReadFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, groupID, from, to)
	}
	return m.rangeRead(groupID, from, to)
}

// rangeRead is the default RangeRead, also callable from an override that
// only wants to fail the first few attempts.
func (m *MockLedger) rangeRead(groupID GroupID, from, to Cursor) ([]MessageRecord, Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, "", ErrGroupNotFound
	}

	log := m.messages[groupID]
	start := uint64(0)
	if seq, ok := from.Seq(); ok {
		start = seq
	}
	end := uint64(len(log))
	if seq, ok := to.Seq(); ok && seq+1 < end {
		end = seq + 1
	}
	if start >= end {
		return nil, "", nil
	}

	window := log[start:end]
	next := Cursor("")
	if m.PageSize > 0 && len(window) > m.PageSize {
		window = window[:m.PageSize]
		next = CursorAt(start + uint64(m.PageSize))
	}

	out := make([]MessageRecord, len(window))
	copy(out, window)
	return out, next, nil
}

// Subscribe implements Ledger.
func (m *MockLedger) Subscribe(ctx context.Context, groupID GroupID) (Subscription, error) {
	m.mu.Lock()
	fn := m.subscribeFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, groupID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, ErrGroupNotFound
	}
	sub := newMockSubscription()
	m.subs[groupID] = append(m.subs[groupID], sub)
	return sub, nil
}

// ReadGroup implements Ledger.
func (m *MockLedger) ReadGroup(ctx context.Context, groupID GroupID) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	out := *group
	return &out, nil
}

// ListGroups implements Ledger.
func (m *MockLedger) ListGroups(ctx context.Context) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Group, 0, len(m.groups))
	for id := GroupID(1); id <= m.nextID; id++ {
		if group, ok := m.groups[id]; ok {
			out = append(out, *group)
		}
	}
	return out, nil
}

// IsMember implements Ledger.
func (m *MockLedger) IsMember(ctx context.Context, groupID GroupID, principal crypto.PublicKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return false, ErrGroupNotFound
	}
	_, member := m.members[groupID][principal.String()]
	return member, nil
}

// DropSubscriptions terminates every live subscription of the group with the
// given error, simulating a transport failure.
func (m *MockLedger) DropSubscriptions(groupID GroupID, err error) {
	m.mu.Lock()
	subs := m.subs[groupID]
	m.subs[groupID] = nil
	m.mu.Unlock()
	for _, sub := range subs {
		sub.fail(err)
	}
}

// Redeliver pushes an already-stored record to live subscribers again,
// simulating a duplicate delivery.
func (m *MockLedger) Redeliver(groupID GroupID, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[groupID]
	if seq >= uint64(len(log)) {
		return
	}
	for _, sub := range m.subs[groupID] {
		sub.deliver(log[seq])
	}
}

type mockSubscription struct {
	ch   chan MessageRecord
	once sync.Once

	mu     sync.Mutex
	err    error
	closed bool
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{ch: make(chan MessageRecord, 256)}
}

func (s *mockSubscription) Records() <-chan MessageRecord { return s.ch }

func (s *mockSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mockSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *mockSubscription) deliver(rec MessageRecord) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
	}
}

func (s *mockSubscription) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	s.Cancel()
}

// MockDisclosure is an in-memory SecretDisclosure for testing. It stores
// issued secrets under opaque handles and checks reveal authorizations for
// signature validity, handle coverage, and validity window. An authorize
// function can be set to deny specific requesters.
type MockDisclosure struct {
	mu      sync.Mutex
	secrets map[SecretHandle]crypto.SharedSecret

	// Now is the clock used for validity-window checks. Defaults to
	// time.Now.
	Now func() time.Time

	authorizeFunc func(requester crypto.PublicKey, handle SecretHandle) error
	revealFunc    func(ctx context.Context, handle SecretHandle, auth *Signed[RevealRequest]) (crypto.SharedSecret, error)
}

// NewMockDisclosure creates an empty mock disclosure service that authorizes
// every valid request.
func NewMockDisclosure() *MockDisclosure {
	return &MockDisclosure{
		secrets: make(map[SecretHandle]crypto.SharedSecret),
		Now:     time.Now,
	}
}

// SetAuthorizeFunc installs an entitlement policy; a non-nil return denies
// the reveal with that error.
func (m *MockDisclosure) SetAuthorizeFunc(fn func(requester crypto.PublicKey, handle SecretHandle) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizeFunc = fn
}

// SetRevealFunc overrides Reveal entirely, e.g. to fail transiently.
func (m *MockDisclosure) SetRevealFunc(fn func(ctx context.Context, handle SecretHandle, auth *Signed[RevealRequest]) (crypto.SharedSecret, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revealFunc = fn
}

// IssueHandle implements SecretDisclosure.
func (m *MockDisclosure) IssueHandle(ctx context.Context, req *Signed[IssueRequest]) (SecretHandle, error) {
	issue, _, err := req.Recover()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	secret, err := crypto.NewSharedSecretFromString(issue.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	handle := SecretHandle("handle-" + uuid.New().String())
	m.secrets[handle] = secret
	return handle, nil
}

// Reveal implements SecretDisclosure.
func (m *MockDisclosure) Reveal(ctx context.Context, handle SecretHandle, auth *Signed[RevealRequest]) (crypto.SharedSecret, error) {
	m.mu.Lock()
	fn := m.revealFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, handle, auth)
	}

	req, requester, err := auth.Recover()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}

	covered := false
	for _, h := range req.Handles {
		if h == handle {
			covered = true
			break
		}
	}
	if !covered {
		return nil, fmt.Errorf("%w: authorization does not cover handle", ErrUnauthorized)
	}

	if m.Now().After(req.IssuedAt.Add(req.ValidFor)) {
		return nil, ErrExpired
	}

	m.mu.Lock()
	secret, ok := m.secrets[handle]
	authorize := m.authorizeFunc
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown handle", ErrUnauthorized)
	}
	if authorize != nil {
		if err := authorize(requester, handle); err != nil {
			return nil, err
		}
	}

	out := make(crypto.SharedSecret, len(secret))
	copy(out, secret)
	return out, nil
}
