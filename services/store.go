package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/0xSterling/XChat/protocol"
)

// ErrSecretNotFound indicates no secret is stored under a handle.
var ErrSecretNotFound = errors.New("secret not found")

// LedgerStore persists the ledger's groups, membership, and message log.
// Implementations return protocol.ErrGroupNotFound and protocol.ErrAlreadyMember
// for the corresponding conditions; the ledger service maps them onto the
// wire unchanged.
type LedgerStore interface {
	// CreateGroup persists a group and returns its assigned id. The owner
	// is recorded as the first member.
	CreateGroup(ctx context.Context, group *protocol.Group) (protocol.GroupID, error)

	// ReadGroup returns one group's bookkeeping record.
	ReadGroup(ctx context.Context, id protocol.GroupID) (*protocol.Group, error)

	// ListGroups returns all groups in id order.
	ListGroups(ctx context.Context) ([]protocol.Group, error)

	// AddMember records a membership and returns the new member count.
	AddMember(ctx context.Context, id protocol.GroupID, principal string) (int, error)

	// IsMember reports whether principal has joined the group.
	IsMember(ctx context.Context, id protocol.GroupID, principal string) (bool, error)

	// NextSeq returns the sequence number the next append will get.
	NextSeq(ctx context.Context, id protocol.GroupID) (uint64, error)

	// AppendMessage persists one ledger-stamped record.
	AppendMessage(ctx context.Context, rec *protocol.MessageRecord) error

	// ReadRange returns up to limit records of the group with
	// fromSeq <= seq <= toSeq, in sequence order.
	ReadRange(ctx context.Context, id protocol.GroupID, fromSeq, toSeq uint64, limit int) ([]protocol.MessageRecord, error)
}

// SecretStore persists disclosure-service secrets keyed by opaque handle.
type SecretStore interface {
	SaveSecret(ctx context.Context, handle protocol.SecretHandle, secret string) error
	LoadSecret(ctx context.Context, handle protocol.SecretHandle) (string, error)
}

// InMemoryStore implements LedgerStore and SecretStore without a database,
// for tests and single-process demos.
type InMemoryStore struct {
	mu       sync.Mutex
	groups   map[protocol.GroupID]*protocol.Group
	members  map[protocol.GroupID]map[string]struct{}
	messages map[protocol.GroupID][]protocol.MessageRecord
	secrets  map[protocol.SecretHandle]string
	nextID   protocol.GroupID
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		groups:   make(map[protocol.GroupID]*protocol.Group),
		members:  make(map[protocol.GroupID]map[string]struct{}),
		messages: make(map[protocol.GroupID][]protocol.MessageRecord),
		secrets:  make(map[protocol.SecretHandle]string),
	}
}

func (s *InMemoryStore) CreateGroup(ctx context.Context, group *protocol.Group) (protocol.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := *group
	stored.ID = s.nextID
	stored.MemberCount = 1
	s.groups[stored.ID] = &stored
	s.members[stored.ID] = map[string]struct{}{group.Owner.String(): {}}
	return stored.ID, nil
}

func (s *InMemoryStore) ReadGroup(ctx context.Context, id protocol.GroupID) (*protocol.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, protocol.ErrGroupNotFound
	}
	out := *group
	return &out, nil
}

func (s *InMemoryStore) ListGroups(ctx context.Context) ([]protocol.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) AddMember(ctx context.Context, id protocol.GroupID, principal string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return 0, protocol.ErrGroupNotFound
	}
	if _, member := s.members[id][principal]; member {
		return 0, protocol.ErrAlreadyMember
	}
	s.members[id][principal] = struct{}{}
	group.MemberCount++
	return group.MemberCount, nil
}

func (s *InMemoryStore) IsMember(ctx context.Context, id protocol.GroupID, principal string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return false, protocol.ErrGroupNotFound
	}
	_, member := s.members[id][principal]
	return member, nil
}

func (s *InMemoryStore) NextSeq(ctx context.Context, id protocol.GroupID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return 0, protocol.ErrGroupNotFound
	}
	return uint64(len(s.messages[id])), nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, rec *protocol.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[rec.GroupID]; !ok {
		return protocol.ErrGroupNotFound
	}
	s.messages[rec.GroupID] = append(s.messages[rec.GroupID], *rec)
	return nil
}

func (s *InMemoryStore) ReadRange(ctx context.Context, id protocol.GroupID, fromSeq, toSeq uint64, limit int) ([]protocol.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return nil, protocol.ErrGroupNotFound
	}

	log := s.messages[id]
	var out []protocol.MessageRecord
	for _, rec := range log {
		if rec.Seq < fromSeq || rec.Seq > toSeq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveSecret(ctx context.Context, handle protocol.SecretHandle, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[handle] = secret
	return nil
}

func (s *InMemoryStore) LoadSecret(ctx context.Context, handle protocol.SecretHandle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[handle]
	if !ok {
		return "", ErrSecretNotFound
	}
	return secret, nil
}
