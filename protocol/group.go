package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/0xSterling/XChat/crypto"
)

// GroupState exposes group bookkeeping against the ledger and disclosure
// collaborators on behalf of one principal. It holds no state of its own
// beyond the injected dependencies: groups and membership live on the
// ledger, secrets in the disclosure service.
type GroupState struct {
	ledger     Ledger
	disclosure SecretDisclosure
	config     *ChatConfig
	log        *slog.Logger

	signer crypto.PrivateKey
	self   crypto.PublicKey
}

// NewGroupState creates a GroupState acting as the principal behind signer.
func NewGroupState(ledger Ledger, disclosure SecretDisclosure, signer crypto.PrivateKey, config *ChatConfig, log *slog.Logger) (*GroupState, error) {
	if ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if disclosure == nil {
		return nil, errors.New("disclosure cannot be nil")
	}
	self, err := signer.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &GroupState{
		ledger:     ledger,
		disclosure: disclosure,
		config:     config.withDefaults(),
		log:        log,
		signer:     signer,
		self:       self,
	}, nil
}

// Principal returns the public key this GroupState acts as.
func (g *GroupState) Principal() crypto.PublicKey {
	return g.self
}

// CreateGroup issues a fresh shared secret, hands it to the disclosure
// service, and appends the group creation to the ledger. The caller becomes
// owner and first member. The cleartext secret is dropped before returning;
// members (owner included) recover it later through LoadKey.
func (g *GroupState) CreateGroup(ctx context.Context, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is empty", ErrInvalidArgument)
	}
	if len(name) > g.config.MaxGroupNameLength {
		return nil, fmt.Errorf("%w: group name exceeds %d bytes", ErrInvalidArgument, g.config.MaxGroupNameLength)
	}

	secret, err := crypto.NewSharedSecret()
	if err != nil {
		return nil, err
	}

	issue, err := NewSigned(g.signer, &IssueRequest{
		Secret:   secret.String(),
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign issue request: %w", err)
	}

	handle, err := g.disclosure.IssueHandle(ctx, issue)
	if err != nil {
		return nil, fmt.Errorf("issue secret handle: %w", err)
	}

	creation, err := NewSigned(g.signer, &GroupCreation{
		Name:         name,
		SecretHandle: handle,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign group creation: %w", err)
	}

	group, err := g.ledger.CreateGroup(ctx, creation)
	if err != nil {
		// The issued handle is orphaned here, but an orphan is inert: the
		// membership policy entitles nobody to a handle no ledger group
		// carries, so the secret behind it stays unrevealable.
		return nil, fmt.Errorf("append group creation: %w", err)
	}

	g.log.Info("group created", "group", uint64(group.ID), "name", group.Name)
	return group, nil
}

// JoinGroup appends a membership join for the calling principal. A second
// join of the same group fails with ErrAlreadyMember; the check is the
// ledger's, surfaced verbatim.
func (g *GroupState) JoinGroup(ctx context.Context, groupID GroupID) (*Group, error) {
	join, err := NewSigned(g.signer, &JoinRequest{
		GroupID:     groupID,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign join request: %w", err)
	}

	group, err := g.ledger.JoinGroup(ctx, join)
	if err != nil {
		return nil, err
	}

	g.log.Info("joined group", "group", uint64(group.ID), "members", group.MemberCount)
	return group, nil
}

// GetGroup reads a group's bookkeeping record from the ledger.
func (g *GroupState) GetGroup(ctx context.Context, groupID GroupID) (*Group, error) {
	return g.ledger.ReadGroup(ctx, groupID)
}

// ListGroups reads all groups from the ledger in id order.
func (g *GroupState) ListGroups(ctx context.Context) ([]Group, error) {
	return g.ledger.ListGroups(ctx)
}

// IsMember reports whether principal has joined the group.
func (g *GroupState) IsMember(ctx context.Context, groupID GroupID, principal crypto.PublicKey) (bool, error) {
	return g.ledger.IsMember(ctx, groupID, principal)
}

// OpenSession starts a confidential chat session for the group: reads its
// bookkeeping record and begins reconciliation. The session starts without a
// key; call LoadKey on it to read and send plaintext.
func (g *GroupState) OpenSession(ctx context.Context, groupID GroupID) (*ChatSession, error) {
	group, err := g.ledger.ReadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return newChatSession(ctx, g, group), nil
}
