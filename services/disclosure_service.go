package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/0xSterling/XChat/crypto"
	"github.com/0xSterling/XChat/protocol"
)

// EntitlementPolicy decides whether a requester may learn the secret behind
// a handle. A non-nil error denies the reveal.
type EntitlementPolicy interface {
	Entitled(ctx context.Context, requester string, handle protocol.SecretHandle) error
}

// MembershipPolicy entitles exactly the members of the group whose ledger
// record carries the handle.
type MembershipPolicy struct {
	Ledger LedgerStore
}

func (p *MembershipPolicy) Entitled(ctx context.Context, requester string, handle protocol.SecretHandle) error {
	groups, err := p.Ledger.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if group.SecretHandle != handle {
			continue
		}
		member, err := p.Ledger.IsMember(ctx, group.ID, requester)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: requester is not a group member", protocol.ErrUnauthorized)
		}
		return nil
	}
	return fmt.Errorf("%w: handle not bound to any group", protocol.ErrUnauthorized)
}

// DisclosureService guards group secrets. Secrets enter once, at group
// creation, and leave only through Reveal, against a signed time-bounded
// authorization and the entitlement policy. A nil policy discloses to any
// requester with a valid signature; it exists for single-user development
// setups, not deployment.
type DisclosureService struct {
	store  SecretStore
	policy EntitlementPolicy
	log    *slog.Logger

	// now is swapped in tests to move the validity-window clock.
	now func() time.Time
}

// NewDisclosureService creates a disclosure service over the given store.
func NewDisclosureService(store SecretStore, policy EntitlementPolicy, log *slog.Logger) *DisclosureService {
	if log == nil {
		log = slog.Default()
	}
	return &DisclosureService{
		store:  store,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// RegisterRoutes registers the disclosure HTTP routes.
func (s *DisclosureService) RegisterRoutes(r chi.Router) {
	r.Route("/disclosure/v1", func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Post("/secrets", s.handleIssue)
		r.Post("/secrets/{handle}/reveal", s.handleReveal)
	})
}

func (s *DisclosureService) handleIssue(w http.ResponseWriter, r *http.Request) {
	var signedReq protocol.Signed[protocol.IssueRequest]
	if err := json.NewDecoder(r.Body).Decode(&signedReq); err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}

	issue, issuer, err := signedReq.Recover()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}

	// Normalize through the typed secret so only well-formed secrets are
	// ever stored.
	secret, err := crypto.NewSharedSecretFromString(issue.Secret)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}

	handle := protocol.SecretHandle("handle-" + uuid.New().String())
	if err := s.store.SaveSecret(r.Context(), handle, secret.String()); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("secret issued", "handle", string(handle), "issuer", issuer.String())
	writeJSON(w, &IssueResponse{Handle: handle})
}

func (s *DisclosureService) handleReveal(w http.ResponseWriter, r *http.Request) {
	handle := protocol.SecretHandle(chi.URLParam(r, "handle"))

	var body RevealRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Auth == nil {
		writeError(w, fmt.Errorf("%w: bad reveal body", protocol.ErrInvalidArgument))
		return
	}

	secret, err := s.reveal(r.Context(), handle, body.Auth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &RevealResponse{Secret: secret})
}

func (s *DisclosureService) reveal(ctx context.Context, handle protocol.SecretHandle, auth *protocol.Signed[protocol.RevealRequest]) (string, error) {
	req, requester, err := auth.Recover()
	if err != nil {
		return "", fmt.Errorf("%w: %s", protocol.ErrUnauthorized, err)
	}

	covered := false
	for _, h := range req.Handles {
		if h == handle {
			covered = true
			break
		}
	}
	if !covered {
		return "", fmt.Errorf("%w: authorization does not cover handle", protocol.ErrUnauthorized)
	}

	if req.ValidFor <= 0 || s.now().After(req.IssuedAt.Add(req.ValidFor)) {
		return "", protocol.ErrExpired
	}

	secret, err := s.store.LoadSecret(ctx, handle)
	if errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("%w: unknown handle", protocol.ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}

	if s.policy != nil {
		if err := s.policy.Entitled(ctx, requester.String(), handle); err != nil {
			return "", err
		}
	}

	s.log.Debug("secret revealed", "handle", string(handle), "requester", requester.String())
	return secret, nil
}
