package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/0xSterling/XChat/protocol"
)

const defaultPageLimit = 256

// LedgerService is the development ledger: an HTTP service with the same
// observable behavior as the public log, append-only with server-assigned
// ordering and log identities. Reads are open to anyone; appends and joins
// carry signatures and go through the membership checks.
type LedgerService struct {
	store     LedgerStore
	log       *slog.Logger
	pageLimit int

	// appendMu serializes appends so sequence numbers stay dense per group.
	appendMu sync.Mutex

	subsMu sync.Mutex
	subs   map[protocol.GroupID]map[*sseSubscriber]struct{}
}

// NewLedgerService creates a ledger service over the given store.
func NewLedgerService(store LedgerStore, log *slog.Logger) *LedgerService {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerService{
		store:     store,
		log:       log,
		pageLimit: defaultPageLimit,
		subs:      make(map[protocol.GroupID]map[*sseSubscriber]struct{}),
	}
}

// RegisterRoutes registers the ledger's HTTP routes. Browser clients talk to
// the dev ledger directly, so the API routes allow cross-origin requests.
func (s *LedgerService) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups", s.handleListGroups)
		r.Get("/groups/{groupID}", s.handleGetGroup)
		r.Post("/groups/{groupID}/join", s.handleJoin)
		r.Get("/groups/{groupID}/members/{principal}", s.handleMembership)
		r.Post("/groups/{groupID}/messages", s.handleAppend)
		r.Get("/groups/{groupID}/messages", s.handleRange)
		r.Get("/groups/{groupID}/events", s.handleEvents)
	})
}

func groupIDFromURL(r *http.Request) (protocol.GroupID, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad group id", protocol.ErrInvalidArgument)
	}
	return protocol.GroupID(id), nil
}

func (s *LedgerService) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var signedReq protocol.Signed[protocol.GroupCreation]
	if err := json.NewDecoder(r.Body).Decode(&signedReq); err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}

	creation, owner, err := signedReq.Recover()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}
	if creation.Name == "" || creation.SecretHandle == "" {
		writeError(w, fmt.Errorf("%w: name and secret handle required", protocol.ErrInvalidArgument))
		return
	}

	createdAt := creation.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	group := &protocol.Group{
		Name:         creation.Name,
		Owner:        owner,
		CreatedAt:    createdAt,
		SecretHandle: creation.SecretHandle,
	}
	id, err := s.store.CreateGroup(r.Context(), group)
	if err != nil {
		writeError(w, err)
		return
	}
	group.ID = id
	group.MemberCount = 1

	s.log.Info("group created", "group", uint64(id), "name", group.Name)
	writeJSON(w, group)
}

func (s *LedgerService) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &GroupListResponse{Groups: groups})
}

func (s *LedgerService) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	group, err := s.store.ReadGroup(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, group)
}

func (s *LedgerService) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var signedReq protocol.Signed[protocol.JoinRequest]
	if err := json.NewDecoder(r.Body).Decode(&signedReq); err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}

	join, principal, err := signedReq.Recover()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}
	if join.GroupID != id {
		writeError(w, fmt.Errorf("%w: group id mismatch", protocol.ErrInvalidArgument))
		return
	}

	if _, err := s.store.AddMember(r.Context(), id, principal.String()); err != nil {
		writeError(w, err)
		return
	}

	group, err := s.store.ReadGroup(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("member joined", "group", uint64(id), "members", group.MemberCount)
	writeJSON(w, group)
}

func (s *LedgerService) handleMembership(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	member, err := s.store.IsMember(r.Context(), id, chi.URLParam(r, "principal"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &MembershipResponse{Member: member})
}

func (s *LedgerService) handleAppend(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var signedReq protocol.Signed[protocol.MessageSubmission]
	if err := json.NewDecoder(r.Body).Decode(&signedReq); err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}

	submission, sender, err := signedReq.Recover()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, err))
		return
	}
	if submission.GroupID != id {
		writeError(w, fmt.Errorf("%w: group id mismatch", protocol.ErrInvalidArgument))
		return
	}

	member, err := s.store.IsMember(r.Context(), id, sender.String())
	if err != nil {
		writeError(w, err)
		return
	}
	if !member {
		writeError(w, protocol.ErrNotMember)
		return
	}

	s.appendMu.Lock()
	seq, err := s.store.NextSeq(r.Context(), id)
	if err != nil {
		s.appendMu.Unlock()
		writeError(w, err)
		return
	}
	rec := protocol.MessageRecord{
		GroupID:    id,
		Sender:     sender,
		Ciphertext: submission.Ciphertext,
		Timestamp:  time.Now().UTC(),
		Seq:        seq,
		LogID:      protocol.LogIdentity(uuid.New().String() + ":0"),
	}
	if err := s.store.AppendMessage(r.Context(), &rec); err != nil {
		s.appendMu.Unlock()
		writeError(w, err)
		return
	}
	s.appendMu.Unlock()

	s.publish(rec)
	writeJSON(w, &protocol.AppendReceipt{LogID: rec.LogID, Seq: rec.Seq, Timestamp: rec.Timestamp})
}

func (s *LedgerService) handleRange(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}

	fromSeq := uint64(0)
	if seq, ok := protocol.Cursor(r.URL.Query().Get("from")).Seq(); ok {
		fromSeq = seq
	}
	toSeq := uint64(math.MaxUint64)
	if seq, ok := protocol.Cursor(r.URL.Query().Get("to")).Seq(); ok {
		toSeq = seq
	}

	// Read one past the page to learn whether a next cursor is needed.
	records, err := s.store.ReadRange(r.Context(), id, fromSeq, toSeq, s.pageLimit+1)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := &RangeResponse{Records: records}
	if len(records) > s.pageLimit {
		resp.Records = records[:s.pageLimit]
		resp.Next = protocol.CursorAt(records[s.pageLimit].Seq)
	}
	writeJSON(w, resp)
}

// sseSubscriber is one live event stream. A subscriber that cannot keep up
// is dropped; the client recovers through resubscription and gap re-read.
type sseSubscriber struct {
	ch   chan protocol.MessageRecord
	done chan struct{}
}

func (s *LedgerService) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.ReadGroup(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	sub := &sseSubscriber{
		ch:   make(chan protocol.MessageRecord, 64),
		done: make(chan struct{}),
	}
	s.subsMu.Lock()
	if s.subs[id] == nil {
		s.subs[id] = make(map[*sseSubscriber]struct{})
	}
	s.subs[id][sub] = struct{}{}
	s.subsMu.Unlock()
	defer s.removeSubscriber(id, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case rec := <-sub.ch:
			body, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *LedgerService) removeSubscriber(id protocol.GroupID, sub *sseSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs[id], sub)
}

// dropAllStreams severs every live event stream, forcing clients through
// their resubscription path.
func (s *LedgerService) dropAllStreams() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, subs := range s.subs {
		for sub := range subs {
			close(sub.done)
		}
		delete(s.subs, id)
	}
}

func (s *LedgerService) publish(rec protocol.MessageRecord) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs[rec.GroupID] {
		select {
		case sub.ch <- rec:
		default:
			// Slow consumer: terminate the stream instead of blocking the
			// append path.
			close(sub.done)
			delete(s.subs[rec.GroupID], sub)
		}
	}
}
