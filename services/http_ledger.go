package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/0xSterling/XChat/crypto"
	"github.com/0xSterling/XChat/protocol"
)

// HTTPLedger implements protocol.Ledger against a ledger service. Transport
// failures surface as protocol.ErrUnavailable so the reconciler's retry
// policy applies; protocol conditions come back as their sentinel errors.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
	// streamClient has no overall timeout; event streams stay open.
	streamClient *http.Client
	log          *slog.Logger
}

// NewHTTPLedger creates a ledger adapter for the service at baseURL.
func NewHTTPLedger(baseURL string, log *slog.Logger) *HTTPLedger {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPLedger{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
		log:          log,
	}
}

func (l *HTTPLedger) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return l.do(req, out)
}

func (l *HTTPLedger) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return err
	}
	return l.do(req, out)
}

func (l *HTTPLedger) do(req *http.Request, out any) error {
	resp, err := l.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return fmt.Errorf("%w: %s", protocol.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateGroup implements protocol.Ledger.
func (l *HTTPLedger) CreateGroup(ctx context.Context, req *protocol.Signed[protocol.GroupCreation]) (*protocol.Group, error) {
	var group protocol.Group
	if err := l.post(ctx, "/api/v1/groups", req, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// JoinGroup implements protocol.Ledger.
func (l *HTTPLedger) JoinGroup(ctx context.Context, req *protocol.Signed[protocol.JoinRequest]) (*protocol.Group, error) {
	var group protocol.Group
	path := fmt.Sprintf("/api/v1/groups/%d/join", uint64(req.UnsafeObject().GroupID))
	if err := l.post(ctx, path, req, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// AppendMessage implements protocol.Ledger.
func (l *HTTPLedger) AppendMessage(ctx context.Context, msg *protocol.Signed[protocol.MessageSubmission]) (*protocol.AppendReceipt, error) {
	var receipt protocol.AppendReceipt
	path := fmt.Sprintf("/api/v1/groups/%d/messages", uint64(msg.UnsafeObject().GroupID))
	if err := l.post(ctx, path, msg, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RangeRead implements protocol.Ledger.
func (l *HTTPLedger) RangeRead(ctx context.Context, groupID protocol.GroupID, from, to protocol.Cursor) ([]protocol.MessageRecord, protocol.Cursor, error) {
	query := url.Values{}
	if from != "" {
		query.Set("from", string(from))
	}
	if to != "" {
		query.Set("to", string(to))
	}
	path := fmt.Sprintf("/api/v1/groups/%d/messages", uint64(groupID))
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp RangeResponse
	if err := l.get(ctx, path, &resp); err != nil {
		return nil, "", err
	}
	return resp.Records, resp.Next, nil
}

// ReadGroup implements protocol.Ledger.
func (l *HTTPLedger) ReadGroup(ctx context.Context, groupID protocol.GroupID) (*protocol.Group, error) {
	var group protocol.Group
	if err := l.get(ctx, fmt.Sprintf("/api/v1/groups/%d", uint64(groupID)), &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups implements protocol.Ledger.
func (l *HTTPLedger) ListGroups(ctx context.Context) ([]protocol.Group, error) {
	var resp GroupListResponse
	if err := l.get(ctx, "/api/v1/groups", &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// IsMember implements protocol.Ledger.
func (l *HTTPLedger) IsMember(ctx context.Context, groupID protocol.GroupID, principal crypto.PublicKey) (bool, error) {
	var resp MembershipResponse
	path := fmt.Sprintf("/api/v1/groups/%d/members/%s", uint64(groupID), principal.String())
	if err := l.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Member, nil
}

// Subscribe implements protocol.Ledger over the service's SSE event stream.
func (l *HTTPLedger) Subscribe(ctx context.Context, groupID protocol.GroupID) (protocol.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	path := fmt.Sprintf("%s/api/v1/groups/%d/events", l.baseURL, uint64(groupID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, errorFromResponse(resp)
	}

	sub := &sseSubscription{
		ch:     make(chan protocol.MessageRecord, 64),
		cancel: cancel,
		closed: make(chan struct{}),
	}
	go sub.read(resp.Body)
	return sub, nil
}

type sseSubscription struct {
	ch     chan protocol.MessageRecord
	cancel context.CancelFunc
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *sseSubscription) Records() <-chan protocol.MessageRecord { return s.ch }

func (s *sseSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sseSubscription) Cancel() {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

func (s *sseSubscription) read(body io.ReadCloser) {
	defer close(s.ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var rec protocol.MessageRecord
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec); err != nil {
			continue
		}
		select {
		case s.ch <- rec:
		case <-s.closed:
			return
		}
	}

	select {
	case <-s.closed:
		// Clean cancel; no error to report.
	default:
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("event stream closed by server")
		}
		s.mu.Lock()
		s.err = fmt.Errorf("%w: %s", protocol.ErrUnavailable, err)
		s.mu.Unlock()
	}
}
