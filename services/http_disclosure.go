package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/0xSterling/XChat/crypto"
	"github.com/0xSterling/XChat/protocol"
)

// HTTPDisclosure implements protocol.SecretDisclosure against a disclosure
// service. Reveal is never retried here: authorizations are time-bounded, so
// the caller builds a fresh one if it wants another attempt.
type HTTPDisclosure struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPDisclosure creates a disclosure adapter for the service at baseURL.
func NewHTTPDisclosure(baseURL string, log *slog.Logger) *HTTPDisclosure {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPDisclosure{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (d *HTTPDisclosure) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", protocol.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IssueHandle implements protocol.SecretDisclosure.
func (d *HTTPDisclosure) IssueHandle(ctx context.Context, req *protocol.Signed[protocol.IssueRequest]) (protocol.SecretHandle, error) {
	var resp IssueResponse
	if err := d.post(ctx, "/disclosure/v1/secrets", req, &resp); err != nil {
		return "", err
	}
	return resp.Handle, nil
}

// Reveal implements protocol.SecretDisclosure.
func (d *HTTPDisclosure) Reveal(ctx context.Context, handle protocol.SecretHandle, auth *protocol.Signed[protocol.RevealRequest]) (crypto.SharedSecret, error) {
	var resp RevealResponse
	path := fmt.Sprintf("/disclosure/v1/secrets/%s/reveal", string(handle))
	if err := d.post(ctx, path, &RevealRequestBody{Auth: auth}, &resp); err != nil {
		return nil, err
	}
	secret, err := crypto.NewSharedSecretFromString(resp.Secret)
	if err != nil {
		return nil, fmt.Errorf("service returned malformed secret: %w", err)
	}
	return secret, nil
}
