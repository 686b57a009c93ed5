package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/0xSterling/XChat/protocol"
)

// statusAndCode maps protocol errors onto the wire.
func statusAndCode(err error) (int, string) {
	switch {
	case errors.Is(err, protocol.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, protocol.ErrGroupNotFound):
		return http.StatusNotFound, CodeGroupNotFound
	case errors.Is(err, protocol.ErrAlreadyMember):
		return http.StatusConflict, CodeAlreadyMember
	case errors.Is(err, protocol.ErrNotMember):
		return http.StatusForbidden, CodeNotMember
	case errors.Is(err, protocol.ErrUnauthorized):
		return http.StatusForbidden, CodeUnauthorized
	case errors.Is(err, protocol.ErrExpired):
		return http.StatusForbidden, CodeExpired
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusAndCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&ErrorResponse{Code: code, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// errorFromResponse turns a non-2xx service response back into the protocol
// error it encodes. Responses without a recognizable body, like a gateway
// failure, come back as ErrUnavailable so callers treat them as transient.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Code != "" {
		switch er.Code {
		case CodeInvalidArgument:
			return fmt.Errorf("%w: %s", protocol.ErrInvalidArgument, er.Error)
		case CodeGroupNotFound:
			return protocol.ErrGroupNotFound
		case CodeAlreadyMember:
			return protocol.ErrAlreadyMember
		case CodeNotMember:
			return protocol.ErrNotMember
		case CodeUnauthorized:
			return fmt.Errorf("%w: %s", protocol.ErrUnauthorized, er.Error)
		case CodeExpired:
			return protocol.ErrExpired
		}
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", protocol.ErrUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("unexpected response: status %d: %s", resp.StatusCode, string(body))
}
