package services

import (
	"github.com/0xSterling/XChat/protocol"
)

// ErrorResponse is the JSON body of every non-2xx service response. Code is
// machine-readable and stable; Error is for humans.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Stable error codes shared between services and HTTP adapters.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnauthorized    = "unauthorized"
	CodeExpired         = "expired"
	CodeAlreadyMember   = "already_member"
	CodeNotMember       = "not_member"
	CodeGroupNotFound   = "group_not_found"
	CodeInternal        = "internal"
)

// RangeResponse is a page of message records. A non-empty Next cursor means
// more records remain in the requested window.
type RangeResponse struct {
	Records []protocol.MessageRecord `json:"records"`
	Next    protocol.Cursor          `json:"next,omitempty"`
}

// GroupListResponse wraps the full group listing.
type GroupListResponse struct {
	Groups []protocol.Group `json:"groups"`
}

// MembershipResponse reports one principal's membership in one group.
type MembershipResponse struct {
	Member bool `json:"member"`
}

// IssueResponse returns the opaque handle of a newly stored secret.
type IssueResponse struct {
	Handle protocol.SecretHandle `json:"handle"`
}

// RevealRequestBody carries a disclosure authorization over HTTP.
type RevealRequestBody struct {
	Auth *protocol.Signed[protocol.RevealRequest] `json:"auth"`
}

// RevealResponse returns a disclosed secret in its canonical hex rendering.
type RevealResponse struct {
	Secret string `json:"secret"`
}
