package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind classifies a failed turn.
type ErrorKind string

const (
	ErrRateLimit ErrorKind = "rate_limit"
	ErrAuth      ErrorKind = "auth_error"
	ErrNetwork   ErrorKind = "network_error"
	ErrAPI       ErrorKind = "api_error"
	ErrUnknown   ErrorKind = "unknown"
)

// StreamError is the single failure surfaced for a turn.
type StreamError struct {
	Kind       ErrorKind
	StatusCode int // 0 when the failure happened outside an HTTP response
	Message    string
	Err        error
}

func (e *StreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or ErrUnknown.
func KindOf(err error) ErrorKind {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrUnknown
}

// errorBody is the relay's JSON error payload. The error field carries the
// upstream provider's error when one exists.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// hasProviderError reports whether an error body carries a provider error payload.
func (b errorBody) hasProviderError() bool {
	trimmed := strings.TrimSpace(string(b.Error))
	return trimmed != "" && trimmed != "null" && trimmed != `""` && trimmed != "{}"
}

// text extracts a readable message from the body.
func (b errorBody) text() string {
	if b.hasProviderError() {
		var s string
		if err := json.Unmarshal(b.Error, &s); err == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		}
		if err := json.Unmarshal(b.Error, &obj); err == nil && obj.Message != "" {
			if obj.Type != "" {
				return fmt.Sprintf("%s (type: %s)", obj.Message, obj.Type)
			}
			return obj.Message
		}
		return string(b.Error)
	}
	return b.Message
}

func parseErrorBody(data []byte) (errorBody, bool) {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return errorBody{}, false
	}
	return body, true
}

// classifyStatus maps an HTTP status code onto an ErrorKind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status >= 500:
		return ErrAPI
	default:
		return ErrUnknown
	}
}

// httpError builds the StreamError for a non-success response.
func httpError(status int, data []byte) *StreamError {
	kind := classifyStatus(status)
	detail := strings.TrimSpace(string(data))
	if body, ok := parseErrorBody(data); ok {
		if t := body.text(); t != "" {
			detail = t
		}
	}

	var msg string
	switch kind {
	case ErrRateLimit:
		msg = "Rate limit exceeded. Please wait and try again."
	case ErrAuth:
		msg = "Authentication failed. Please log in again."
	case ErrAPI:
		msg = "The server encountered an error."
	default:
		msg = "Request failed."
	}
	if detail != "" {
		msg += " " + detail
	}
	return &StreamError{Kind: kind, StatusCode: status, Message: msg}
}

// classifyTransport wraps errors that are not already classified.
func classifyTransport(err error) error {
	var se *StreamError
	if errors.As(err, &se) {
		return err
	}
	var urlErr *url.Error
	var netErr net.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.As(err, &opErr) {
		return &StreamError{Kind: ErrNetwork, Message: "Network error. Check your connection and try again.", Err: err}
	}
	return &StreamError{Kind: ErrUnknown, Message: err.Error(), Err: err}
}
