package dlspeech

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a gateway error.
type Error struct {
	// Code is the gateway or WebSocket close code.
	Code int

	// Message is the human-readable error message.
	Message string

	// HTTPStatus is the handshake status code, when the connection never
	// upgraded.
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("dlspeech: %s (http_status=%d)", e.Message, e.HTTPStatus)
	}
	if e.Code != 0 {
		return fmt.Sprintf("dlspeech: %s (code=%d)", e.Message, e.Code)
	}
	return fmt.Sprintf("dlspeech: %s", e.Message)
}

// IsAuthError reports whether the error is an authentication failure, the
// usual outcome of a bad subscription key or region.
func (e *Error) IsAuthError() bool {
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// IsQuotaExceeded reports whether the subscription ran out of quota.
func (e *Error) IsQuotaExceeded() bool {
	return e.HTTPStatus == http.StatusTooManyRequests
}

// AsError converts err to *Error when one is in its chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrSessionClosed is returned by session operations after Close.
var ErrSessionClosed = errors.New("dlspeech: session closed")

func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
