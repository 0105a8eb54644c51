package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a delivery failure worth another attempt, such
// as a throttled webhook (429), a 5xx from the provider, or a dropped
// connection. StatusCode is zero for non-HTTP channels like SMTP.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError tags err as retryable. statusCode may be 0 when no
// HTTP response was involved.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// retryablePatterns catches transport failures that reach the
// dispatcher as plain wrapped strings from HTTP and SMTP clients.
var retryablePatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether a failed delivery should be rescheduled
// rather than marked delivery_failed. A channel can force the decision
// by returning a TransientError; otherwise network timeouts, refused
// or reset connections, and known transport failure strings count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a webhook or SMS provider
// response status warrants a retry instead of a permanent failure.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
