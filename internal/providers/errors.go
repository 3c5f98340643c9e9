package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ErrorKind string

const (
	KindInvalidInput  ErrorKind = "InvalidInput"
	KindAuthFailed    ErrorKind = "AuthFailed"
	KindRateLimited   ErrorKind = "RateLimited"
	KindTimeout       ErrorKind = "Timeout"
	KindNetworkError  ErrorKind = "NetworkError"
	KindProviderError ErrorKind = "ProviderError"
)

// Retryable reports whether a failure of this kind is transient.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindNetworkError:
		return true
	default:
		return false
	}
}

// severity orders kinds from least to most fatal.
func (k ErrorKind) severity() int {
	switch k {
	case KindRateLimited:
		return 1
	case KindTimeout, KindNetworkError:
		return 2
	case KindProviderError:
		return 3
	case KindInvalidInput:
		return 4
	case KindAuthFailed:
		return 5
	default:
		return 0
	}
}

// Worse returns the more fatal of two kinds.
func Worse(a, b ErrorKind) ErrorKind {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Error is the only error type an adapter lets past its boundary.
type Error struct {
	Kind       ErrorKind     `json:"kind"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	HTTPStatus int           `json:"httpStatus,omitempty"`
	Provider   Provider      `json:"provider,omitempty"`
	Cause      error         `json:"-"`
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind.Retryable()}
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

func (e *Error) WithProvider(p Provider) *Error {
	if e.Provider == "" {
		e.Provider = p
	}
	return e
}

// AsError returns err as *Error, classifying untyped errors as transport
// failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return FromTransport(err)
}

func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// InvalidInput wraps a validation failure.
func InvalidInput(err error) *Error {
	return NewError(KindInvalidInput, err.Error()).WithCause(err)
}

// FromTransport maps a failed round trip (no HTTP status) to the taxonomy.
func FromTransport(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, "request timed out").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindNetworkError, "request canceled").WithCause(err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(KindTimeout, "request timed out").WithCause(err)
	}

	return NewError(KindNetworkError, "connection failed").WithCause(err)
}

// FromStatus maps a non-2xx vendor response to the taxonomy.
func FromStatus(status int, header http.Header, body []byte) *Error {
	msg := vendorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = NewError(KindAuthFailed, msg)
	case status == http.StatusPaymentRequired:
		e = NewError(KindAuthFailed, "account has no credit: "+msg)
	case status == http.StatusTooManyRequests:
		e = NewError(KindRateLimited, msg)
		if header != nil {
			e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = NewError(KindTimeout, msg)
	default:
		e = NewError(KindProviderError, msg)
	}
	return e.WithHTTPStatus(status)
}

// Malformed reports an unexpected vendor payload.
func Malformed(what string, cause error) *Error {
	e := Errorf(KindProviderError, "malformed response: %s", what)
	if cause != nil {
		e.Cause = cause
	}
	return e
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func vendorMessage(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error", "detail", "name"} {
			switch v := payload[key].(type) {
			case string:
				if v != "" {
					return snippet(v)
				}
			case map[string]any:
				if m, ok := v["message"].(string); ok && m != "" {
					return snippet(m)
				}
			}
		}
	}
	return snippet(string(body))
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
