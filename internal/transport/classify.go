package transport

import (
	"net/http"
	"strconv"
	"time"
)

// Class buckets an attempt outcome for retry decisions.
type Class string

// Outcome classes. Throttled and Transient are retryable; ClientFatal is
// surfaced to the caller as an empty result without retrying.
const (
	ClassSuccess     Class = "success"
	ClassThrottled   Class = "throttled"
	ClassTransient   Class = "transient"
	ClassClientFatal Class = "client_fatal"
)

const defaultRetryAfter = 60 * time.Second

// Classify maps an HTTP status code to an outcome class. Network-level
// failures never reach this point; they are transient by definition.
func Classify(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassThrottled
	case status >= 500 && status < 600:
		return ClassTransient
	case status >= 400 && status < 500:
		return ClassClientFatal
	default:
		return ClassSuccess
	}
}

// RetryAfter reads the server-supplied wait hint from a throttled response,
// falling back to 60s when absent or unparseable.
func RetryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
