package http

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeTimeout indicates the call timed out before a response arrived
	ErrorTypeTimeout
	// ErrorTypeNetwork indicates other connection failures (refused, reset, DNS)
	ErrorTypeNetwork
	// ErrorTypeCanceled indicates the caller's context was canceled
	ErrorTypeCanceled
	// ErrorTypeFatal indicates anything else; never retried
	ErrorTypeFatal
)

// ClassifyError determines the error type of a failed HTTP attempt that
// produced no response.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if IsTimeout(err) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &netErr) {
		return ErrorTypeNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return ErrorTypeNetwork
	}

	// Some transports only expose the failure textually.
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "eof") {
		return ErrorTypeNetwork
	}
	return ErrorTypeFatal
}

// IsTimeout reports whether err is a timeout-class failure: a dial, TLS,
// header or deadline timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout awaiting response headers") ||
		strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "i/o timeout")
}

// CalculateBackoff returns exponential backoff duration with full jitter
// Full jitter prevents thundering herd problem when many clients retry simultaneously
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}

	return time.Duration(rand.Int63n(int64(base)))
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeCanceled:
		return "canceled"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
