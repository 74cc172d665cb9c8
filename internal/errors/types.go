package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// ValidationError reports execution parameters that failed schema validation.
// It is never retried; the caller fixes the input or gives up.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// QuotaExceededError carries the moment the daily quota resets so the UI can
// tell the user when to come back. Never retried automatically.
type QuotaExceededError struct {
	UserID  string
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily generation quota exhausted for %s, resets at %s",
		e.UserID, e.ResetAt.UTC().Format(time.RFC3339))
}

// ProviderErrorKind mirrors the error taxonomy of the generation provider API.
type ProviderErrorKind string

const (
	ProviderErrTimeout        ProviderErrorKind = "timeout"
	ProviderErrQuota          ProviderErrorKind = "quota"
	ProviderErrInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrServer         ProviderErrorKind = "server_error"
)

// ProviderError wraps a failure returned by (or while reaching) the
// generation provider. Timeout and server errors are transient; quota and
// invalid-request errors are permanent.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the provider failure is worth retrying.
func (e *ProviderError) Transient() bool {
	return e.Kind == ProviderErrTimeout || e.Kind == ProviderErrServer
}

// StorageUploadError marks a generation that succeeded but could not be made
// durable. The artifact is unusable, so this is surfaced as job failure and
// never retried automatically.
type StorageUploadError struct {
	JobID string
	Err   error
}

func (e *StorageUploadError) Error() string {
	return fmt.Sprintf("durable upload failed for job %s: %v", e.JobID, e.Err)
}

func (e *StorageUploadError) Unwrap() error {
	return e.Err
}

// ConflictError signals a duplicate correlation id during persistence. The
// coordinator resolves it by returning the existing record ids, so callers
// normally never see it.
type ConflictError struct {
	JobID string
	Store string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record with source job %s already exists in %s", e.JobID, e.Store)
}

// UnavailableError is produced by the circuit breaker when a dependency is
// temporarily blocked. Retry after the embedded wait.
type UnavailableError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is temporarily unavailable, retry in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Transient()
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		return false
	}
	var uploadErr *StorageUploadError
	if errors.As(err, &uploadErr) {
		return false
	}
	var unavailableErr *UnavailableError
	if errors.As(err, &unavailableErr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if isNetworkError(err) {
		return true
	}
	if isSyscallError(err) {
		return true
	}
	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	// Default: not transient.
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func extractHTTPStatusCode(err error) int {
	var httpErr interface{ StatusCode() int }
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}
