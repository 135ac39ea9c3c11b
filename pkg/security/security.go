// Package security provides validation, sanitization, and limits for the jobs package.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeNameLength is the maximum length for job type names
	MaxJobTypeNameLength = 255

	// DefaultMaxPayloadBytes is the default payload limit (1MB)
	DefaultMaxPayloadBytes = 1 << 20

	// MaxRetries is the hard limit for retry attempts
	MaxRetries = 100

	// MaxConcurrency is the hard limit for worker concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxIdempotencyKeyLength is the maximum length for idempotency keys
	MaxIdempotencyKeyLength = 255

	// MaxTenantIDLength is the maximum length for tenant ids
	MaxTenantIDLength = 255
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobTypeName validates a job type name
func ValidateJobTypeName(name string) error {
	if name == "" {
		return core.ErrInvalidJobTypeName
	}
	if len(name) > MaxJobTypeNameLength {
		return core.ErrJobTypeNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidJobTypeName
	}
	return nil
}

// ValidateQueueName validates a queue name
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateTenant rejects empty, oversized or control-character tenant ids.
func ValidateTenant(id core.TenantID) error {
	if id == "" || len(id) > MaxTenantIDLength {
		return core.ErrInvalidTenant
	}
	if strings.IndexFunc(string(id), unicode.IsControl) >= 0 {
		return core.ErrInvalidTenant
	}
	return nil
}

// ValidateIdempotencyKey validates an idempotency key length
func ValidateIdempotencyKey(key string) error {
	if len(key) > MaxIdempotencyKeyLength {
		return core.ErrIdempotencyKeyTooLong
	}
	return nil
}

// ValidateMessage checks a submission against the limits every backend enforces.
// An empty queue is allowed; the backend substitutes its default.
func ValidateMessage(msg core.JobMessage, maxPayloadBytes int) error {
	if err := ValidateJobTypeName(string(msg.Type)); err != nil {
		return err
	}
	if msg.Queue != "" {
		if err := ValidateQueueName(string(msg.Queue)); err != nil {
			return err
		}
	}
	if msg.MaxRetries < 0 {
		return core.ErrInvalidMaxRetries
	}
	if msg.MaxRetries > MaxRetries {
		return fmt.Errorf("%w: %d exceeds %d", core.ErrInvalidMaxRetries, msg.MaxRetries, MaxRetries)
	}
	if !msg.Priority.Valid() {
		return core.ErrInvalidPriority
	}
	if maxPayloadBytes > 0 && len(msg.Payload) > maxPayloadBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", core.ErrPayloadTooLarge, len(msg.Payload), maxPayloadBytes)
	}
	return ValidateIdempotencyKey(msg.IdempotencyKey)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
