package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPermanentError(t *testing.T) {
	originalErr := errors.New("permanent failure")
	wrapped := Permanent(originalErr)

	var permErr *PermanentError
	assert.True(t, errors.As(wrapped, &permErr))
	assert.Equal(t, originalErr, permErr.Unwrap())
	assert.Contains(t, permErr.Error(), "permanent")
	assert.Contains(t, permErr.Error(), "permanent failure")
	assert.True(t, IsPermanent(fmt.Errorf("handler: %w", wrapped)))
}

func TestRetryAfterError(t *testing.T) {
	originalErr := errors.New("temporary failure")
	wrapped := RetryAfter(5*time.Second, originalErr)

	var retryErr *RetryableError
	assert.True(t, errors.As(wrapped, &retryErr))
	assert.Equal(t, originalErr, retryErr.Unwrap())
	assert.Contains(t, retryErr.Error(), "retry after")
	assert.Contains(t, retryErr.Error(), "5s")

	d, ok := RetryDelay(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
	assert.False(t, IsPermanent(wrapped))
}

func TestRetryableError_NoDelay(t *testing.T) {
	wrapped := Retryable(errors.New("flaky"))

	_, ok := RetryDelay(wrapped)
	assert.False(t, ok)
	assert.Contains(t, wrapped.Error(), "retryable")
	assert.False(t, IsPermanent(wrapped))
}

func TestIsLeaseRace(t *testing.T) {
	assert.True(t, IsLeaseRace(ErrLeaseExpired))
	assert.True(t, IsLeaseRace(ErrJobCanceled))
	assert.True(t, IsLeaseRace(fmt.Errorf("ack: %w", ErrJobAlreadyTerminal)))
	assert.False(t, IsLeaseRace(ErrInvalidLeaseToken))
	assert.False(t, IsLeaseRace(ErrJobNotFound))
	assert.False(t, IsLeaseRace(nil))
}

func TestErrorVariables(t *testing.T) {
	assert.Contains(t, ErrJobNotFound.Error(), "not found")
	assert.Contains(t, ErrInvalidLeaseToken.Error(), "lease token")
	assert.Contains(t, ErrPayloadTooLarge.Error(), "size limit")
	assert.Contains(t, ErrInvalidJobTypeName.Error(), "invalid job type name")
	assert.NotEqual(t, ErrLeaseExpired, ErrInvalidLeaseToken)
}
