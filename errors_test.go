package spltransfer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerErrorMatchesByCode(t *testing.T) {
	err := NewLedgerError(ErrCodeInvalidResourceState, "owner mismatch", map[string]interface{}{"address": "x"})
	wrapped := fmt.Errorf("ensure destination: %w", err)

	assert.ErrorIs(t, wrapped, ErrInvalidResourceState)
	assert.NotErrorIs(t, wrapped, ErrResourceNotFound)
	assert.Equal(t, ErrCodeInvalidResourceState, ErrorCode(wrapped))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
}

func TestLedgerErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapLedgerError(ErrCodeTransport, "rpc call failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsRetryable(t *testing.T) {
	timeout := WrapLedgerError(ErrCodeProvisioningTimeout, "gave up", WrapLedgerError(ErrCodeRetryExhausted, "10 attempts", nil))

	assert.True(t, IsRetryable(timeout))
	assert.ErrorIs(t, timeout, ErrRetryExhausted)
	assert.False(t, IsRetryable(ErrOutcomeUnknown))
	assert.False(t, IsRetryable(ErrInvalidResourceState))
}

func TestIsAbsent(t *testing.T) {
	assert.True(t, isAbsent(ErrResourceNotFound))
	assert.True(t, isAbsent(fmt.Errorf("read: %w", ErrInvalidOwner)))
	assert.False(t, isAbsent(ErrTransport))
	assert.False(t, isAbsent(nil))
}
