package nvmeuq

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewQueueError("SUBMIT_REQUEST", 0, 1, ErrCodeOversizedTransfer, "transfer exceeds PRP list capacity")

	assert.Equal(t, "SUBMIT_REQUEST", err.Op)
	assert.Equal(t, ErrCodeOversizedTransfer, err.Code)
	assert.Equal(t, "nvmeuq: transfer exceeds PRP list capacity (op=SUBMIT_REQUEST)", err.Error())
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("CREATE_IO_USER_QUEUE", syscall.ENOENT)

	assert.Equal(t, ErrCodeDeviceNotFound, err.Code)
	assert.Equal(t, syscall.ENOENT, err.Errno)
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	assert.Nil(t, WrapError("ANY", nil))
}

func TestSentinelErrorsMatchViaErrorsIs(t *testing.T) {
	var sentinel error = ErrDeviceNotFound
	structured := &Error{Queue: -1, Code: ErrCodeDeviceNotFound}

	assert.ErrorIs(t, structured, sentinel)
	assert.Equal(t, "nvmeuq: device not found", sentinel.Error())

	wrapped := WrapError("TEST_OP", syscall.ENOENT)
	assert.ErrorIs(t, wrapped, ErrDeviceNotFound)
}

func TestIsCode(t *testing.T) {
	err := NewError("POLL", ErrCodeTimeout, "admin command timed out")

	assert.True(t, IsCode(err, ErrCodeTimeout))
	assert.False(t, IsCode(err, ErrCodeTransport))
	assert.False(t, IsCode(nil, ErrCodeTimeout))
}

func TestIsErrno(t *testing.T) {
	err := WrapError("TEST", syscall.EIO)

	assert.True(t, IsErrno(err, syscall.EIO))
	assert.False(t, IsErrno(err, syscall.EPERM))
	assert.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOENT, ErrCodeDeviceNotFound},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.E2BIG, ErrCodeInvalidParameters},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ENOMEM, ErrCodeOversizedTransfer},
		{syscall.EIO, ErrCodeTransport},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, mapErrnoToCode(tc.errno), "errno=%v", tc.errno)
	}
}

func TestWrapErrorPreservesStructuredErrorContext(t *testing.T) {
	inner := NewQueueError("SUBMIT_REQUEST", 3, 7, ErrCodeUnsupportedOpcode, "opcode 0x9 not supported")
	wrapped := WrapError("RETRY", inner)

	assert.Equal(t, "RETRY", wrapped.Op)
	assert.Equal(t, 3, wrapped.DevID)
	assert.Equal(t, 7, wrapped.Queue)
	assert.Equal(t, ErrCodeUnsupportedOpcode, wrapped.Code)
}
